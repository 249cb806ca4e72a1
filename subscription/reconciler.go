package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/studysnap/billing/broker"
	"github.com/studysnap/billing/customer"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// InvalidEventError marks a webhook event that cannot be applied because it is
// missing required identifiers. The webhook service turns it into HTTP 400.
type InvalidEventError struct {
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event: %s", e.Reason)
}

// LockCompleter marks pending checkout locks completed once the processor
// confirms the purchase. Implemented by checkout.Manager.
type LockCompleter interface {
	CompletePending(ctx context.Context, userID, productID string) error
}

// ReconcilerOptions contains the dependencies for the Reconciler
type ReconcilerOptions struct {
	CustomerManager     *customer.Manager
	SubscriptionManager *Manager
	Locks               LockCompleter
	Projector           PlanProjector
	Publisher           broker.Publisher // optional, nil disables beacons
	Logger              *zap.Logger
}

// Reconciler applies payment processor lifecycle events to persisted state.
// It must only be invoked after webhook signature verification.
type Reconciler struct {
	ReconcilerOptions
}

// NewReconciler validates the options and returns a Reconciler
func NewReconciler(option ReconcilerOptions) (*Reconciler, error) {
	if option.CustomerManager == nil {
		return nil, fmt.Errorf("nil CustomerManager is invalid")
	}
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Locks == nil {
		return nil, fmt.Errorf("nil Locks is invalid")
	}
	if option.Projector == nil {
		return nil, fmt.Errorf("nil Projector is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Reconciler{
		ReconcilerOptions: option,
	}, nil
}

// Reconcile applies one event. Unrecognized event types are acknowledged
// without mutation. Applying the same event any number of times produces the
// same final state: every write is a full-overwrite upsert.
func (r *Reconciler) Reconcile(ctx context.Context, evt Event) error {
	if !recognizedEventTypes[evt.EventType] {
		r.Logger.Info("Ignoring unrecognized event type",
			zap.String("EventType", evt.EventType),
		)
		return nil
	}

	// a checkout object embeds its subscription; lifecycle events carry the
	// subscription directly
	sub := &evt.Object
	if evt.EventType == EventCheckoutCompleted && evt.Object.Subscription != nil {
		sub = evt.Object.Subscription
	}

	if len(sub.ID) == 0 {
		return &InvalidEventError{Reason: "missing subscription id"}
	}

	externalCustomerID, email := refID(sub.Customer)
	if len(externalCustomerID) == 0 {
		externalCustomerID, email = refID(evt.Object.Customer)
	}
	if len(externalCustomerID) == 0 {
		return &InvalidEventError{Reason: "missing customer id"}
	}

	productID, _ := refID(sub.Product)
	if len(productID) == 0 {
		productID, _ = refID(evt.Object.Product)
	}
	if len(productID) == 0 {
		return &InvalidEventError{Reason: "missing product id"}
	}

	userID, err := r.resolveUserID(ctx, sub, &evt.Object, externalCustomerID)
	if err != nil {
		return err
	}

	logger := r.Logger.With(
		zap.String("EventType", evt.EventType),
		zap.String("UserID", userID),
		zap.String("SubscriptionID", sub.ID),
	)

	cancelAtPeriodEnd := deriveCancelFlag(evt.EventType, sub)

	if err := r.CustomerManager.Upsert(ctx, &customer.Customer{
		UserID:             userID,
		ExternalCustomerID: externalCustomerID,
		Email:              email,
	}); err != nil {
		return extErrors.Wrap(err, "Cannot reconcile customer")
	}

	if err := r.SubscriptionManager.Upsert(ctx, &Subscription{
		ID:                sub.ID,
		UserID:            userID,
		ProductID:         productID,
		Status:            sub.Status,
		CurrentPeriodEnd:  parsePeriodEnd(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd: cancelAtPeriodEnd,
	}); err != nil {
		return extErrors.Wrap(err, "Cannot reconcile subscription")
	}

	// best-effort: entitlement does not depend on the lock being closed
	if err := r.Locks.CompletePending(ctx, userID, productID); err != nil {
		logger.Error("Unable to complete pending checkout lock",
			zap.Error(err),
		)
	}

	// checkout.completed only records identifiers; the grant happens on the
	// subsequent lifecycle event
	if evt.EventType == EventCheckoutCompleted {
		return nil
	}

	plan := PlanFree
	if ResolvePlusAccess(sub.Status, cancelAtPeriodEnd, sub.CurrentPeriodEnd) {
		plan = PlanPlus
	}
	if err := r.Projector.SetPlan(ctx, userID, PlanAttributes{
		Plan:              plan,
		Status:            sub.Status,
		CancelAtPeriodEnd: cancelAtPeriodEnd,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
	}); err != nil {
		return extErrors.Wrap(err, "Cannot project plan attributes")
	}

	logger.Info("Reconciled subscription state",
		zap.String("Plan", plan),
		zap.String("Status", string(sub.Status)),
	)

	if r.Publisher != nil {
		if err := r.Publisher.PublishBillingEvent(ctx, broker.BillingEvent{
			UserID:     userID,
			EventType:  evt.EventType,
			Plan:       plan,
			OccurredAt: time.Now(),
		}); err != nil {
			logger.Error("Unable to publish billing beacon",
				zap.Error(err),
			)
		}
	}

	return nil
}

func (r *Reconciler) resolveUserID(ctx context.Context, sub, obj *EventObject, externalCustomerID string) (string, error) {
	if uid := sub.UserID(); len(uid) > 0 {
		return uid, nil
	}
	if uid := obj.UserID(); len(uid) > 0 {
		return uid, nil
	}
	cust, err := r.CustomerManager.GetByExternalID(ctx, externalCustomerID)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot resolve owning user")
	}
	if cust == nil {
		return "", &InvalidEventError{Reason: "cannot resolve owning user"}
	}
	return cust.UserID, nil
}

// deriveCancelFlag prefers the processor provided flag and otherwise infers
// cancellation intent from the event shape
func deriveCancelFlag(eventType string, sub *EventObject) bool {
	if sub.CancelAtPeriodEnd != nil {
		return *sub.CancelAtPeriodEnd
	}
	if eventType == EventSubscriptionScheduledCancel {
		return true
	}
	if sub.Status == StatusScheduledCancel {
		return true
	}
	if len(sub.CanceledAt) > 0 && sub.Status != StatusCanceled {
		return true
	}
	return false
}

func parsePeriodEnd(raw string) *time.Time {
	if len(raw) == 0 {
		return nil
	}
	end, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &end
}

func refID(ref *EventRef) (id, email string) {
	if ref == nil {
		return "", ""
	}
	return ref.ID, ref.Email
}
