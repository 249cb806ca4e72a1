package subscription

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/studysnap/billing/customer"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq int64

func testDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:subscription%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

type memProjector struct {
	plans map[string]PlanAttributes
	calls int
}

func newMemProjector() *memProjector {
	return &memProjector{plans: make(map[string]PlanAttributes)}
}

func (m *memProjector) SetPlan(ctx context.Context, userID string, attrs PlanAttributes) error {
	m.calls++
	m.plans[userID] = attrs
	return nil
}

func (m *memProjector) GetPlan(ctx context.Context, userID string) (string, error) {
	attrs, ok := m.plans[userID]
	if !ok {
		return PlanFree, nil
	}
	return attrs.Plan, nil
}

type fakeLocks struct {
	completed []string
}

func (f *fakeLocks) CompletePending(ctx context.Context, userID, productID string) error {
	f.completed = append(f.completed, userID+"/"+productID)
	return nil
}

func newTestReconciler(t *testing.T, db *gorm.DB) (*Reconciler, *customer.Manager, *memProjector, *fakeLocks) {
	logger := zap.NewNop()

	customerManager, err := customer.NewManager(logger, db)
	require.NoError(t, err)

	subscriptionManager, err := NewManager(logger, db)
	require.NoError(t, err)

	projector := newMemProjector()
	locks := &fakeLocks{}

	r, err := NewReconciler(ReconcilerOptions{
		CustomerManager:     customerManager,
		SubscriptionManager: subscriptionManager,
		Locks:               locks,
		Projector:           projector,
		Logger:              logger,
	})
	require.NoError(t, err)

	return r, customerManager, projector, locks
}

func activeEvent(userID string) Event {
	periodEnd := time.Now().Add(time.Hour * 24 * 30).Format(time.RFC3339)
	return Event{
		ID:        "evt_1",
		EventType: EventSubscriptionActive,
		Object: EventObject{
			ID:               "sub_1",
			Status:           StatusActive,
			CurrentPeriodEnd: periodEnd,
			Customer:         &EventRef{ID: "cus_1", Email: "student@example.com"},
			Product:          &EventRef{ID: "prod_plus"},
			Metadata:         map[string]string{"user_id": userID},
		},
	}
}

func TestReconcileActiveGrantsPlus(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r, _, projector, locks := newTestReconciler(t, db)

	require.NoError(t, r.Reconcile(ctx, activeEvent("user_1")))

	var sub Subscription
	require.NoError(t, db.First(&sub, "id = ?", "sub_1").Error)
	require.Equal(t, "user_1", sub.UserID)
	require.Equal(t, "prod_plus", sub.ProductID)
	require.Equal(t, StatusActive, sub.Status)
	require.False(t, sub.CancelAtPeriodEnd)

	var cust customer.Customer
	require.NoError(t, db.First(&cust, "user_id = ?", "user_1").Error)
	require.Equal(t, "cus_1", cust.ExternalCustomerID)

	require.Equal(t, PlanPlus, projector.plans["user_1"].Plan)
	require.Equal(t, []string{"user_1/prod_plus"}, locks.completed)
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r, _, projector, _ := newTestReconciler(t, db)

	evt := activeEvent("user_1")
	require.NoError(t, r.Reconcile(ctx, evt))

	var first Subscription
	require.NoError(t, db.First(&first, "id = ?", "sub_1").Error)
	firstPlan := projector.plans["user_1"]

	// at-least-once delivery: the exact same event again
	require.NoError(t, r.Reconcile(ctx, evt))

	var count int64
	require.NoError(t, db.Model(&Subscription{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	var second Subscription
	require.NoError(t, db.First(&second, "id = ?", "sub_1").Error)
	require.Equal(t, first.Status, second.Status)
	require.Equal(t, first.UserID, second.UserID)
	require.Equal(t, first.CancelAtPeriodEnd, second.CancelAtPeriodEnd)
	require.Equal(t, firstPlan, projector.plans["user_1"])
}

func TestReconcileCheckoutCompletedDoesNotGrant(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r, _, projector, _ := newTestReconciler(t, db)

	evt := Event{
		EventType: EventCheckoutCompleted,
		Object: EventObject{
			ID:       "ch_1",
			Metadata: map[string]string{"user_id": "user_1"},
			Subscription: &EventObject{
				ID:       "sub_1",
				Status:   StatusActive,
				Customer: &EventRef{ID: "cus_1"},
				Product:  &EventRef{ID: "prod_plus"},
			},
		},
	}
	require.NoError(t, r.Reconcile(ctx, evt))

	// identifiers are recorded
	var sub Subscription
	require.NoError(t, db.First(&sub, "id = ?", "sub_1").Error)
	require.Equal(t, "user_1", sub.UserID)

	// but entitlement is only granted by the lifecycle event that follows
	require.Zero(t, projector.calls)
}

func TestReconcileFailsClosedOnMissingIdentifiers(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r, _, _, _ := newTestReconciler(t, db)

	missingCustomer := Event{
		EventType: EventSubscriptionActive,
		Object: EventObject{
			ID:       "sub_1",
			Status:   StatusActive,
			Product:  &EventRef{ID: "prod_plus"},
			Metadata: map[string]string{"user_id": "user_1"},
		},
	}
	err := r.Reconcile(ctx, missingCustomer)
	var invalid *InvalidEventError
	require.ErrorAs(t, err, &invalid)

	missingSubscription := Event{
		EventType: EventSubscriptionActive,
		Object: EventObject{
			Status:   StatusActive,
			Customer: &EventRef{ID: "cus_1"},
			Product:  &EventRef{ID: "prod_plus"},
		},
	}
	err = r.Reconcile(ctx, missingSubscription)
	require.ErrorAs(t, err, &invalid)

	var count int64
	require.NoError(t, db.Model(&Subscription{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestReconcileResolvesUserFromCustomerRecord(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r, customerManager, _, _ := newTestReconciler(t, db)

	require.NoError(t, customerManager.Upsert(ctx, &customer.Customer{
		UserID:             "user_9",
		ExternalCustomerID: "cus_9",
	}))

	evt := Event{
		EventType: EventSubscriptionCanceled,
		Object: EventObject{
			ID:       "sub_9",
			Status:   StatusCanceled,
			Customer: &EventRef{ID: "cus_9"},
			Product:  &EventRef{ID: "prod_plus"},
			// no metadata.user_id: must fall back to the customer mapping
		},
	}
	require.NoError(t, r.Reconcile(ctx, evt))

	var sub Subscription
	require.NoError(t, db.First(&sub, "id = ?", "sub_9").Error)
	require.Equal(t, "user_9", sub.UserID)
}

func TestReconcileUnrecognizedEventTypeIsNoOp(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r, _, projector, _ := newTestReconciler(t, db)

	require.NoError(t, r.Reconcile(ctx, Event{
		EventType: "invoice.finalized",
		Object:    EventObject{ID: "in_1"},
	}))

	var count int64
	require.NoError(t, db.Model(&Subscription{}).Count(&count).Error)
	require.Zero(t, count)
	require.Zero(t, projector.calls)
}

func TestReconcileScheduledCancelDerivesFlag(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r, _, projector, _ := newTestReconciler(t, db)

	evt := Event{
		EventType: EventSubscriptionScheduledCancel,
		Object: EventObject{
			ID:               "sub_2",
			Status:           StatusScheduledCancel,
			CurrentPeriodEnd: time.Now().Add(time.Hour * 24).Format(time.RFC3339),
			Customer:         &EventRef{ID: "cus_2"},
			Product:          &EventRef{ID: "prod_plus"},
			Metadata:         map[string]string{"user_id": "user_2"},
		},
	}
	require.NoError(t, r.Reconcile(ctx, evt))

	var sub Subscription
	require.NoError(t, db.First(&sub, "id = ?", "sub_2").Error)
	require.True(t, sub.CancelAtPeriodEnd)

	// still inside the paid period, so access persists
	require.Equal(t, PlanPlus, projector.plans["user_2"].Plan)
}

func TestReconcileStaleCanceledAtDerivesFlag(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r, _, _, _ := newTestReconciler(t, db)

	evt := Event{
		EventType: EventSubscriptionUpdated,
		Object: EventObject{
			ID:         "sub_3",
			Status:     StatusActive,
			CanceledAt: time.Now().Format(time.RFC3339),
			Customer:   &EventRef{ID: "cus_3"},
			Product:    &EventRef{ID: "prod_plus"},
			Metadata:   map[string]string{"user_id": "user_3"},
		},
	}
	require.NoError(t, r.Reconcile(ctx, evt))

	var sub Subscription
	require.NoError(t, db.First(&sub, "id = ?", "sub_3").Error)
	require.True(t, sub.CancelAtPeriodEnd)
}
