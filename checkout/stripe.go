package checkout

import (
	"context"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// SessionOptions carries everything the processor needs to open a checkout
// session for one user and product
type SessionOptions struct {
	UserID         string
	Email          string
	ProductID      string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// SessionAPI is the narrow port to the payment processor's hosted surfaces.
// The orchestrator only ever needs these two calls, and tests swap in a fake.
type SessionAPI interface {
	CreateCheckoutSession(ctx context.Context, opt SessionOptions) (string, error)
	CreatePortalSession(ctx context.Context, externalCustomerID, returnURL string) (string, error)
}

// StripeSessionAPI implements SessionAPI against Stripe
type StripeSessionAPI struct {
	Client *client.API
}

var _ SessionAPI = &StripeSessionAPI{}

// CreateCheckoutSession opens a subscription-mode checkout session. The
// user_id metadata is what lets the reconciler attribute webhook events back
// to our user without a customer lookup.
func (s *StripeSessionAPI) CreateCheckoutSession(ctx context.Context, opt SessionOptions) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(opt.IdempotencyKey),
			Metadata: map[string]string{
				"user_id": opt.UserID,
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(opt.SuccessURL),
		CancelURL:         stripe.String(opt.CancelURL),
		ClientReferenceID: stripe.String(opt.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(opt.ProductID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"user_id": opt.UserID,
			},
		},
	}
	if len(opt.Email) > 0 {
		params.CustomerEmail = stripe.String(opt.Email)
	}

	sess, err := s.Client.CheckoutSessions.New(params)
	if err != nil {
		return "", err
	}
	if len(sess.URL) == 0 {
		return "", extErrors.New("Processor returned a session without a checkout url")
	}
	return sess.URL, nil
}

// CreatePortalSession opens a billing portal session for an existing customer
func (s *StripeSessionAPI) CreatePortalSession(ctx context.Context, externalCustomerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Customer:  stripe.String(externalCustomerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := s.Client.BillingPortalSessions.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}
