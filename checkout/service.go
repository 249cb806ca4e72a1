package checkout

import (
	"fmt"
	"net/http"

	"github.com/studysnap/billing/auth"
	"github.com/studysnap/billing/customer"
	resp "github.com/studysnap/billing/response"
	"github.com/studysnap/billing/subscription"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	SubscriptionManager *subscription.Manager
	CustomerManager     *customer.Manager
	LockManager         *Manager
	Sessions            SessionAPI
	ProductID           string
	SuccessURL          string
	CancelURL           string
	PortalReturnURL     string
	Logger              *zap.Logger
}

// Service is the checkout API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the checkout API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.CustomerManager == nil {
		return nil, fmt.Errorf("nil CustomerManager is invalid")
	}
	if option.LockManager == nil {
		return nil, fmt.Errorf("nil LockManager is invalid")
	}
	if option.Sessions == nil {
		return nil, fmt.Errorf("nil Sessions is invalid")
	}
	if len(option.ProductID) == 0 {
		return nil, fmt.Errorf("empty ProductID is invalid")
	}
	if len(option.SuccessURL) == 0 {
		return nil, fmt.Errorf("empty SuccessURL is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

type portalResponse struct {
	CustomerPortalLink string `json:"customer_portal_link"`
}

type sweepResponse struct {
	Deleted int64 `json:"deleted"`
}

// createSession is the orchestrator for checkout session creation. For a given
// (user, product) at most one processor call is in flight at a time, and
// concurrent callers converge on the same checkout url once it exists.
func (s *Service) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(
		zap.String("UserID", claims.ID),
		zap.String("ProductID", s.ProductID),
	)

	// short-circuit duplicate purchases before touching the lock
	current, err := s.SubscriptionManager.GetCurrentForProduct(ctx, claims.ID, s.ProductID)
	if err != nil {
		logger.Error("Unable to query current subscription",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if current != nil {
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Already subscribed"))
		return
	}

	// idempotent retry: a pending lock with a url means a previous request
	// already finished the processor call
	pending, err := s.LockManager.GetPending(ctx, claims.ID, s.ProductID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if pending != nil {
		if len(pending.CheckoutURL) > 0 {
			resp.WriteResponse(w, r, checkoutResponse{CheckoutURL: pending.CheckoutURL})
			return
		}
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Checkout in progress"))
		return
	}

	lock, created, err := s.LockManager.Acquire(ctx, claims.ID, s.ProductID)
	if err != nil {
		logger.Error("Unable to acquire checkout lock",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if !created {
		// lost the insert race
		if len(lock.CheckoutURL) > 0 {
			resp.WriteResponse(w, r, checkoutResponse{CheckoutURL: lock.CheckoutURL})
			return
		}
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Checkout in progress"))
		return
	}

	checkoutURL, err := s.Sessions.CreateCheckoutSession(ctx, SessionOptions{
		UserID:         claims.ID,
		Email:          claims.Email,
		ProductID:      s.ProductID,
		SuccessURL:     s.SuccessURL,
		CancelURL:      s.CancelURL,
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		// leave the lock pending; the webhook will complete it, or the
		// janitor will sweep it after expiry
		logger.Error("Processor rejected checkout session",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unable to create checkout session").AddMessages(err.Error()))
		return
	}

	if err := s.LockManager.SetCheckoutURL(ctx, lock.ID, checkoutURL); err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, checkoutResponse{CheckoutURL: checkoutURL})
}

func (s *Service) portalLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	cust, err := s.CustomerManager.GetByUserID(ctx, claims.ID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if cust == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No billing profile for this user"))
		return
	}

	link, err := s.Sessions.CreatePortalSession(ctx, cust.ExternalCustomerID, s.PortalReturnURL)
	if err != nil {
		logger.Error("Unable to create portal session",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to create portal session"))
		return
	}

	resp.WriteResponse(w, r, portalResponse{CustomerPortalLink: link})
}

func (s *Service) sweep(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.LockManager.SweepExpired(r.Context())
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	resp.WriteResponse(w, r, sweepResponse{Deleted: deleted})
}

// Router will return the authenticated routes under the checkout API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/checkout", s.createSession)
	r.Post("/portal", s.portalLink)

	return r
}

// SweepRouter will return the unauthenticated janitor route, invoked by the
// scheduler rather than end users
func (s *Service) SweepRouter() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.sweep)

	return r
}
