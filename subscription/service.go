package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"

	resp "github.com/studysnap/billing/response"
	"github.com/studysnap/billing/webhook"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// ServiceOptions contains the configuration for the webhook Service router
type ServiceOptions struct {
	Reconciler    *Reconciler
	SigningSecret string
	Logger        *zap.Logger
}

// Service is the payment processor webhook router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the webhook router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Reconciler == nil {
		return nil, fmt.Errorf("nil Reconciler is invalid")
	}
	if len(option.SigningSecret) == 0 {
		return nil, fmt.Errorf("empty SigningSecret is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

type webhookAck struct {
	Received bool `json:"received"`
}

func (s *Service) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// the signature covers the exact bytes on the wire, so the body must be
	// consumed raw before any JSON decoding
	rawBody, err := ioutil.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unable to read request body"))
		return
	}

	if !webhook.Verify(rawBody, r.Header.Get("X-Signature"), s.SigningSecret) {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid webhook signature"))
		return
	}

	var evt Event
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	if err := s.Reconciler.Reconcile(ctx, evt); err != nil {
		var invalid *InvalidEventError
		if errors.As(err, &invalid) {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(invalid.Reason))
			return
		}
		s.Logger.Error("Unable to reconcile webhook event",
			zap.String("EventType", evt.EventType),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	// the processor expects a bare acknowledgement, not our response envelope
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(webhookAck{Received: true})
}

// Router will return the routes under the webhook API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.handleEvent)

	return r
}
