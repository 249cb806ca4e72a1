package trial

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/studysnap/billing/auth"
	resp "github.com/studysnap/billing/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	TrialManager *Manager
	Logger       *zap.Logger
}

// Service is the trial API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the trial API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.TrialManager == nil {
		return nil, fmt.Errorf("nil TrialManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// CheckRequest is the model of the extension's trial check. consume == false
// is a dry run that never mutates the counter.
type CheckRequest struct {
	Consume bool `json:"consume"`
}

func (s *Service) check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	result, err := s.TrialManager.Check(ctx, claims.ID, req.Consume)
	if err != nil {
		s.Logger.Error("Unable to check trial quota",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, result)
}

// Router will return the routes under trial API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.check)

	return r
}
