package subscription

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
)

// PlanAttributes is the externally visible billing state of a user. It is a
// cached projection of Subscription state, repopulated only by the Reconciler;
// the Subscription rows remain the source of truth.
type PlanAttributes struct {
	Plan              string
	Status            Status
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  string
}

// PlanProjector is the write side of the plan read model
type PlanProjector interface {
	SetPlan(ctx context.Context, userID string, attrs PlanAttributes) error
}

// PlanReader is the read side, used by the trial meter and any other system
// that needs a fast entitlement check
type PlanReader interface {
	GetPlan(ctx context.Context, userID string) (string, error)
}

// RedisProjector keeps the plan projection in a Redis hash per user
type RedisProjector struct {
	Redis redis.UniversalClient
}

var _ PlanProjector = &RedisProjector{}
var _ PlanReader = &RedisProjector{}

func planKey(userID string) string {
	return fmt.Sprintf("billing:plan:%s", userID)
}

// SetPlan overwrites the projected attributes for the user
func (p *RedisProjector) SetPlan(ctx context.Context, userID string, attrs PlanAttributes) error {
	if err := p.Redis.HSet(planKey(userID),
		"plan", attrs.Plan,
		"status", string(attrs.Status),
		"cancel_at_period_end", fmt.Sprintf("%t", attrs.CancelAtPeriodEnd),
		"current_period_end", attrs.CurrentPeriodEnd,
	).Err(); err != nil {
		return extErrors.Wrap(err, "Cannot project plan attributes")
	}
	return nil
}

// GetPlan returns the projected plan for the user, defaulting to free when the
// user has never been through reconciliation
func (p *RedisProjector) GetPlan(ctx context.Context, userID string) (string, error) {
	plan, err := p.Redis.HGet(planKey(userID), "plan").Result()
	if err == redis.Nil {
		return PlanFree, nil
	}
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot read plan attributes")
	}
	if len(plan) == 0 {
		return PlanFree, nil
	}
	return plan, nil
}
