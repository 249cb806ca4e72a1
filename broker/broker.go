package broker

import (
	"context"
	"time"
)

// BillingEvent is the fire-and-forget beacon emitted after reconciliation for
// the analytics pipeline. Delivery is best effort and carries no correctness
// requirements.
type BillingEvent struct {
	UserID     string    `json:"userId"`
	EventType  string    `json:"eventType"`
	Plan       string    `json:"plan"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher defines the interface for publishing beacons via message broker
type Publisher interface {
	Close()
	PublishBillingEvent(ctx context.Context, evt BillingEvent) error
}
