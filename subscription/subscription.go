package subscription

import "time"

// Status is the custom type for the lifecycle state of a subscription, as
// reported by the payment processor
type Status string

// Defining the possible lifecycle states
const (
	StatusActive          Status = "active"
	StatusTrialing        Status = "trialing"
	StatusCanceled        Status = "canceled"
	StatusScheduledCancel Status = "scheduled_cancel"
	StatusExpired         Status = "expired"
	StatusUnpaid          Status = "unpaid"
	StatusPastDue         Status = "past_due"
	StatusPaused          Status = "paused"
)

// Plan values projected for fast reads by other systems
const (
	PlanPlus string = "plus"
	PlanPro  string = "pro"
	PlanFree string = "free"
)

// Subscription mirrors one billing subscription on the payment processor. The
// processor is the source of truth: rows are full-state overwrites keyed on
// the processor's subscription id, so replays and out-of-order deliveries
// converge on the last applied event.
type Subscription struct {
	ID                string     `json:"id" gorm:"primaryKey"` // the processor's subscription id
	UserID            string     `json:"userId" gorm:"index"`
	ProductID         string     `json:"productId"`
	Status            Status     `json:"status"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}
