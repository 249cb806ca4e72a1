package checkout

import "time"

// LockStatus is the custom type for the state of a checkout lock
type LockStatus string

// Defining the lock states
const (
	LockPending   LockStatus = "pending"
	LockCompleted LockStatus = "completed"
)

// LockTTL is how long an unclaimed checkout session stays exclusive before the
// janitor may reclaim it
const LockTTL = time.Minute * 15

// Lock is the ephemeral mutual exclusion record guarding checkout session
// creation. The partial unique index allows at most one pending row per
// (user, product); a conflicting insert losing the race is the concurrency
// primitive, not an in-process lock.
type Lock struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	UserID      string     `json:"userId" gorm:"index:idx_locks_one_pending,unique,where:status = 'pending',priority:1"`
	ProductID   string     `json:"productId" gorm:"index:idx_locks_one_pending,unique,where:status = 'pending',priority:2"`
	Status      LockStatus `json:"status"`
	CheckoutURL string     `json:"checkoutUrl"` // empty until the processor call returns
	ExpiresAt   time.Time  `json:"expiresAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Expired reports whether the lock is past its expiry relative to now
func (l *Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
