package trial

import "time"

// Limit is the fixed number of free premium-format exports per user
const Limit = 5

// Usage tracks how many free exports a user has consumed. UsedCount only ever
// increases; the row is created lazily on the first consuming check.
type Usage struct {
	UserID    string    `json:"userId" gorm:"primaryKey"`
	UsedCount int       `json:"usedCount"`
	UpdatedAt time.Time `json:"updatedAt"`
}
