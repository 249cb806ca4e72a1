package account

import "time"

// User describes an extension user. The ID is what ends up in JWT claims and
// in the payment processor's metadata as user_id.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex"`
	CreatedAt time.Time `json:"createdAt"`
}
