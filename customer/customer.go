package customer

import "time"

// Customer maps a user to the payment processor's customer object. One row per
// user; the external id is assigned by the processor on first checkout or
// lifecycle event.
type Customer struct {
	UserID             string    `json:"userId" gorm:"primaryKey"`
	ExternalCustomerID string    `json:"externalCustomerId" gorm:"uniqueIndex"`
	Email              string    `json:"email"`
	UpdatedAt          time.Time `json:"updatedAt"`
}
