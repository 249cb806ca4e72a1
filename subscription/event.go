package subscription

import "encoding/json"

// Defining the event types delivered by the payment processor's webhook
const (
	EventCheckoutCompleted          string = "checkout.completed"
	EventSubscriptionActive                = "subscription.active"
	EventSubscriptionTrialing              = "subscription.trialing"
	EventSubscriptionPaid                  = "subscription.paid"
	EventSubscriptionCanceled              = "subscription.canceled"
	EventSubscriptionScheduledCancel       = "subscription.scheduled_cancel"
	EventSubscriptionExpired               = "subscription.expired"
	EventSubscriptionUnpaid                = "subscription.unpaid"
	EventSubscriptionPastDue               = "subscription.past_due"
	EventSubscriptionPaused                = "subscription.paused"
	EventSubscriptionUpdate                = "subscription.update"
	EventSubscriptionUpdated               = "subscription.updated"
)

var recognizedEventTypes = map[string]bool{
	EventCheckoutCompleted:           true,
	EventSubscriptionActive:          true,
	EventSubscriptionTrialing:        true,
	EventSubscriptionPaid:            true,
	EventSubscriptionCanceled:        true,
	EventSubscriptionScheduledCancel: true,
	EventSubscriptionExpired:         true,
	EventSubscriptionUnpaid:          true,
	EventSubscriptionPastDue:         true,
	EventSubscriptionPaused:          true,
	EventSubscriptionUpdate:          true,
	EventSubscriptionUpdated:         true,
}

// Event is the webhook envelope. Object is a checkout for checkout.completed
// and a subscription otherwise; a checkout embeds its subscription.
type Event struct {
	ID        string      `json:"id"`
	EventType string      `json:"eventType"`
	Object    EventObject `json:"object"`
}

// EventObject carries the fields of either a checkout or a subscription. Only
// the fields the reconciler acts on are decoded.
type EventObject struct {
	ID                string            `json:"id"`
	Status            Status            `json:"status,omitempty"`
	CurrentPeriodEnd  string            `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd *bool             `json:"cancel_at_period_end,omitempty"`
	CanceledAt        string            `json:"canceled_at,omitempty"`
	Customer          *EventRef         `json:"customer,omitempty"`
	Product           *EventRef         `json:"product,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Subscription      *EventObject      `json:"subscription,omitempty"` // set on checkout objects
}

// EventRef is a reference to a nested processor object. The processor sends
// either a bare id string or an expanded object, depending on the event.
type EventRef struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

func (r *EventRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	type ref EventRef
	var expanded ref
	if err := json.Unmarshal(data, &expanded); err != nil {
		return err
	}
	*r = EventRef(expanded)
	return nil
}

// UserID returns the owning user id attached as metadata at checkout time, if
// any
func (o *EventObject) UserID() string {
	if o == nil || o.Metadata == nil {
		return ""
	}
	return o.Metadata["user_id"]
}
