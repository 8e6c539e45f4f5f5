package domain

import "time"

// EventType is the canonical delivery lifecycle event classification.
type EventType string

const (
	EventDelivered  EventType = "delivered"
	EventBounced    EventType = "bounced"
	EventComplained EventType = "complained"
	EventOpened     EventType = "opened"
	EventClicked    EventType = "clicked"
	EventFailed     EventType = "failed"
)

// Valid reports whether t is a known canonical event type.
func (t EventType) Valid() bool {
	switch t {
	case EventDelivered, EventBounced, EventComplained, EventOpened, EventClicked, EventFailed:
		return true
	}
	return false
}

// DeliveryEvent is the normalized form of a provider webhook event.
// Immutable once created; the sole input to the event processor.
type DeliveryEvent struct {
	ProviderMessageID string    `json:"provider_message_id"`
	TenantID          string    `json:"tenant_id,omitempty"`
	EmailAddress      string    `json:"email_address"`
	EventType         EventType `json:"event_type"`
	Reason            string    `json:"reason,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
	RawProviderName   string    `json:"raw_provider_name"`
}

// DedupKey identifies an event for idempotent application. Providers do not
// guarantee at-most-once webhook delivery, so the processor short-circuits
// on a repeated key.
func (e DeliveryEvent) DedupKey() string {
	return e.ProviderMessageID + ":" + string(e.EventType)
}
