package models

import "time"

// EventType represents the type of a domain event
type EventType string

const (
	// Domain events emitted by the ledger, order service and payment engine
	EventStockThreshold  EventType = "stock_threshold_crossed"
	EventOrderConfirmed  EventType = "order_confirmed"
	EventOrderReady      EventType = "order_ready"
	EventOrderCancelled  EventType = "order_cancelled"
	EventPaymentSettled  EventType = "payment_settled"
	EventPaymentFailed   EventType = "payment_failed"
	EventPaymentExpired  EventType = "payment_expired"
)

// Event is an outbound domain event handed to the dispatcher boundary.
// The core never calls delivery transports directly.
type Event struct {
	Type       EventType              `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType, metadata map[string]interface{}) Event {
	return Event{
		Type:       eventType,
		OccurredAt: time.Now(),
		Metadata:   metadata,
	}
}
