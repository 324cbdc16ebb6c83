package outbox

import "encoding/json"

// Event types published by the booking service. The Kafka topic name equals
// the event type.
const (
	TypeHoldCreated        = "booking.hold.created.v1"
	TypeBookingConfirmed   = "booking.appointment.confirmed.v1"
	TypeBookingCancelled   = "booking.appointment.cancelled.v1"
	TypeStatusChanged      = "booking.appointment.status_changed.v1"
	TypeBookingRescheduled = "booking.appointment.rescheduled.v1"
	TypeHoldsReaped        = "booking.holds.reaped.v1"
)

const (
	AggregateBooking = "booking"
	AggregateTenant  = "tenant"
)

// Event is the domain event envelope written to the outbox table in the same
// transaction as the change it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	TenantID      string
	EventType     string
	Payload       []byte
}

// NewEvent marshals payload as JSON.
func NewEvent(eventType, aggregateType, aggregateID, tenantID string, payload map[string]any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		TenantID:      tenantID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
