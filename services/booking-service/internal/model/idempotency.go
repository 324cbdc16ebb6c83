package model

import "time"

// Operations an Idempotency-Key can be bound to.
const (
	OperationReserve = "reserve"
	OperationBook    = "book"
)

// MaxIdempotencyKeyLen bounds client supplied keys.
const MaxIdempotencyKeyLen = 255

// IdempotencyRetention is how long a finished request is remembered.
const IdempotencyRetention = 24 * time.Hour

// IdempotencyRecord is the stored outcome of a request made with an
// Idempotency-Key. Payload is the JSON encoded Hold or Booking it created.
type IdempotencyRecord struct {
	TenantID   string
	Key        string
	Operation  string
	ResourceID string
	Payload    []byte
	CreatedAt  time.Time
}
