package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// ReservedClientName marks a pending booking row that is a widget hold rather
// than a real client booking.
const ReservedClientName = "RESERVED"

const (
	CancelledByClient = "client"
	CancelledByTenant = "tenant"
	CancelledByExpiry = "expiry"
)

type Booking struct {
	ID          string
	TenantID    string
	ServiceID   string
	VariantID   string
	StaffID     string
	ClientName  string
	ClientPhone string
	ClientEmail string
	Notes       string
	StartTime   time.Time
	EndTime     time.Time
	PriceCents  int64
	Status      Status
	ExpiresAt   *time.Time
	CancelToken string
	CancelledAt *time.Time
	CancelledBy string
	CreatedAt   time.Time

	// SessionToken is set on sentinel hold rows.
	SessionToken   string
	// IdempotencyKey is the client retry key of the request that created the
	// booking. It is recorded separately, not on the booking row.
	IdempotencyKey string `json:"-"`
}

// IsHold reports whether b is the sentinel pending row used as a hold.
func (b Booking) IsHold() bool {
	return b.Status == StatusPending && b.ClientName == ReservedClientName && b.ExpiresAt != nil
}

// IsReclaimedHold reports whether b is a sentinel hold that expired and was
// cancelled by a sweep or by a later claim on its interval.
func (b Booking) IsReclaimedHold() bool {
	return b.Status == StatusCancelled && b.ClientName == ReservedClientName &&
		b.CancelledBy == CancelledByExpiry && b.ExpiresAt != nil
}

// Hold is a time-limited claim on a staff interval with no client attached.
type Hold struct {
	ID           string
	TenantID     string
	StaffID      string
	ServiceID    string
	VariantID    string
	StartTime    time.Time
	EndTime      time.Time
	ExpiresAt    time.Time
	SessionToken string
	PriceCents   int64
	CreatedAt    time.Time

	// Reclaimed is set when the hold expired and has already been released.
	Reclaimed      bool
	// IdempotencyKey is the client retry key of the reserve request.
	IdempotencyKey string `json:"-"`
}

// Expired is true once now is strictly after ExpiresAt.
func (h Hold) Expired(now time.Time) bool {
	return now.After(h.ExpiresAt)
}

// Client is the identity attached to a hold when it is confirmed.
type Client struct {
	Name  string
	Phone string
	Email string
	Notes string
}

// Interval is one occupied span on a staff calendar. ExpiresAt is set for
// holds; expired holds are not occupying.
type Interval struct {
	Start     time.Time
	End       time.Time
	ExpiresAt *time.Time
}

// Live reports whether the interval still occupies the calendar at now.
func (i Interval) Live(now time.Time) bool {
	return i.ExpiresAt == nil || !now.After(*i.ExpiresAt)
}

// ReapResult counts what one sweep removed: dedicated holds deleted and
// sentinel pending bookings cancelled.
type ReapResult struct {
	HoldsDeleted      int
	BookingsCancelled int
}

func (r ReapResult) Total() int { return r.HoldsDeleted + r.BookingsCancelled }
