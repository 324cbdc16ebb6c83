package model

import "time"

// HoldConfirmation promotes a hold to a confirmed booking if the hold is
// still unexpired at Now.
type HoldConfirmation struct {
	HoldID      string
	TenantID    string
	Client      Client
	CancelToken string
	Now         time.Time
}

// StatusChange moves a booking from From to To. It only applies while the
// stored status still equals From.
type StatusChange struct {
	TenantID    string
	BookingID   string
	From        Status
	To          Status
	CancelledBy string
	At          time.Time
}

// BookingMove moves a booking to a new interval on the same staff calendar.
type BookingMove struct {
	TenantID  string
	BookingID string
	Start     time.Time
	End       time.Time
	Now       time.Time
}
