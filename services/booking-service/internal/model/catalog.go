package model

import (
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
)

type Staff struct {
	ID       string
	TenantID string
	Name     string
	Active   bool
}

type Service struct {
	ID              string
	TenantID        string
	Name            string
	DurationMinutes int
	BufferMinutes   int
	PriceCents      int64
	Active          bool
}

// Variant overrides the duration and/or price of its service when set.
type Variant struct {
	ID              string
	ServiceID       string
	Name            string
	DurationMinutes *int
	PriceCents      *int64
}

// Offering is what a client actually books: a service, optionally narrowed
// to a variant.
type Offering struct {
	ServiceID       string
	VariantID       string
	DurationMinutes int
	BufferMinutes   int
	PriceCents      int64
}

// TotalMinutes is the span the booking occupies on the staff calendar.
func (o Offering) TotalMinutes() int {
	return o.DurationMinutes + o.BufferMinutes
}

func ResolveOffering(svc Service, variant *Variant) Offering {
	o := Offering{
		ServiceID:       svc.ID,
		DurationMinutes: svc.DurationMinutes,
		BufferMinutes:   svc.BufferMinutes,
		PriceCents:      svc.PriceCents,
	}
	if variant != nil {
		o.VariantID = variant.ID
		if variant.DurationMinutes != nil {
			o.DurationMinutes = *variant.DurationMinutes
		}
		if variant.PriceCents != nil {
			o.PriceCents = *variant.PriceCents
		}
	}
	return o
}

// Schedule is one staff member's working hours for one weekday, in minutes
// since midnight. BreakStart and BreakEnd are both set or both nil.
type Schedule struct {
	StaffID     string
	Weekday     time.Weekday
	IsWorking   bool
	StartMinute int
	EndMinute   int
	BreakStart  *int
	BreakEnd    *int
}

func (s Schedule) Break() (start, end int, ok bool) {
	if s.BreakStart == nil || s.BreakEnd == nil {
		return 0, 0, false
	}
	return *s.BreakStart, *s.BreakEnd, true
}

func (s Schedule) Validate() error {
	if !s.IsWorking {
		return nil
	}
	if s.StartMinute < 0 || s.EndMinute > 24*60 || s.StartMinute >= s.EndMinute {
		return apperr.Validation("schedule start must be before end")
	}
	if (s.BreakStart == nil) != (s.BreakEnd == nil) {
		return apperr.Validation("break start and end must be set together")
	}
	if bs, be, ok := s.Break(); ok {
		if bs < s.StartMinute || bs >= be || be > s.EndMinute {
			return apperr.Validation("break must lie within working hours")
		}
	}
	return nil
}

// BlockedDate closes a calendar date for the whole tenant (StaffID empty) or
// for one staff member.
type BlockedDate struct {
	TenantID string
	StaffID  string
	Date     string
	Reason   string
}

func (b BlockedDate) TenantWide() bool { return b.StaffID == "" }
