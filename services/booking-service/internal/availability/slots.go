package availability

import (
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/timeofday"
)

// Reason explains why a day has no slots for reasons other than occupancy.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotWorkingDay Reason = "NOT_WORKING_DAY"
	ReasonBlockedDate   Reason = "BLOCKED_DATE"
	ReasonTooFarAhead   Reason = "TOO_FAR_AHEAD"
	ReasonPastDate      Reason = "PAST_DATE"
)

// Day is everything needed to compute one day's slots. Date is midnight in
// the tenant's location; Schedule is nil when the staff member has no row for
// that weekday.
type Day struct {
	Date            time.Time
	Schedule        *model.Schedule
	Occupied        []model.Interval
	DurationMinutes int
	StepMinutes     int
	MinAdvance      time.Duration
	Now             time.Time
}

type DayResult struct {
	Slots  []string `json:"slots"`
	Reason Reason   `json:"reason,omitempty"`
}

// ComputeDaySlots returns the bookable start times of one day in ascending
// order. A slot is bookable when it starts after the current minute and at
// least MinAdvance from now, does not touch the break, and does not overlap
// any live occupied interval. Start times that the local clock skips are
// never offered.
func ComputeDaySlots(d Day) (DayResult, error) {
	res := DayResult{Slots: []string{}}
	if d.Schedule == nil || !d.Schedule.IsWorking {
		res.Reason = ReasonNotWorkingDay
		return res, nil
	}
	err := scan(d, func(t int) bool {
		res.Slots = append(res.Slots, timeofday.Format(t))
		return true
	})
	return res, err
}

// HasSlot reports whether the day has at least one bookable slot, stopping at
// the first one.
func HasSlot(d Day) (bool, error) {
	if d.Schedule == nil || !d.Schedule.IsWorking {
		return false, nil
	}
	found := false
	err := scan(d, func(int) bool {
		found = true
		return false
	})
	return found, err
}

// Fits reports whether a booking starting at minute t is on the day's grid and
// inside working hours, ignoring occupancy.
func Fits(d Day, t int) (bool, error) {
	if d.Schedule == nil || !d.Schedule.IsWorking {
		return false, nil
	}
	d.Occupied = nil
	fits := false
	err := scan(d, func(c int) bool {
		if c == t {
			fits = true
			return false
		}
		return c < t
	})
	return fits, err
}

func scan(d Day, yield func(t int) bool) error {
	if d.DurationMinutes <= 0 {
		return apperr.New(apperr.CodeInvalidDuration, "duration must be positive, got %d", d.DurationMinutes)
	}
	step := d.StepMinutes
	if step <= 0 {
		step = timeofday.StepMinutes
	}
	s := d.Schedule
	breakStart, breakEnd, hasBreak := s.Break()
	earliest := d.Now.Add(d.MinAdvance)
	currentMinute := d.Now.Truncate(time.Minute)
	duration := time.Duration(d.DurationMinutes) * time.Minute

	for t := s.StartMinute; t+d.DurationMinutes <= s.EndMinute; t += step {
		start, ok := timeofday.AtExact(d.Date, t)
		if !ok {
			continue
		}
		if start.Before(earliest) || !start.After(currentMinute) {
			continue
		}
		if hasBreak && timeofday.Overlaps(t, t+d.DurationMinutes, breakStart, breakEnd) {
			continue
		}
		if overlapsAny(start, start.Add(duration), d.Occupied, d.Now) {
			continue
		}
		if !yield(t) {
			return nil
		}
	}
	return nil
}

func overlapsAny(start, end time.Time, busy []model.Interval, now time.Time) bool {
	for _, b := range busy {
		if !b.Live(now) {
			continue
		}
		if timeofday.OverlapsTime(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}
