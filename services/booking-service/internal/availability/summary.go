package availability

import (
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/timeofday"
)

// Range is the prefetched input of SummarizeRange. From and To are midnights
// in the tenant's location and both inclusive.
type Range struct {
	From            time.Time
	To              time.Time
	Schedules       map[time.Weekday]model.Schedule
	Blocked         map[string]bool
	Occupied        []model.Interval
	DurationMinutes int
	StepMinutes     int
	MinAdvance      time.Duration
	MaxAdvanceDays  int
	MaxRangeDays    int
	Now             time.Time
}

// SummarizeRange returns the dates in [From, To] on which nothing can be
// booked, as "YYYY-MM-DD" in ascending order.
func SummarizeRange(r Range) ([]string, error) {
	if r.To.Before(r.From) {
		return nil, apperr.Validation("to must not be before from")
	}
	if r.MaxRangeDays > 0 && timeofday.DaysBetween(r.From, r.To) > r.MaxRangeDays {
		return nil, apperr.New(apperr.CodeRangeTooLarge, "range exceeds %d days", r.MaxRangeDays)
	}
	if r.DurationMinutes <= 0 {
		return nil, apperr.New(apperr.CodeInvalidDuration, "duration must be positive, got %d", r.DurationMinutes)
	}

	loc := r.From.Location()
	today := timeofday.Midnight(r.Now, loc)
	out := []string{}
	for day := r.From; !day.After(r.To); day = day.AddDate(0, 0, 1) {
		key := day.Format(timeofday.DateLayout)
		if reason := closedReason(day, today, r.MaxAdvanceDays, r.Blocked); reason != ReasonNone {
			out = append(out, key)
			continue
		}
		var schedule *model.Schedule
		if s, ok := r.Schedules[day.Weekday()]; ok {
			schedule = &s
		}
		ok, err := HasSlot(Day{
			Date:            day,
			Schedule:        schedule,
			Occupied:        r.Occupied,
			DurationMinutes: r.DurationMinutes,
			StepMinutes:     r.StepMinutes,
			MinAdvance:      r.MinAdvance,
			Now:             r.Now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, key)
		}
	}
	return out, nil
}

// closedReason applies the calendar-level checks shared by the single day and
// range paths. Blocked is keyed by date and covers tenant-wide and staff blocks.
func closedReason(day, today time.Time, maxAdvanceDays int, blocked map[string]bool) Reason {
	if day.Before(today) {
		return ReasonPastDate
	}
	if maxAdvanceDays > 0 && timeofday.DaysBetween(today, day) > maxAdvanceDays {
		return ReasonTooFarAhead
	}
	if blocked[day.Format(timeofday.DateLayout)] {
		return ReasonBlockedDate
	}
	return ReasonNone
}
