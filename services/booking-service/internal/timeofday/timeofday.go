// Package timeofday converts between "HH:MM" strings and minutes since
// midnight, and anchors minute offsets to calendar dates in a tenant's zone.
package timeofday

import (
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
)

const (
	MinutesPerDay = 24 * 60

	// StepMinutes is the slot grid step.
	StepMinutes = 15

	DateLayout = "2006-01-02"
)

// ToMinutes parses a strict zero padded "HH:MM" into [0, 1440).
func ToMinutes(hhmm string) (int, error) {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return 0, apperr.New(apperr.CodeFormat, "invalid time %q, want HH:MM", hhmm)
	}
	h, okH := twoDigits(hhmm[0], hhmm[1])
	m, okM := twoDigits(hhmm[3], hhmm[4])
	if !okH || !okM || h > 23 || m > 59 {
		return 0, apperr.New(apperr.CodeFormat, "invalid time %q, want HH:MM", hhmm)
	}
	return h*60 + m, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

// Format renders minutes since midnight as "HH:MM".
func Format(minutes int) string {
	h, m := minutes/60, minutes%60
	return string([]byte{byte('0' + h/10), byte('0' + h%10), ':', byte('0' + m/10), byte('0' + m%10)})
}

// Overlaps reports whether [aStart,aEnd) and [bStart,bEnd) intersect.
// Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// OverlapsTime is Overlaps for absolute instants.
func OverlapsTime(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// ParseDate parses "YYYY-MM-DD" as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, apperr.New(apperr.CodeFormat, "invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

// At returns the instant that is minutes past midnight of day, on the wall
// clock of day's location.
func At(day time.Time, minutes int) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, minutes/60, minutes%60, 0, 0, day.Location())
}

// AtExact is At that also reports whether the wall clock reading exists on
// day. Minutes skipped by a daylight saving jump report false.
func AtExact(day time.Time, minutes int) (time.Time, bool) {
	t := At(day, minutes)
	return t, t.Hour() == minutes/60 && t.Minute() == minutes%60
}

// Midnight truncates t to the start of its calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DaysBetween counts calendar days from a to b (both midnights in one zone).
func DaysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
