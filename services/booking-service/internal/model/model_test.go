package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusConfirmed))
	assert.True(t, CanTransition(StatusConfirmed, StatusNoShow))
	assert.False(t, CanTransition(StatusConfirmed, StatusPending))
	assert.False(t, CanTransition(StatusCancelled, StatusConfirmed))

	for _, s := range []Status{StatusCancelled, StatusCompleted, StatusNoShow} {
		assert.True(t, s.Terminal(), s)
		assert.Empty(t, AllowedTransitions(s))
	}
	assert.Equal(t, []string{"completed", "cancelled", "no_show"}, StatusStrings(AllowedTransitions(StatusConfirmed)))

	s, ok := ParseStatus(" No_Show ")
	assert.True(t, ok)
	assert.Equal(t, StatusNoShow, s)
	_, ok = ParseStatus("expired")
	assert.False(t, ok)
}

func TestResolveOfferingVariantOverride(t *testing.T) {
	svc := Service{ID: "svc", DurationMinutes: 60, BufferMinutes: 10, PriceCents: 5000}
	price := int64(7000)

	base := ResolveOffering(svc, nil)
	assert.Equal(t, 70, base.TotalMinutes())

	o := ResolveOffering(svc, &Variant{ID: "long", DurationMinutes: intPtr(90), PriceCents: &price})
	assert.Equal(t, 90, o.DurationMinutes)
	assert.Equal(t, 100, o.TotalMinutes())
	assert.Equal(t, int64(7000), o.PriceCents)
	assert.Equal(t, "long", o.VariantID)

	priceOnly := ResolveOffering(svc, &Variant{ID: "v", PriceCents: &price})
	assert.Equal(t, 60, priceOnly.DurationMinutes)
}

func TestScheduleValidate(t *testing.T) {
	ok := Schedule{IsWorking: true, StartMinute: 540, EndMinute: 1020, BreakStart: intPtr(720), BreakEnd: intPtr(780)}
	assert.NoError(t, ok.Validate())

	assert.Error(t, Schedule{IsWorking: true, StartMinute: 600, EndMinute: 600}.Validate())
	assert.Error(t, Schedule{IsWorking: true, StartMinute: 540, EndMinute: 1020, BreakStart: intPtr(720)}.Validate())
	assert.Error(t, Schedule{IsWorking: true, StartMinute: 540, EndMinute: 1020, BreakStart: intPtr(1000), BreakEnd: intPtr(1030)}.Validate())
	assert.NoError(t, Schedule{IsWorking: false}.Validate())
}

func TestHoldExpiryAndIntervalLiveness(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	h := Hold{ExpiresAt: now}
	assert.False(t, h.Expired(now))
	assert.True(t, h.Expired(now.Add(time.Second)))

	past := now.Add(-time.Minute)
	assert.False(t, Interval{ExpiresAt: &past}.Live(now))
	assert.True(t, Interval{}.Live(now))

	reserved := Booking{Status: StatusPending, ClientName: ReservedClientName, ExpiresAt: &now}
	assert.True(t, reserved.IsHold())
	reserved.Status = StatusConfirmed
	assert.False(t, reserved.IsHold())
}
