package reaper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reaper"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage/memstore"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memstore.Store) {
	t.Helper()
	ctx := context.Background()
	hold := func(id, tenant string, start time.Time, expires time.Time) {
		evt, err := outbox.NewEvent(outbox.TypeHoldCreated, outbox.AggregateBooking, id, tenant, map[string]any{"hold_id": id})
		require.NoError(t, err)
		require.NoError(t, store.InsertHold(ctx, model.Hold{
			ID: id, TenantID: tenant, StaffID: "staff-" + tenant,
			StartTime: start, EndTime: start.Add(time.Hour), ExpiresAt: expires,
		}, expires.Add(-15*time.Minute), evt))
	}
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	hold("a-expired", "a", day, now.Add(-time.Minute))
	hold("a-live", "a", day.Add(2*time.Hour), now.Add(5*time.Minute))
	hold("b-expired", "b", day, now.Add(-time.Second))

	stale := now.Add(-time.Hour)
	store.PutBooking(model.Booking{
		ID: "b-sentinel", TenantID: "b", StaffID: "staff-b", ClientName: model.ReservedClientName,
		Status: model.StatusPending, ExpiresAt: &stale,
		StartTime: day.Add(4 * time.Hour), EndTime: day.Add(5 * time.Hour),
	})
}

func reapedEvents(store *memstore.Store) map[string]outbox.Event {
	out := map[string]outbox.Event{}
	for _, e := range store.Events() {
		if e.EventType == outbox.TypeHoldsReaped {
			out[e.TenantID] = e
		}
	}
	return out
}

func TestSweepAllIsIdempotent(t *testing.T) {
	store := memstore.New()
	seed(t, store)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := reaper.New(store, nil, m, func() time.Time { return now })

	res, err := r.SweepAll(context.Background(), reaper.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.ReapResult{HoldsDeleted: 2, BookingsCancelled: 1}, res)

	holds := store.Holds()
	require.Len(t, holds, 1)
	assert.Equal(t, "a-live", holds[0].ID)

	b, err := store.GetBooking(context.Background(), "b", "b-sentinel")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, b.Status)
	assert.Equal(t, model.CancelledByExpiry, b.CancelledBy)

	events := reapedEvents(store)
	assert.Len(t, events, 2)
	assert.Contains(t, string(events["b"].Payload), `"count":2`)

	again, err := r.SweepAll(context.Background(), reaper.TriggerManual)
	require.NoError(t, err)
	assert.Zero(t, again.Total())
	assert.Len(t, reapedEvents(store), 2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HoldsReaped.WithLabelValues(reaper.TriggerManual)))
}

func TestSweepTenantOnlyTouchesTenant(t *testing.T) {
	store := memstore.New()
	seed(t, store)
	r := reaper.New(store, nil, nil, func() time.Time { return now })

	res, err := r.SweepTenant(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total())
	assert.Len(t, store.Holds(), 2)
}

func TestSweepFailureCounts(t *testing.T) {
	store := memstore.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := reaper.New(store, nil, m, nil)

	store.FailNext(errors.New("db down"))
	_, err := r.SweepAll(context.Background(), reaper.TriggerCron)
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReapFailures))
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	r := reaper.New(memstore.New(), nil, nil, nil)
	_, err := reaper.NewScheduler(r, nil, "not a cron spec", 0)
	assert.Error(t, err)

	s, err := reaper.NewScheduler(r, nil, "", time.Second)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestSchedulerStopsWithContext(t *testing.T) {
	r := reaper.New(memstore.New(), nil, nil, nil)
	s, err := reaper.NewScheduler(r, nil, "@every 1h", time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
