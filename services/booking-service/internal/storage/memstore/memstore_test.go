package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
)

var (
	day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func window(h, m, minutes int) (time.Time, time.Time) {
	start := day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
	return start, start.Add(time.Duration(minutes) * time.Minute)
}

func hold(id string, h, m int, expires time.Time) model.Hold {
	start, end := window(h, m, 60)
	return model.Hold{ID: id, TenantID: "t1", StaffID: "s1", StartTime: start, EndTime: end, ExpiresAt: expires, SessionToken: "tok-" + id}
}

func TestInsertHoldExclusion(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.InsertHold(ctx, hold("h1", 10, 0, now.Add(15*time.Minute)), now, outbox.Event{}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertHold(ctx, hold("h2", 10, 45, now.Add(15*time.Minute)), now, outbox.Event{}); !errors.Is(err, apperr.ErrSlotTaken) {
		t.Fatalf("expected slot taken, got %v", err)
	}
	if err := s.InsertHold(ctx, hold("h3", 11, 0, now.Add(15*time.Minute)), now, outbox.Event{}); err != nil {
		t.Fatalf("adjacent window should fit: %v", err)
	}

	other := hold("h4", 10, 0, now.Add(15*time.Minute))
	other.StaffID = "s2"
	if err := s.InsertHold(ctx, other, now, outbox.Event{}); err != nil {
		t.Fatalf("other staff should not conflict: %v", err)
	}
	if got := len(s.Events()); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
}

func TestInsertHoldReclaimsExpired(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.InsertHold(ctx, hold("old", 10, 0, now.Add(-time.Second)), now.Add(-time.Hour), outbox.Event{}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertHold(ctx, hold("new", 10, 30, now.Add(15*time.Minute)), now, outbox.Event{}); err != nil {
		t.Fatalf("expired hold should be reclaimed: %v", err)
	}
	got, err := s.GetHold(ctx, "old")
	if err != nil || !got.Reclaimed {
		t.Fatalf("expected a reclaimed tombstone, got %+v %v", got, err)
	}
	if len(s.Holds()) != 1 {
		t.Fatalf("expected only the new hold to be live, got %+v", s.Holds())
	}
	_, err = s.ConfirmHold(ctx, model.HoldConfirmation{HoldID: "old", TenantID: "t1", Now: now}, outbox.Event{})
	if !errors.Is(err, apperr.ErrExpired) {
		t.Fatalf("expected expired on reclaimed hold, got %v", err)
	}
}

func TestReapedHoldsReportExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()
	stale := now.Add(-time.Minute)
	_ = s.InsertHold(ctx, hold("h1", 9, 0, stale), now.Add(-time.Hour), outbox.Event{})
	start, end := window(13, 0, 60)
	s.PutBooking(model.Booking{
		ID: "sentinel", TenantID: "t1", StaffID: "s1", ClientName: model.ReservedClientName,
		Status: model.StatusPending, ExpiresAt: &stale, StartTime: start, EndTime: end,
	})

	res, err := s.ReapExpired(ctx, "", now)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if res.HoldsDeleted != 1 || res.BookingsCancelled != 1 {
		t.Fatalf("unexpected reap result %+v", res)
	}

	for _, id := range []string{"h1", "sentinel"} {
		h, err := s.GetHold(ctx, id)
		if err != nil || !h.Reclaimed {
			t.Fatalf("%s: expected reclaimed hold, got %+v %v", id, h, err)
		}
		_, err = s.ConfirmHold(ctx, model.HoldConfirmation{HoldID: id, TenantID: "t1", Now: now}, outbox.Event{})
		if !errors.Is(err, apperr.ErrExpired) {
			t.Fatalf("%s: expected expired, got %v", id, err)
		}
		_, err = s.ConfirmHold(ctx, model.HoldConfirmation{HoldID: id, TenantID: "t2", Now: now}, outbox.Event{})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("%s: expected not found for another tenant, got %v", id, err)
		}
	}

	// Explicitly released holds are forgotten.
	_ = s.InsertHold(ctx, hold("h2", 15, 0, now.Add(time.Minute)), now, outbox.Event{})
	_, _ = s.DeleteHold(ctx, "h2", "tok-h2")
	if _, err := s.GetHold(ctx, "h2"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected released hold to be gone, got %v", err)
	}
}

func TestFindOccupiedIntervals(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.InsertHold(ctx, hold("h1", 9, 0, now.Add(time.Minute)), now, outbox.Event{})
	start, end := window(13, 0, 30)
	s.PutBooking(model.Booking{ID: "b1", TenantID: "t1", StaffID: "s1", Status: model.StatusConfirmed, StartTime: start, EndTime: end})
	start, end = window(15, 0, 30)
	s.PutBooking(model.Booking{ID: "b2", TenantID: "t1", StaffID: "s1", Status: model.StatusCancelled, StartTime: start, EndTime: end})

	got, err := s.FindOccupiedIntervals(ctx, "s1", day, day.AddDate(0, 0, 1), "")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected hold and confirmed booking, got %+v", got)
	}
	if got[0].ExpiresAt == nil || got[1].ExpiresAt != nil {
		t.Fatalf("expected hold first with expiry, got %+v", got)
	}

	got, _ = s.FindOccupiedIntervals(ctx, "s1", day, day.AddDate(0, 0, 1), "b1")
	if len(got) != 1 {
		t.Fatalf("expected excluded booking to be skipped, got %+v", got)
	}
}

func TestDeleteHoldRequiresToken(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.InsertHold(ctx, hold("h1", 9, 0, now.Add(time.Minute)), now, outbox.Event{})

	if ok, _ := s.DeleteHold(ctx, "h1", "nope"); ok {
		t.Fatalf("expected token mismatch to be a no-op")
	}
	if ok, _ := s.DeleteHold(ctx, "h1", "tok-h1"); !ok {
		t.Fatalf("expected hold to be deleted")
	}
}

func TestUpdateStatusIsConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	start, end := window(13, 0, 30)
	s.PutBooking(model.Booking{ID: "b1", TenantID: "t1", StaffID: "s1", Status: model.StatusConfirmed, StartTime: start, EndTime: end})

	_, err := s.UpdateStatus(ctx, model.StatusChange{TenantID: "t1", BookingID: "b1", From: model.StatusPending, To: model.StatusCancelled, At: now}, outbox.Event{})
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on stale from, got %v", err)
	}
	b, err := s.UpdateStatus(ctx, model.StatusChange{TenantID: "t1", BookingID: "b1", From: model.StatusConfirmed, To: model.StatusCancelled, CancelledBy: model.CancelledByTenant, At: now}, outbox.Event{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if b.CancelledAt == nil || b.CancelledBy != model.CancelledByTenant {
		t.Fatalf("expected cancellation fields, got %+v", b)
	}
}

func TestSchedulesAndBlockedDates(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.PutSchedule(model.Schedule{StaffID: "s1", Weekday: time.Monday, IsWorking: true, StartMinute: 600, EndMinute: 540}); err == nil {
		t.Fatalf("expected invalid schedule to be rejected")
	}
	_ = s.PutSchedule(model.Schedule{StaffID: "s1", Weekday: time.Tuesday, IsWorking: true, StartMinute: 540, EndMinute: 600})
	_ = s.PutSchedule(model.Schedule{StaffID: "s1", Weekday: time.Monday, IsWorking: true, StartMinute: 540, EndMinute: 600})
	list, _ := s.ListSchedules(ctx, "s1")
	if len(list) != 2 || list[0].Weekday != time.Monday {
		t.Fatalf("expected schedules ordered by weekday, got %+v", list)
	}

	s.PutBlockedDate(model.BlockedDate{TenantID: "t1", Date: "2026-03-02"})
	s.PutBlockedDate(model.BlockedDate{TenantID: "t1", StaffID: "s2", Date: "2026-03-03"})
	s.PutBlockedDate(model.BlockedDate{TenantID: "t1", StaffID: "s1", Date: "2026-04-01"})
	got, _ := s.FindBlockedDates(ctx, "t1", "s1", "2026-03-01", "2026-03-31")
	if len(got) != 1 || got[0].Date != "2026-03-02" {
		t.Fatalf("expected only the tenant-wide block, got %+v", got)
	}
}

func TestInsertHoldIdempotencyKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	h := hold("h1", 10, 0, now.Add(15*time.Minute))
	h.IdempotencyKey = "k1"
	if err := s.InsertHold(ctx, h, now, outbox.Event{}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	retry := hold("h2", 14, 0, now.Add(15*time.Minute))
	retry.IdempotencyKey = "k1"
	if err := s.InsertHold(ctx, retry, now, outbox.Event{}); !errors.Is(err, apperr.ErrDuplicateRequest) {
		t.Fatalf("expected duplicate request, got %v", err)
	}
	if len(s.Holds()) != 1 || len(s.Events()) != 1 {
		t.Fatalf("duplicate must not write, holds=%d events=%d", len(s.Holds()), len(s.Events()))
	}

	rec, ok, err := s.FindIdempotency(ctx, "t1", "k1")
	if err != nil || !ok {
		t.Fatalf("find: %v %v", ok, err)
	}
	if rec.ResourceID != "h1" || rec.Operation != model.OperationReserve || len(rec.Payload) == 0 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, ok, _ := s.FindIdempotency(ctx, "t2", "k1"); ok {
		t.Fatalf("key must be scoped to its tenant")
	}

	// A slot conflict leaves the key unused.
	clash := hold("h3", 10, 30, now.Add(15*time.Minute))
	clash.IdempotencyKey = "k2"
	if err := s.InsertHold(ctx, clash, now, outbox.Event{}); !errors.Is(err, apperr.ErrSlotTaken) {
		t.Fatalf("expected slot taken, got %v", err)
	}
	if _, ok, _ := s.FindIdempotency(ctx, "t1", "k2"); ok {
		t.Fatalf("failed insert must not record its key")
	}

	if _, err := s.ReapExpired(ctx, "", now.Add(model.IdempotencyRetention+time.Minute)); err != nil {
		t.Fatalf("reap: %v", err)
	}
	if _, ok, _ := s.FindIdempotency(ctx, "t1", "k1"); ok {
		t.Fatalf("expected key to be pruned after retention")
	}
}
