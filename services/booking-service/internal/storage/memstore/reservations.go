package memstore

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/timeofday"
)

// claim reclaims expired holds overlapping [start,end) on staffID and reports
// a conflict if anything live still overlaps. Callers hold s.mu.
func (s *Store) claim(staffID string, start, end, now time.Time, excludeID string) error {
	for _, h := range s.holds {
		if h.StaffID != staffID || !timeofday.OverlapsTime(start, end, h.StartTime, h.EndTime) {
			continue
		}
		if h.Expired(now) {
			s.reclaimHold(h, now)
			continue
		}
		return apperr.ErrSlotTaken
	}
	for id, b := range s.bookings {
		if id == excludeID || b.StaffID != staffID || !b.Status.Occupying() {
			continue
		}
		if !timeofday.OverlapsTime(start, end, b.StartTime, b.EndTime) {
			continue
		}
		if b.IsHold() && now.After(*b.ExpiresAt) {
			s.expireBooking(id, now)
			continue
		}
		return apperr.ErrSlotTaken
	}
	return nil
}

// reclaimedRetention bounds how long a released hold is remembered so that a
// late confirm reports expiry instead of an unknown reservation.
const reclaimedRetention = 24 * time.Hour

// reclaimHold drops an expired dedicated hold and keeps a tombstone of it.
// Callers hold s.mu.
func (s *Store) reclaimHold(h model.Hold, now time.Time) {
	delete(s.holds, h.ID)
	h.Reclaimed = true
	s.reclaimed[h.ID] = h
	for id, old := range s.reclaimed {
		if now.Sub(old.ExpiresAt) > reclaimedRetention {
			delete(s.reclaimed, id)
		}
	}
}

func (s *Store) expireBooking(id string, now time.Time) {
	b := s.bookings[id]
	at := now.UTC()
	b.Status = model.StatusCancelled
	b.CancelledAt = &at
	b.CancelledBy = model.CancelledByExpiry
	s.bookings[id] = b
}

func (s *Store) InsertHold(_ context.Context, h model.Hold, now time.Time, evt outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if err := s.checkIdempotency(h.TenantID, h.IdempotencyKey); err != nil {
		return err
	}
	rec, err := idempotencyRecord(h.TenantID, h.IdempotencyKey, model.OperationReserve, h.ID, h, now)
	if err != nil {
		return err
	}
	if err := s.claim(h.StaffID, h.StartTime, h.EndTime, now, ""); err != nil {
		return err
	}
	s.holds[h.ID] = h
	s.putIdempotency(rec)
	s.events = append(s.events, evt)
	return nil
}

// GetHold finds a dedicated hold or a sentinel pending booking.
func (s *Store) GetHold(_ context.Context, holdID string) (model.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return model.Hold{}, err
	}
	if h, ok := s.holds[holdID]; ok {
		return h, nil
	}
	if h, ok := s.reclaimed[holdID]; ok {
		return h, nil
	}
	if b, ok := s.bookings[holdID]; ok && (b.IsHold() || b.IsReclaimedHold()) {
		return holdFromBooking(b), nil
	}
	return model.Hold{}, apperr.NotFound("reservation")
}

func holdFromBooking(b model.Booking) model.Hold {
	return model.Hold{
		ID:           b.ID,
		TenantID:     b.TenantID,
		StaffID:      b.StaffID,
		ServiceID:    b.ServiceID,
		VariantID:    b.VariantID,
		StartTime:    b.StartTime,
		EndTime:      b.EndTime,
		ExpiresAt:    *b.ExpiresAt,
		SessionToken: b.SessionToken,
		PriceCents:   b.PriceCents,
		CreatedAt:    b.CreatedAt,
		Reclaimed:    b.IsReclaimedHold(),
	}
}

func (s *Store) ConfirmHold(_ context.Context, c model.HoldConfirmation, evt outbox.Event) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return model.Booking{}, err
	}

	if h, ok := s.holds[c.HoldID]; ok && h.TenantID == c.TenantID {
		if h.Expired(c.Now) {
			s.reclaimHold(h, c.Now)
			return model.Booking{}, apperr.ErrExpired
		}
		delete(s.holds, h.ID)
		b := model.Booking{
			ID:         h.ID,
			TenantID:   h.TenantID,
			ServiceID:  h.ServiceID,
			VariantID:  h.VariantID,
			StaffID:    h.StaffID,
			StartTime:  h.StartTime,
			EndTime:    h.EndTime,
			PriceCents: h.PriceCents,
			CreatedAt:  h.CreatedAt,
		}
		b = confirmed(b, c)
		s.bookings[b.ID] = b
		s.events = append(s.events, evt)
		return b, nil
	}

	if h, ok := s.reclaimed[c.HoldID]; ok && h.TenantID == c.TenantID {
		return model.Booking{}, apperr.ErrExpired
	}

	b, ok := s.bookings[c.HoldID]
	if ok && b.TenantID == c.TenantID && b.IsReclaimedHold() {
		return model.Booking{}, apperr.ErrExpired
	}
	if !ok || b.TenantID != c.TenantID || !b.IsHold() {
		return model.Booking{}, apperr.NotFound("reservation")
	}
	if c.Now.After(*b.ExpiresAt) {
		s.expireBooking(b.ID, c.Now)
		return model.Booking{}, apperr.ErrExpired
	}
	b = confirmed(b, c)
	s.bookings[b.ID] = b
	s.events = append(s.events, evt)
	return b, nil
}

func confirmed(b model.Booking, c model.HoldConfirmation) model.Booking {
	b.ClientName = c.Client.Name
	b.ClientPhone = c.Client.Phone
	b.ClientEmail = c.Client.Email
	b.Notes = c.Client.Notes
	b.Status = model.StatusConfirmed
	b.ExpiresAt = nil
	b.SessionToken = ""
	b.CancelToken = c.CancelToken
	return b
}

func (s *Store) DeleteHold(_ context.Context, holdID, sessionToken string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return false, err
	}
	if h, ok := s.holds[holdID]; ok {
		if h.SessionToken != sessionToken {
			return false, nil
		}
		delete(s.holds, holdID)
		return true, nil
	}
	if b, ok := s.bookings[holdID]; ok && b.IsHold() && b.SessionToken == sessionToken {
		delete(s.bookings, holdID)
		return true, nil
	}
	return false, nil
}

func (s *Store) InsertBooking(_ context.Context, b model.Booking, now time.Time, evt outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if err := s.checkIdempotency(b.TenantID, b.IdempotencyKey); err != nil {
		return err
	}
	rec, err := idempotencyRecord(b.TenantID, b.IdempotencyKey, model.OperationBook, b.ID, b, now)
	if err != nil {
		return err
	}
	if err := s.claim(b.StaffID, b.StartTime, b.EndTime, now, ""); err != nil {
		return err
	}
	s.bookings[b.ID] = b
	s.putIdempotency(rec)
	s.events = append(s.events, evt)
	return nil
}

func (s *Store) GetBooking(_ context.Context, tenantID, bookingID string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return model.Booking{}, err
	}
	b, ok := s.bookings[bookingID]
	if !ok || b.TenantID != tenantID {
		return model.Booking{}, apperr.NotFound("booking")
	}
	return b, nil
}

func (s *Store) FindBookingByCancelToken(_ context.Context, token string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return model.Booking{}, err
	}
	for _, b := range s.bookings {
		if b.CancelToken == token && !b.IsHold() {
			return b, nil
		}
	}
	return model.Booking{}, apperr.NotFound("booking")
}

func (s *Store) UpdateStatus(_ context.Context, c model.StatusChange, evt outbox.Event) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return model.Booking{}, err
	}
	b, ok := s.bookings[c.BookingID]
	if !ok || b.TenantID != c.TenantID {
		return model.Booking{}, apperr.NotFound("booking")
	}
	if b.Status != c.From {
		return model.Booking{}, apperr.InvalidTransition(string(b.Status), string(c.To),
			model.StatusStrings(model.AllowedTransitions(b.Status)))
	}
	b.Status = c.To
	if c.To == model.StatusCancelled {
		at := c.At.UTC()
		b.CancelledAt = &at
		b.CancelledBy = c.CancelledBy
	}
	s.bookings[b.ID] = b
	s.events = append(s.events, evt)
	return b, nil
}

func (s *Store) MoveBooking(_ context.Context, m model.BookingMove, evt outbox.Event) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return model.Booking{}, err
	}
	b, ok := s.bookings[m.BookingID]
	if !ok || b.TenantID != m.TenantID {
		return model.Booking{}, apperr.NotFound("booking")
	}
	if err := s.claim(b.StaffID, m.Start, m.End, m.Now, b.ID); err != nil {
		return model.Booking{}, err
	}
	b.StartTime, b.EndTime = m.Start, m.End
	s.bookings[b.ID] = b
	s.events = append(s.events, evt)
	return b, nil
}

func (s *Store) ReapExpired(_ context.Context, tenantID string, now time.Time) (model.ReapResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return model.ReapResult{}, err
	}
	perTenant := map[string]int{}
	var res model.ReapResult
	for _, h := range s.holds {
		if (tenantID == "" || h.TenantID == tenantID) && h.ExpiresAt.Before(now) {
			s.reclaimHold(h, now)
			res.HoldsDeleted++
			perTenant[h.TenantID]++
		}
	}
	for id, b := range s.bookings {
		if (tenantID == "" || b.TenantID == tenantID) && b.IsHold() && b.ExpiresAt.Before(now) {
			s.expireBooking(id, now)
			res.BookingsCancelled++
			perTenant[b.TenantID]++
		}
	}
	s.pruneIdempotency(tenantID, now)
	for tenant, n := range perTenant {
		evt, err := outbox.NewEvent(outbox.TypeHoldsReaped, outbox.AggregateTenant, tenant, tenant, map[string]any{
			"tenant_id": tenant,
			"count":     n,
			"reaped_at": now.UTC(),
		})
		if err != nil {
			return model.ReapResult{}, err
		}
		s.events = append(s.events, evt)
	}
	return res, nil
}
