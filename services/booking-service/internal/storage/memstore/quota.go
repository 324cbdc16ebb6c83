package memstore

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/quota"
)

func (s *Store) GetEntitlements(_ context.Context, tenantID string) (quota.Entitlements, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return quota.Entitlements{}, false, err
	}
	ent, ok := s.entitlements[tenantID]
	return ent, ok, nil
}

func (s *Store) UpsertEntitlements(_ context.Context, ent quota.Entitlements) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	ent.UpdatedAt = time.Now().UTC()
	s.entitlements[ent.TenantID] = ent
	return nil
}

func (s *Store) CountBookingsInRange(_ context.Context, tenantID string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return 0, err
	}
	n := 0
	for _, b := range s.bookings {
		if b.TenantID != tenantID || b.StartTime.Before(from) || !b.StartTime.Before(to) {
			continue
		}
		switch b.Status {
		case model.StatusConfirmed, model.StatusCompleted, model.StatusNoShow:
			n++
		}
	}
	return n, nil
}
