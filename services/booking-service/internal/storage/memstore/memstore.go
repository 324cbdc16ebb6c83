// Package memstore is an in-memory implementation of the booking store. Holds
// are kept as dedicated hold records; sentinel pending bookings seeded with
// PutBooking are honoured as holds as well. A single mutex makes every write
// atomic, so the exclusion guarantee matches the Postgres constraint.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/quota"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/timeofday"
)

type Store struct {
	mu           sync.Mutex
	staff        map[string]model.Staff
	services     map[string]model.Service
	variants     map[string]model.Variant
	schedules    map[string]map[time.Weekday]model.Schedule
	blocked      []model.BlockedDate
	overrides    map[string]policy.Overrides
	entitlements map[string]quota.Entitlements
	holds        map[string]model.Hold
	reclaimed    map[string]model.Hold
	bookings     map[string]model.Booking
	idempotency  map[string]model.IdempotencyRecord
	events       []outbox.Event

	// failNext makes the next store call fail; used to exercise error paths.
	failNext error
}

func New() *Store {
	return &Store{
		staff:        map[string]model.Staff{},
		services:     map[string]model.Service{},
		variants:     map[string]model.Variant{},
		schedules:    map[string]map[time.Weekday]model.Schedule{},
		overrides:    map[string]policy.Overrides{},
		entitlements: map[string]quota.Entitlements{},
		holds:        map[string]model.Hold{},
		reclaimed:    map[string]model.Hold{},
		bookings:     map[string]model.Booking{},
		idempotency:  map[string]model.IdempotencyRecord{},
	}
}

// FailNext makes the next call return err.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Store) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Store) PutStaff(st model.Staff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff[st.ID] = st
}

func (s *Store) PutService(svc model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = svc
}

func (s *Store) PutVariant(v model.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

func (s *Store) PutSchedule(sc model.Schedule) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedules[sc.StaffID] == nil {
		s.schedules[sc.StaffID] = map[time.Weekday]model.Schedule{}
	}
	s.schedules[sc.StaffID][sc.Weekday] = sc
	return nil
}

func (s *Store) PutBlockedDate(b model.BlockedDate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = append(s.blocked, b)
}

func (s *Store) PutTenantPolicy(tenantID string, o policy.Overrides) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[tenantID] = o
}

// PutBooking stores b as is, bypassing the exclusion check. It is used to seed
// existing calendars, including sentinel hold rows.
func (s *Store) PutBooking(b model.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

// Events returns a copy of every event recorded so far.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.events...)
}

// Holds returns the live and expired dedicated holds, ordered by start.
func (s *Store) Holds() []model.Hold {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Hold, 0, len(s.holds))
	for _, h := range s.holds {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s *Store) GetStaff(_ context.Context, tenantID, staffID string) (model.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return model.Staff{}, err
	}
	st, ok := s.staff[staffID]
	if !ok || st.TenantID != tenantID {
		return model.Staff{}, apperr.NotFound("staff")
	}
	return st, nil
}

func (s *Store) GetService(_ context.Context, tenantID, serviceID string) (model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return model.Service{}, err
	}
	svc, ok := s.services[serviceID]
	if !ok || svc.TenantID != tenantID {
		return model.Service{}, apperr.NotFound("service")
	}
	return svc, nil
}

func (s *Store) GetVariant(_ context.Context, serviceID, variantID string) (model.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[variantID]
	if !ok || v.ServiceID != serviceID {
		return model.Variant{}, apperr.NotFound("variant")
	}
	return v, nil
}

func (s *Store) FindSchedule(_ context.Context, staffID string, weekday time.Weekday) (model.Schedule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return model.Schedule{}, false, err
	}
	sc, ok := s.schedules[staffID][weekday]
	return sc, ok, nil
}

func (s *Store) ListSchedules(_ context.Context, staffID string) ([]model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]model.Schedule, 0, 7)
	for _, sc := range s.schedules[staffID] {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weekday < out[j].Weekday })
	return out, nil
}

func (s *Store) FindBlockedDates(_ context.Context, tenantID, staffID, from, to string) ([]model.BlockedDate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	var out []model.BlockedDate
	for _, b := range s.blocked {
		if b.TenantID != tenantID || (b.StaffID != "" && b.StaffID != staffID) {
			continue
		}
		if b.Date >= from && b.Date <= to {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) FindOccupiedIntervals(_ context.Context, staffID string, from, to time.Time, excludeBookingID string) ([]model.Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	var out []model.Interval
	for _, h := range s.holds {
		if h.StaffID != staffID || !timeofday.OverlapsTime(h.StartTime, h.EndTime, from, to) {
			continue
		}
		exp := h.ExpiresAt
		out = append(out, model.Interval{Start: h.StartTime, End: h.EndTime, ExpiresAt: &exp})
	}
	for _, b := range s.bookings {
		if b.StaffID != staffID || b.ID == excludeBookingID || !b.Status.Occupying() {
			continue
		}
		if !timeofday.OverlapsTime(b.StartTime, b.EndTime, from, to) {
			continue
		}
		out = append(out, model.Interval{Start: b.StartTime, End: b.EndTime, ExpiresAt: b.ExpiresAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Store) TenantPolicy(_ context.Context, tenantID string) (policy.Overrides, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overrides[tenantID]
	return o, ok, nil
}
