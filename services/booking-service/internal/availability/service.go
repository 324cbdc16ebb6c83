package availability

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/timeofday"
)

// Store is the read side of the persistence collaborator. Lookups of records
// that do not exist (or belong to another tenant) return apperr.ErrNotFound.
type Store interface {
	GetStaff(ctx context.Context, tenantID, staffID string) (model.Staff, error)
	GetService(ctx context.Context, tenantID, serviceID string) (model.Service, error)
	GetVariant(ctx context.Context, serviceID, variantID string) (model.Variant, error)
	FindSchedule(ctx context.Context, staffID string, weekday time.Weekday) (model.Schedule, bool, error)
	ListSchedules(ctx context.Context, staffID string) ([]model.Schedule, error)
	// FindBlockedDates returns tenant-wide blocks and blocks of staffID
	// with from <= date <= to.
	FindBlockedDates(ctx context.Context, tenantID, staffID, from, to string) ([]model.BlockedDate, error)
	// FindOccupiedIntervals returns bookings and holds of staffID intersecting
	// [from, to), skipping excludeBookingID when set.
	FindOccupiedIntervals(ctx context.Context, staffID string, from, to time.Time, excludeBookingID string) ([]model.Interval, error)
}

type Config struct {
	Store        Store
	Policies     policy.Provider
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Now          func() time.Time
	StoreTimeout time.Duration
}

// Service answers slot and availability queries by loading the inputs of the
// pure calculators from the store. It fails closed: any store error is
// returned, never an optimistic answer.
type Service struct {
	store    Store
	policies policy.Provider
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration
}

func NewService(cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:    cfg.Store,
		policies: cfg.Policies,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
		timeout:  cfg.StoreTimeout,
	}
}

type Query struct {
	TenantID         string
	ServiceID        string
	VariantID        string
	StaffID          string
	Date             string
	ExcludeBookingID string
}

func (q Query) validate() error {
	if strings.TrimSpace(q.TenantID) == "" || strings.TrimSpace(q.ServiceID) == "" || strings.TrimSpace(q.StaffID) == "" {
		return apperr.Validation("tenant_id, service_id and staff_id are required")
	}
	return nil
}

type RangeQuery struct {
	TenantID  string
	ServiceID string
	VariantID string
	StaffID   string
	From      string
	To        string
}

// Slot is a resolved, schedule-valid booking window.
type Slot struct {
	Start    time.Time
	End      time.Time
	Offering model.Offering
	Policy   policy.Policy
}

func (s *Service) Policy(ctx context.Context, tenantID string) (policy.Policy, *time.Location, error) {
	p, err := s.policies.Policy(ctx, tenantID)
	if err != nil {
		return policy.Policy{}, nil, apperr.Store("load tenant policy", err)
	}
	loc, err := p.Location()
	if err != nil {
		return policy.Policy{}, nil, apperr.Store("load tenant timezone", err)
	}
	return p, loc, nil
}

// Offering checks that staff and service belong to the tenant and resolves
// the variant override.
func (s *Service) Offering(ctx context.Context, tenantID, serviceID, variantID, staffID string) (model.Offering, error) {
	staff, err := s.store.GetStaff(ctx, tenantID, staffID)
	if err != nil {
		return model.Offering{}, apperr.Store("get staff", err)
	}
	if !staff.Active {
		return model.Offering{}, apperr.NotFound("staff")
	}
	svc, err := s.store.GetService(ctx, tenantID, serviceID)
	if err != nil {
		return model.Offering{}, apperr.Store("get service", err)
	}
	if !svc.Active {
		return model.Offering{}, apperr.NotFound("service")
	}
	var variant *model.Variant
	if variantID = strings.TrimSpace(variantID); variantID != "" {
		v, err := s.store.GetVariant(ctx, svc.ID, variantID)
		if err != nil {
			return model.Offering{}, apperr.Store("get variant", err)
		}
		variant = &v
	}
	return model.ResolveOffering(svc, variant), nil
}

// DaySlots lists the bookable start times of q.Date.
func (s *Service) DaySlots(ctx context.Context, q Query) (res DayResult, err error) {
	started := time.Now()
	ctx, span := otelx.StartSpan(ctx, "availability", "availability.day_slots",
		attribute.String("tenant_id", q.TenantID),
		attribute.String("staff_id", q.StaffID),
		attribute.String("date", q.Date),
	)
	defer func() {
		s.metrics.ObserveSlotCompute("day", started)
		otelx.EndSpan(span, err)
	}()

	if err := q.validate(); err != nil {
		return DayResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, loc, err := s.Policy(ctx, q.TenantID)
	if err != nil {
		return DayResult{}, err
	}
	day, err := timeofday.ParseDate(q.Date, loc)
	if err != nil {
		return DayResult{}, err
	}
	offering, err := s.Offering(ctx, q.TenantID, q.ServiceID, q.VariantID, q.StaffID)
	if err != nil {
		return DayResult{}, err
	}

	now := s.now()
	blocked, err := s.blockedSet(ctx, q.TenantID, q.StaffID, day, day)
	if err != nil {
		return DayResult{}, err
	}
	if reason := closedReason(day, timeofday.Midnight(now, loc), p.MaxAdvanceDays, blocked); reason != ReasonNone {
		return DayResult{Slots: []string{}, Reason: reason}, nil
	}

	sched, ok, err := s.store.FindSchedule(ctx, q.StaffID, day.Weekday())
	if err != nil {
		return DayResult{}, apperr.Store("find schedule", err)
	}
	if !ok || !sched.IsWorking {
		return DayResult{Slots: []string{}, Reason: ReasonNotWorkingDay}, nil
	}

	occupied, err := s.store.FindOccupiedIntervals(ctx, q.StaffID, day, day.AddDate(0, 0, 1), q.ExcludeBookingID)
	if err != nil {
		return DayResult{}, apperr.Store("find occupied intervals", err)
	}

	return ComputeDaySlots(Day{
		Date:            day,
		Schedule:        &sched,
		Occupied:        occupied,
		DurationMinutes: offering.TotalMinutes(),
		StepMinutes:     p.SlotStepMinutes,
		MinAdvance:      p.MinAdvance(),
		Now:             now,
	})
}

// UnavailableDates summarizes [q.From, q.To] for a date picker.
func (s *Service) UnavailableDates(ctx context.Context, q RangeQuery) (dates []string, err error) {
	started := time.Now()
	ctx, span := otelx.StartSpan(ctx, "availability", "availability.unavailable_dates",
		attribute.String("tenant_id", q.TenantID),
		attribute.String("staff_id", q.StaffID),
		attribute.String("from", q.From),
		attribute.String("to", q.To),
	)
	defer func() {
		s.metrics.ObserveSlotCompute("range", started)
		otelx.EndSpan(span, err)
	}()

	if err := (Query{TenantID: q.TenantID, ServiceID: q.ServiceID, StaffID: q.StaffID}).validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, loc, err := s.Policy(ctx, q.TenantID)
	if err != nil {
		return nil, err
	}
	from, err := timeofday.ParseDate(q.From, loc)
	if err != nil {
		return nil, err
	}
	to, err := timeofday.ParseDate(q.To, loc)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, apperr.Validation("to must not be before from")
	}
	if timeofday.DaysBetween(from, to) > p.MaxRangeDays {
		return nil, apperr.New(apperr.CodeRangeTooLarge, "range exceeds %d days", p.MaxRangeDays)
	}

	offering, err := s.Offering(ctx, q.TenantID, q.ServiceID, q.VariantID, q.StaffID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListSchedules(ctx, q.StaffID)
	if err != nil {
		return nil, apperr.Store("list schedules", err)
	}
	schedules := make(map[time.Weekday]model.Schedule, len(list))
	for _, sc := range list {
		schedules[sc.Weekday] = sc
	}
	blocked, err := s.blockedSet(ctx, q.TenantID, q.StaffID, from, to)
	if err != nil {
		return nil, err
	}
	occupied, err := s.store.FindOccupiedIntervals(ctx, q.StaffID, from, to.AddDate(0, 0, 1), "")
	if err != nil {
		return nil, apperr.Store("find occupied intervals", err)
	}

	return SummarizeRange(Range{
		From:            from,
		To:              to,
		Schedules:       schedules,
		Blocked:         blocked,
		Occupied:        occupied,
		DurationMinutes: offering.TotalMinutes(),
		StepMinutes:     p.SlotStepMinutes,
		MinAdvance:      p.MinAdvance(),
		MaxAdvanceDays:  p.MaxAdvanceDays,
		MaxRangeDays:    p.MaxRangeDays,
		Now:             s.now(),
	})
}

// ResolveSlot turns a date and "HH:MM" into a schedule-valid window for the
// requested offering. Occupancy is not checked; the store's exclusion
// constraint decides that at write time.
func (s *Service) ResolveSlot(ctx context.Context, q Query, hhmm string) (Slot, error) {
	if err := q.validate(); err != nil {
		return Slot{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, loc, err := s.Policy(ctx, q.TenantID)
	if err != nil {
		return Slot{}, err
	}
	day, err := timeofday.ParseDate(q.Date, loc)
	if err != nil {
		return Slot{}, err
	}
	minute, err := timeofday.ToMinutes(hhmm)
	if err != nil {
		return Slot{}, err
	}
	offering, err := s.Offering(ctx, q.TenantID, q.ServiceID, q.VariantID, q.StaffID)
	if err != nil {
		return Slot{}, err
	}
	if offering.TotalMinutes() <= 0 {
		return Slot{}, apperr.New(apperr.CodeInvalidDuration, "service duration must be positive")
	}

	now := s.now()
	blocked, err := s.blockedSet(ctx, q.TenantID, q.StaffID, day, day)
	if err != nil {
		return Slot{}, err
	}
	switch closedReason(day, timeofday.Midnight(now, loc), p.MaxAdvanceDays, blocked) {
	case ReasonTooFarAhead:
		return Slot{}, apperr.New(apperr.CodeTooFarAhead, "bookings open %d days ahead", p.MaxAdvanceDays)
	case ReasonPastDate:
		return Slot{}, apperr.New(apperr.CodeOutsideAvailability, "date %s is in the past", q.Date)
	case ReasonBlockedDate:
		return Slot{}, apperr.New(apperr.CodeOutsideAvailability, "date %s is closed", q.Date)
	}

	sched, ok, err := s.store.FindSchedule(ctx, q.StaffID, day.Weekday())
	if err != nil {
		return Slot{}, apperr.Store("find schedule", err)
	}
	var schedule *model.Schedule
	if ok {
		schedule = &sched
	}
	fits, err := Fits(Day{
		Date:            day,
		Schedule:        schedule,
		DurationMinutes: offering.TotalMinutes(),
		StepMinutes:     p.SlotStepMinutes,
		MinAdvance:      p.MinAdvance(),
		Now:             now,
	}, minute)
	if err != nil {
		return Slot{}, err
	}
	if !fits {
		return Slot{}, apperr.New(apperr.CodeOutsideAvailability, "%s %s is not an available start time", q.Date, hhmm)
	}

	start := timeofday.At(day, minute)
	return Slot{
		Start:    start,
		End:      start.Add(time.Duration(offering.TotalMinutes()) * time.Minute),
		Offering: offering,
		Policy:   p,
	}, nil
}

func (s *Service) blockedSet(ctx context.Context, tenantID, staffID string, from, to time.Time) (map[string]bool, error) {
	blocks, err := s.store.FindBlockedDates(ctx, tenantID, staffID,
		from.Format(timeofday.DateLayout), to.Format(timeofday.DateLayout))
	if err != nil {
		return nil, apperr.Store("find blocked dates", err)
	}
	set := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		set[b.Date] = true
	}
	return set, nil
}
