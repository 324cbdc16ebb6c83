package reservation

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/quota"
)

const tracerName = "reservation"

// Store is the write side of the persistence collaborator. Every write that
// claims calendar time (InsertHold, InsertBooking, MoveBooking) must be
// guarded by an atomic exclusion check in the store and fail with
// apperr.ErrSlotTaken on overlap. Events are recorded atomically with the
// write they describe.
type Store interface {
	// InsertHold reclaims expired holds overlapping h before inserting it.
	InsertHold(ctx context.Context, h model.Hold, now time.Time, evt outbox.Event) error
	GetHold(ctx context.Context, holdID string) (model.Hold, error)
	// ConfirmHold re-checks expiry at write time. An expired hold is
	// reclaimed and apperr.ErrExpired returned.
	ConfirmHold(ctx context.Context, c model.HoldConfirmation, evt outbox.Event) (model.Booking, error)
	DeleteHold(ctx context.Context, holdID, sessionToken string) (bool, error)
	InsertBooking(ctx context.Context, b model.Booking, now time.Time, evt outbox.Event) error
	GetBooking(ctx context.Context, tenantID, bookingID string) (model.Booking, error)
	FindBookingByCancelToken(ctx context.Context, token string) (model.Booking, error)
	UpdateStatus(ctx context.Context, c model.StatusChange, evt outbox.Event) (model.Booking, error)
	MoveBooking(ctx context.Context, m model.BookingMove, evt outbox.Event) (model.Booking, error)
	// FindIdempotency returns the finished request recorded under key.
	// InsertHold and InsertBooking record it in the same transaction and fail
	// with apperr.ErrDuplicateRequest when key already carries a result.
	FindIdempotency(ctx context.Context, tenantID, key string) (model.IdempotencyRecord, bool, error)
}

// Slots resolves a requested start time against the tenant's schedule.
type Slots interface {
	ResolveSlot(ctx context.Context, q availability.Query, hhmm string) (availability.Slot, error)
}

// Sweeper reclaims expired holds of one tenant.
type Sweeper interface {
	SweepTenant(ctx context.Context, tenantID string) (model.ReapResult, error)
}

type Config struct {
	Store             Store
	Slots             Slots
	Quota             quota.Checker
	Sweeper           Sweeper
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
	Now               func() time.Time
	NewID             func() string
	StoreTimeout      time.Duration
	InlineReapTimeout time.Duration
}

// Manager runs the hold, confirm, cancel and status lifecycle. It holds no
// locks; the store's exclusion constraint is the only arbiter between
// concurrent requests.
type Manager struct {
	store       Store
	slots       Slots
	quota       quota.Checker
	sweeper     Sweeper
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
	timeout     time.Duration
	reapTimeout time.Duration
}

func NewManager(cfg Config) *Manager {
	if cfg.Quota == nil {
		cfg.Quota = quota.Unlimited{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if cfg.InlineReapTimeout <= 0 {
		cfg.InlineReapTimeout = time.Second
	}
	return &Manager{
		store:       cfg.Store,
		slots:       cfg.Slots,
		quota:       cfg.Quota,
		sweeper:     cfg.Sweeper,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         cfg.Now,
		newID:       cfg.NewID,
		timeout:     cfg.StoreTimeout,
		reapTimeout: cfg.InlineReapTimeout,
	}
}

type ReserveRequest struct {
	TenantID     string
	ServiceID    string
	VariantID    string
	StaffID      string
	Date         string
	Time         string
	SessionToken string

	// IdempotencyKey makes retries of the same request return the original
	// hold.
	IdempotencyKey string
}

// Reserve places a hold on the requested slot. The hold expires after the
// tenant's hold TTL unless confirmed.
func (m *Manager) Reserve(ctx context.Context, r ReserveRequest) (hold model.Hold, err error) {
	ctx, span := otelx.StartSpan(ctx, tracerName, "reservation.reserve",
		attribute.String("tenant_id", r.TenantID),
		attribute.String("staff_id", r.StaffID),
		attribute.String("date", r.Date),
		attribute.String("time", r.Time),
	)
	defer func() { otelx.EndSpan(span, err) }()

	key, err := normalizeIdempotencyKey(r.IdempotencyKey)
	if err != nil {
		return model.Hold{}, err
	}
	if prior, found, err := replay[model.Hold](ctx, m, r.TenantID, key, model.OperationReserve); err != nil || found {
		return prior, err
	}

	m.reapInline(ctx, r.TenantID)

	slot, err := m.slots.ResolveSlot(ctx, availability.Query{
		TenantID:  r.TenantID,
		ServiceID: r.ServiceID,
		VariantID: r.VariantID,
		StaffID:   r.StaffID,
		Date:      r.Date,
	}, r.Time)
	if err != nil {
		return model.Hold{}, err
	}

	now := m.now()
	token := strings.TrimSpace(r.SessionToken)
	if token == "" {
		token = m.newID()
	}
	hold = model.Hold{
		ID:             m.newID(),
		TenantID:       r.TenantID,
		StaffID:        r.StaffID,
		ServiceID:      slot.Offering.ServiceID,
		VariantID:      slot.Offering.VariantID,
		StartTime:      slot.Start.UTC(),
		EndTime:        slot.End.UTC(),
		ExpiresAt:      now.Add(slot.Policy.HoldTTL()).UTC(),
		SessionToken:   token,
		PriceCents:     slot.Offering.PriceCents,
		CreatedAt:      now.UTC(),
		IdempotencyKey: key,
	}
	evt, err := outbox.NewEvent(outbox.TypeHoldCreated, outbox.AggregateBooking, hold.ID, hold.TenantID, map[string]any{
		"hold_id":    hold.ID,
		"tenant_id":  hold.TenantID,
		"staff_id":   hold.StaffID,
		"service_id": hold.ServiceID,
		"variant_id": hold.VariantID,
		"start_time": hold.StartTime,
		"end_time":   hold.EndTime,
		"expires_at": hold.ExpiresAt,
	})
	if err != nil {
		return model.Hold{}, err
	}

	sctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.store.InsertHold(sctx, hold, now, evt); err != nil {
		if errors.Is(err, apperr.ErrDuplicateRequest) {
			if prior, found, rerr := replay[model.Hold](ctx, m, r.TenantID, key, model.OperationReserve); rerr != nil || found {
				return prior, rerr
			}
		}
		if errors.Is(err, apperr.ErrSlotTaken) {
			m.metrics.SlotConflict("reserve")
		}
		return model.Hold{}, apperr.Store("insert hold", err)
	}

	m.metrics.HoldCreated()
	m.logger.Info("hold created",
		"hold_id", hold.ID,
		"tenant_id", hold.TenantID,
		"staff_id", hold.StaffID,
		"start_time", hold.StartTime,
		"expires_at", hold.ExpiresAt,
	)
	return hold, nil
}

type ConfirmRequest struct {
	// TenantID is optional; when set the hold must belong to it.
	TenantID string
	HoldID   string
	Client   model.Client
}

// Confirm attaches client details to a live hold and makes it a confirmed
// booking.
func (m *Manager) Confirm(ctx context.Context, r ConfirmRequest) (b model.Booking, err error) {
	ctx, span := otelx.StartSpan(ctx, tracerName, "reservation.confirm", attribute.String("hold_id", r.HoldID))
	defer func() { otelx.EndSpan(span, err) }()

	if strings.TrimSpace(r.HoldID) == "" {
		return model.Booking{}, apperr.Validation("reservation_id is required")
	}
	client, err := normalizeClient(r.Client)
	if err != nil {
		return model.Booking{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	hold, err := m.store.GetHold(ctx, r.HoldID)
	if err != nil {
		return model.Booking{}, apperr.Store("get hold", err)
	}
	if r.TenantID != "" && hold.TenantID != r.TenantID {
		return model.Booking{}, apperr.NotFound("reservation")
	}
	if hold.Reclaimed {
		m.metrics.HoldExpired()
		m.logger.Info("confirm on reclaimed hold", "hold_id", hold.ID, "tenant_id", hold.TenantID)
		return model.Booking{}, apperr.ErrExpired
	}

	now := m.now()
	if !hold.Expired(now) {
		if err := m.quota.Allow(ctx, hold.TenantID, hold.StartTime); err != nil {
			return model.Booking{}, err
		}
	}

	evt, err := outbox.NewEvent(outbox.TypeBookingConfirmed, outbox.AggregateBooking, hold.ID, hold.TenantID, map[string]any{
		"booking_id":   hold.ID,
		"tenant_id":    hold.TenantID,
		"staff_id":     hold.StaffID,
		"service_id":   hold.ServiceID,
		"variant_id":   hold.VariantID,
		"start_time":   hold.StartTime,
		"end_time":     hold.EndTime,
		"client_name":  client.Name,
		"client_phone": client.Phone,
		"client_email": client.Email,
		"source":       "widget",
	})
	if err != nil {
		return model.Booking{}, err
	}

	b, err = m.store.ConfirmHold(ctx, model.HoldConfirmation{
		HoldID:      hold.ID,
		TenantID:    hold.TenantID,
		Client:      client,
		CancelToken: m.newID(),
		Now:         now,
	}, evt)
	if err != nil {
		if errors.Is(err, apperr.ErrExpired) {
			m.metrics.HoldExpired()
			m.logger.Info("confirm on expired hold", "hold_id", hold.ID, "tenant_id", hold.TenantID)
		}
		return model.Booking{}, apperr.Store("confirm hold", err)
	}

	m.metrics.BookingConfirmed("widget")
	m.logger.Info("booking confirmed", "booking_id", b.ID, "tenant_id", b.TenantID, "staff_id", b.StaffID)
	return b, nil
}

// CancelHold releases a hold if sessionToken matches. Unknown holds and token
// mismatches are a silent no-op.
func (m *Manager) CancelHold(ctx context.Context, holdID, sessionToken string) (err error) {
	ctx, span := otelx.StartSpan(ctx, tracerName, "reservation.cancel_hold", attribute.String("hold_id", holdID))
	defer func() { otelx.EndSpan(span, err) }()

	holdID, sessionToken = strings.TrimSpace(holdID), strings.TrimSpace(sessionToken)
	if holdID == "" || sessionToken == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	deleted, err := m.store.DeleteHold(ctx, holdID, sessionToken)
	if err != nil {
		return apperr.Store("delete hold", err)
	}
	if deleted {
		m.logger.Info("hold released", "hold_id", holdID)
	}
	return nil
}

// CancelByToken is the client's self-service cancellation of an upcoming
// booking.
func (m *Manager) CancelByToken(ctx context.Context, token string) (b model.Booking, err error) {
	ctx, span := otelx.StartSpan(ctx, tracerName, "reservation.cancel_booking")
	defer func() { otelx.EndSpan(span, err) }()

	if strings.TrimSpace(token) == "" {
		return model.Booking{}, apperr.Validation("token is required")
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	b, err = m.store.FindBookingByCancelToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return model.Booking{}, apperr.Store("find booking by token", err)
	}
	now := m.now()
	if err := checkUpcoming(b, model.StatusCancelled, now); err != nil {
		return model.Booking{}, err
	}
	return m.changeStatus(ctx, b, model.StatusCancelled, model.CancelledByClient, now)
}

// Transition applies a dashboard status change.
func (m *Manager) Transition(ctx context.Context, tenantID, bookingID string, to model.Status) (b model.Booking, err error) {
	ctx, span := otelx.StartSpan(ctx, tracerName, "reservation.transition",
		attribute.String("tenant_id", tenantID),
		attribute.String("booking_id", bookingID),
		attribute.String("to", string(to)),
	)
	defer func() { otelx.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	b, err = m.store.GetBooking(ctx, tenantID, bookingID)
	if err != nil {
		return model.Booking{}, apperr.Store("get booking", err)
	}
	if b.IsHold() && to == model.StatusConfirmed {
		return model.Booking{}, apperr.Validation("a reservation is confirmed by the client with their details")
	}
	if !model.CanTransition(b.Status, to) {
		return model.Booking{}, apperr.InvalidTransition(string(b.Status), string(to),
			model.StatusStrings(model.AllowedTransitions(b.Status)))
	}
	cancelledBy := ""
	if to == model.StatusCancelled {
		cancelledBy = model.CancelledByTenant
	}
	return m.changeStatus(ctx, b, to, cancelledBy, m.now())
}

func (m *Manager) changeStatus(ctx context.Context, b model.Booking, to model.Status, cancelledBy string, now time.Time) (model.Booking, error) {
	eventType := outbox.TypeStatusChanged
	if to == model.StatusCancelled {
		eventType = outbox.TypeBookingCancelled
	}
	evt, err := outbox.NewEvent(eventType, outbox.AggregateBooking, b.ID, b.TenantID, map[string]any{
		"booking_id":   b.ID,
		"tenant_id":    b.TenantID,
		"staff_id":     b.StaffID,
		"start_time":   b.StartTime,
		"from":         b.Status,
		"to":           to,
		"cancelled_by": cancelledBy,
		"client_email": b.ClientEmail,
	})
	if err != nil {
		return model.Booking{}, err
	}

	updated, err := m.store.UpdateStatus(ctx, model.StatusChange{
		TenantID:    b.TenantID,
		BookingID:   b.ID,
		From:        b.Status,
		To:          to,
		CancelledBy: cancelledBy,
		At:          now,
	}, evt)
	if err != nil {
		return model.Booking{}, apperr.Store("update status", err)
	}
	m.metrics.Transition(string(b.Status), string(to))
	m.logger.Info("booking status changed", "booking_id", b.ID, "tenant_id", b.TenantID, "from", b.Status, "to", to)
	return updated, nil
}

type BookRequest struct {
	TenantID  string
	ServiceID string
	VariantID string
	StaffID   string
	Date      string
	Time      string
	Client    model.Client

	// IdempotencyKey makes retries of the same request return the original
	// booking.
	IdempotencyKey string
}

// Book creates a confirmed booking in one step (dashboard, walk-ins).
func (m *Manager) Book(ctx context.Context, r BookRequest) (b model.Booking, err error) {
	ctx, span := otelx.StartSpan(ctx, tracerName, "reservation.book",
		attribute.String("tenant_id", r.TenantID),
		attribute.String("staff_id", r.StaffID),
	)
	defer func() { otelx.EndSpan(span, err) }()

	key, err := normalizeIdempotencyKey(r.IdempotencyKey)
	if err != nil {
		return model.Booking{}, err
	}
	if prior, found, err := replay[model.Booking](ctx, m, r.TenantID, key, model.OperationBook); err != nil || found {
		return prior, err
	}

	client, err := normalizeClient(r.Client)
	if err != nil {
		return model.Booking{}, err
	}
	m.reapInline(ctx, r.TenantID)

	slot, err := m.slots.ResolveSlot(ctx, availability.Query{
		TenantID:  r.TenantID,
		ServiceID: r.ServiceID,
		VariantID: r.VariantID,
		StaffID:   r.StaffID,
		Date:      r.Date,
	}, r.Time)
	if err != nil {
		return model.Booking{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.quota.Allow(ctx, r.TenantID, slot.Start); err != nil {
		return model.Booking{}, err
	}

	now := m.now()
	b = model.Booking{
		ID:             m.newID(),
		TenantID:       r.TenantID,
		ServiceID:      slot.Offering.ServiceID,
		VariantID:      slot.Offering.VariantID,
		StaffID:        r.StaffID,
		ClientName:     client.Name,
		ClientPhone:    client.Phone,
		ClientEmail:    client.Email,
		Notes:          client.Notes,
		StartTime:      slot.Start.UTC(),
		EndTime:        slot.End.UTC(),
		PriceCents:     slot.Offering.PriceCents,
		Status:         model.StatusConfirmed,
		CancelToken:    m.newID(),
		CreatedAt:      now.UTC(),
		IdempotencyKey: key,
	}
	evt, err := outbox.NewEvent(outbox.TypeBookingConfirmed, outbox.AggregateBooking, b.ID, b.TenantID, map[string]any{
		"booking_id":   b.ID,
		"tenant_id":    b.TenantID,
		"staff_id":     b.StaffID,
		"service_id":   b.ServiceID,
		"variant_id":   b.VariantID,
		"start_time":   b.StartTime,
		"end_time":     b.EndTime,
		"client_name":  b.ClientName,
		"client_phone": b.ClientPhone,
		"client_email": b.ClientEmail,
		"source":       "dashboard",
	})
	if err != nil {
		return model.Booking{}, err
	}
	if err := m.store.InsertBooking(ctx, b, now, evt); err != nil {
		if errors.Is(err, apperr.ErrDuplicateRequest) {
			if prior, found, rerr := replay[model.Booking](ctx, m, r.TenantID, key, model.OperationBook); rerr != nil || found {
				return prior, rerr
			}
		}
		if errors.Is(err, apperr.ErrSlotTaken) {
			m.metrics.SlotConflict("book")
		}
		return model.Booking{}, apperr.Store("insert booking", err)
	}

	m.metrics.BookingConfirmed("dashboard")
	m.logger.Info("booking created", "booking_id", b.ID, "tenant_id", b.TenantID, "staff_id", b.StaffID)
	return b, nil
}

type RescheduleRequest struct {
	TenantID  string
	BookingID string
	Date      string
	Time      string
}

// Reschedule moves an upcoming booking to another slot of the same staff
// member and offering.
func (m *Manager) Reschedule(ctx context.Context, r RescheduleRequest) (b model.Booking, err error) {
	ctx, span := otelx.StartSpan(ctx, tracerName, "reservation.reschedule",
		attribute.String("tenant_id", r.TenantID),
		attribute.String("booking_id", r.BookingID),
	)
	defer func() { otelx.EndSpan(span, err) }()

	current, err := m.getBooking(ctx, r.TenantID, r.BookingID)
	if err != nil {
		return model.Booking{}, err
	}
	if current.IsHold() {
		return model.Booking{}, apperr.Validation("a reservation cannot be rescheduled")
	}
	now := m.now()
	if err := checkUpcoming(current, current.Status, now); err != nil {
		return model.Booking{}, err
	}

	slot, err := m.slots.ResolveSlot(ctx, availability.Query{
		TenantID:         current.TenantID,
		ServiceID:        current.ServiceID,
		VariantID:        current.VariantID,
		StaffID:          current.StaffID,
		Date:             r.Date,
		ExcludeBookingID: current.ID,
	}, r.Time)
	if err != nil {
		return model.Booking{}, err
	}

	evt, err := outbox.NewEvent(outbox.TypeBookingRescheduled, outbox.AggregateBooking, current.ID, current.TenantID, map[string]any{
		"booking_id":     current.ID,
		"tenant_id":      current.TenantID,
		"staff_id":       current.StaffID,
		"old_start_time": current.StartTime,
		"old_end_time":   current.EndTime,
		"start_time":     slot.Start.UTC(),
		"end_time":       slot.End.UTC(),
		"client_email":   current.ClientEmail,
	})
	if err != nil {
		return model.Booking{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	b, err = m.store.MoveBooking(ctx, model.BookingMove{
		TenantID:  current.TenantID,
		BookingID: current.ID,
		Start:     slot.Start.UTC(),
		End:       slot.End.UTC(),
		Now:       now,
	}, evt)
	if err != nil {
		if errors.Is(err, apperr.ErrSlotTaken) {
			m.metrics.SlotConflict("reschedule")
		}
		return model.Booking{}, apperr.Store("move booking", err)
	}
	m.logger.Info("booking rescheduled", "booking_id", b.ID, "tenant_id", b.TenantID, "start_time", b.StartTime)
	return b, nil
}

func (m *Manager) getBooking(ctx context.Context, tenantID, bookingID string) (model.Booking, error) {
	if strings.TrimSpace(bookingID) == "" {
		return model.Booking{}, apperr.Validation("booking_id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	b, err := m.store.GetBooking(ctx, tenantID, bookingID)
	if err != nil {
		return model.Booking{}, apperr.Store("get booking", err)
	}
	return b, nil
}

// reapInline sweeps the tenant's expired holds before a write. Failures are
// logged and never abort the caller.
func (m *Manager) reapInline(ctx context.Context, tenantID string) {
	if m.sweeper == nil || tenantID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.reapTimeout)
	defer cancel()
	if _, err := m.sweeper.SweepTenant(ctx, tenantID); err != nil {
		m.logger.Warn("inline reap failed", "tenant_id", tenantID, "err", err)
	}
}

// checkUpcoming allows changes only to pending or confirmed bookings that
// have not started yet.
func checkUpcoming(b model.Booking, to model.Status, now time.Time) error {
	switch b.Status {
	case model.StatusCancelled:
		return apperr.ErrAlreadyCancelled
	case model.StatusCompleted, model.StatusNoShow:
		return apperr.InvalidTransition(string(b.Status), string(to), nil)
	}
	if !b.StartTime.After(now) {
		return apperr.ErrPastBooking
	}
	return nil
}

func normalizeClient(c model.Client) (model.Client, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)
	c.Notes = strings.TrimSpace(c.Notes)
	if c.Name == "" || c.Phone == "" {
		return model.Client{}, apperr.Validation("client_name and client_phone are required")
	}
	if strings.EqualFold(c.Name, model.ReservedClientName) {
		return model.Client{}, apperr.Validation("client_name %q is reserved", c.Name)
	}
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return model.Client{}, apperr.Validation("client_email is not a valid address")
		}
	}
	if len(c.Notes) > 1000 {
		return model.Client{}, apperr.Validation("notes must be at most 1000 characters")
	}
	return c, nil
}
