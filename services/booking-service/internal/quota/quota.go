// Package quota is the plan gate consulted before a booking is confirmed.
package quota

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/apperr"
)

const DefaultFreeMonthlyBookings = 200

type Entitlements struct {
	TenantID           string
	Tier               string
	MaxMonthlyBookings int
	UpdatedAt          time.Time
}

type Store interface {
	GetEntitlements(ctx context.Context, tenantID string) (Entitlements, bool, error)
	// CountBookingsInRange counts bookings that consumed quota (confirmed,
	// completed or no-show) starting in [from, to).
	CountBookingsInRange(ctx context.Context, tenantID string, from, to time.Time) (int, error)
	UpsertEntitlements(ctx context.Context, ent Entitlements) error
}

// Checker allows or denies one more booking for a tenant in the month of at.
type Checker interface {
	Allow(ctx context.Context, tenantID string, at time.Time) error
}

// Unlimited allows everything.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string, time.Time) error { return nil }

// MonthlyLimit caps bookings per calendar month (UTC) using the tenant's
// entitlements, falling back to the free tier.
type MonthlyLimit struct {
	store      Store
	defaultMax int
	logger     *slog.Logger
}

func NewMonthlyLimit(store Store, defaultMax int, logger *slog.Logger) *MonthlyLimit {
	if defaultMax <= 0 {
		defaultMax = DefaultFreeMonthlyBookings
	}
	return &MonthlyLimit{store: store, defaultMax: defaultMax, logger: logger}
}

func (m *MonthlyLimit) Allow(ctx context.Context, tenantID string, at time.Time) error {
	limit := m.defaultMax
	ent, ok, err := m.store.GetEntitlements(ctx, tenantID)
	if err != nil {
		return apperr.Store("get entitlements", err)
	}
	if ok && ent.MaxMonthlyBookings > 0 {
		limit = ent.MaxMonthlyBookings
	}

	at = at.UTC()
	monthStart := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	used, err := m.store.CountBookingsInRange(ctx, tenantID, monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		return apperr.Store("count monthly bookings", err)
	}
	if used >= limit {
		return apperr.New(apperr.CodeQuotaExceeded, "monthly booking limit of %d reached", limit)
	}
	return nil
}

// HandleSubscriptionEvent applies a billing subscription event to the local
// entitlements cache. Malformed events are logged and dropped.
func (m *MonthlyLimit) HandleSubscriptionEvent(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		TenantID               string `json:"tenant_id"`
		BusinessID             string `json:"business_id"`
		Tier                   string `json:"tier"`
		MaxMonthlyAppointments int    `json:"max_monthly_appointments"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		m.logger.Error("invalid subscription event payload", "err", err, "topic", msg.Topic)
		return nil
	}
	tenantID := strings.TrimSpace(payload.TenantID)
	if tenantID == "" {
		tenantID = strings.TrimSpace(payload.BusinessID)
	}
	if tenantID == "" || payload.Tier == "" || payload.MaxMonthlyAppointments <= 0 {
		m.logger.Error("missing required subscription event fields", "topic", msg.Topic)
		return nil
	}
	return m.store.UpsertEntitlements(ctx, Entitlements{
		TenantID:           tenantID,
		Tier:               payload.Tier,
		MaxMonthlyBookings: payload.MaxMonthlyAppointments,
	})
}
