// Package reaper reclaims expired holds. Sweeps are idempotent and safe to run
// concurrently with each other and with reservations.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

const (
	TriggerInline = "inline"
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

type Store interface {
	// ReapExpired deletes dedicated holds and cancels sentinel pending
	// bookings whose expires_at is before now. An empty tenantID sweeps
	// every tenant.
	ReapExpired(ctx context.Context, tenantID string, now time.Time) (model.ReapResult, error)
}

type Reaper struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(store Store, logger *slog.Logger, m *metrics.Metrics, now func() time.Time) *Reaper {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: store, logger: logger, metrics: m, now: now}
}

// SweepTenant is the inline sweep run before reservations.
func (r *Reaper) SweepTenant(ctx context.Context, tenantID string) (model.ReapResult, error) {
	return r.sweep(ctx, tenantID, TriggerInline)
}

// SweepAll sweeps every tenant.
func (r *Reaper) SweepAll(ctx context.Context, trigger string) (model.ReapResult, error) {
	return r.sweep(ctx, "", trigger)
}

func (r *Reaper) sweep(ctx context.Context, tenantID, trigger string) (res model.ReapResult, err error) {
	ctx, span := otelx.StartSpan(ctx, "reaper", "reaper.sweep",
		attribute.String("tenant_id", tenantID),
		attribute.String("trigger", trigger),
	)
	defer func() { otelx.EndSpan(span, err) }()

	res, err = r.store.ReapExpired(ctx, tenantID, r.now())
	if err != nil {
		r.metrics.ReapFailed()
		return model.ReapResult{}, err
	}
	r.metrics.Reaped(trigger, res.Total())
	span.SetAttributes(attribute.Int("reaped", res.Total()))
	if res.Total() > 0 {
		r.logger.Info("expired holds reaped",
			"tenant_id", tenantID,
			"trigger", trigger,
			"holds_deleted", res.HoldsDeleted,
			"bookings_cancelled", res.BookingsCancelled,
		)
	}
	return res, nil
}
