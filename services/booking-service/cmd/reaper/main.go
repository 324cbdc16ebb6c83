// Command reaper runs a single sweep of expired holds and exits. It is meant
// for an external scheduler (Kubernetes CronJob, systemd timer).
package main

import (
	"context"
	"os"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/config"
	"github.com/md-rashed-zaman/salonbook/libs/db"
	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/libs/runtime"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/reaper"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

func main() {
	_ = config.LoadDotEnv(".env")
	service := config.String("SERVICE_NAME", "booking-reaper")
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service, otelx.RoleReaper))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() { _ = runtime.Shutdown(5*time.Second, otelShutdown) }()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	sweepCtx, cancel := context.WithTimeout(ctx, config.Duration("REAPER_TIMEOUT", 30*time.Second))
	defer cancel()

	res, err := reaper.New(storage.NewRepository(pool), logger, nil, nil).SweepAll(sweepCtx, reaper.TriggerManual)
	if err != nil {
		logger.Error("sweep failed", "err", err)
		cancel()
		pool.Close()
		os.Exit(1)
	}
	logger.Info("sweep finished", "holds_deleted", res.HoldsDeleted, "bookings_cancelled", res.BookingsCancelled)
}
