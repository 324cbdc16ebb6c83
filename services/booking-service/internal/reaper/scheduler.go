package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/md-rashed-zaman/salonbook/libs/httpx"
)

// DefaultSchedule runs a sweep every minute.
const DefaultSchedule = "@every 1m"

// Scheduler triggers SweepAll on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	reaper  *Reaper
	logger  *slog.Logger
	timeout time.Duration
}

func NewScheduler(r *Reaper, logger *slog.Logger, spec string, timeout time.Duration) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		reaper:  r,
		logger:  logger,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ctx = httpx.ContextWithRequestID(ctx, "")
	if _, err := s.reaper.SweepAll(ctx, TriggerCron); err != nil {
		s.logger.Error("scheduled reap failed", "err", err, "request_id", httpx.RequestIDFromContext(ctx))
	}
}

// Run starts the schedule and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("reaper scheduler started")
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("reaper scheduler stopped")
}
