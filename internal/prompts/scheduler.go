package prompts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/familydiary/diary/internal/logging"
)

// Scheduler runs prompt generation and purge on a fixed interval.
type Scheduler struct {
	service  *Service
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

// NewScheduler returns a Scheduler. A non-positive interval defaults to one hour.
func NewScheduler(service *Service, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{service: service, logger: logger, interval: interval, now: time.Now}
}

// Start runs a cycle immediately and then on every tick until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("prompt scheduler started", slog.Duration("interval", s.interval))
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("prompt scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce generates today's prompt and purges expired ones. Failures are logged.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx, span := logging.StartSpan(logging.WithLogger(ctx, s.logger), "prompt.cycle")
	now := s.now()

	_, _, genErr := s.service.Generate(ctx, now)
	if genErr != nil {
		s.logger.Error("prompt generation failed", slog.String("error", genErr.Error()))
	}
	_, purgeErr := s.service.Purge(ctx, now)
	if purgeErr != nil {
		s.logger.Error("prompt purge failed", slog.String("error", purgeErr.Error()))
	}
	span.End(errors.Join(genErr, purgeErr))
}
