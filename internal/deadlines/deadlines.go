// Package deadlines runs the periodic sweep that flags workflows whose
// review deadline has passed.
package deadlines

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JaimeStill/concord/pkg/lifecycle"
)

// Sweeper flags overdue workflows and reports how many were newly flagged.
type Sweeper interface {
	SweepDeadlines(ctx context.Context, now time.Time) (int, error)
}

// Scheduler invokes a Sweeper on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	cfg     *Config
	logger  *slog.Logger
}

// New creates a Scheduler. Overlapping sweeps are skipped and panics
// are recovered.
func New(cfg *Config, sweeper Sweeper, logger *slog.Logger) *Scheduler {
	logger = logger.With("system", "deadlines")
	cl := cronLogger{logger}

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sweeper: sweeper,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start schedules the sweep and registers the cron runner with lc.
func (s *Scheduler) Start(lc *lifecycle.Coordinator) error {
	if s.cfg.Disabled {
		s.logger.Info("deadline sweep disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		s.Sweep(lc.Context())
	}); err != nil {
		return fmt.Errorf("schedule deadline sweep: %w", err)
	}

	lc.OnStartup(func() {
		s.cron.Start()
		s.logger.Info("deadline sweep scheduled", "schedule", s.cfg.Schedule)
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		<-s.cron.Stop().Done()
		s.logger.Info("deadline sweep stopped")
	})

	return nil
}

// Sweep runs one pass bounded by the configured timeout.
func (s *Scheduler) Sweep(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TimeoutDuration())
	defer cancel()

	n, err := s.sweeper.SweepDeadlines(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("deadline sweep failed", "flagged", n, "error", err)
		return n
	}
	if n > 0 {
		s.logger.Info("deadline sweep complete", "flagged", n)
	}
	return n
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
