package usecase

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"DoomsdayClock/internal/ports"
)

// Scheduler wires the cron driver with the refresh use case. At most one
// refresh runs at a time; a trigger that fires while the previous cycle is
// still running is dropped.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
	running  atomic.Bool
}

// NewScheduler returns a helper to start/stop recurring refreshes.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{driver: driver, pipeline: pipeline, logger: logger}
}

// Start registers the pipeline refresh with the provided scheduler.
// A failed cycle is logged and the schedule keeps running.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	return s.driver.Start(ctx, func(trigger time.Time) {
		s.run(ctx, trigger)
	})
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}

func (s *Scheduler) run(ctx context.Context, trigger time.Time) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous refresh still running, trigger skipped", "trigger", trigger)
		return
	}
	defer s.running.Store(false)

	started := time.Now()
	summary, err := s.pipeline.Refresh(ctx)
	if err != nil {
		s.logger.Error("scheduled refresh failed", "trigger", trigger, "error", err)
		return
	}
	s.logger.Info("scheduled refresh done",
		"trigger", trigger,
		"took", time.Since(started),
		"items_scored", summary.ItemsScored,
		"minutes_to_midnight", summary.MinutesToMidnight,
	)
}
