package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"DoomsdayClock/internal/ports"
)

// CronScheduler runs jobs on a standard five-field cron expression.
type CronScheduler struct {
	spec     string
	location *time.Location
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
	done chan struct{}
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler configured via cron expression string.
// A nil location means UTC.
func NewCronScheduler(spec string, location *time.Location, log *slog.Logger) *CronScheduler {
	if location == nil {
		location = time.UTC
	}
	return &CronScheduler{spec: spec, location: location, logger: log}
}

// Start registers job and begins ticking. Calling Start twice is a no-op.
// The schedule stops on Stop or when ctx is done.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cron != nil {
		return nil
	}

	runner := cron.New(cron.WithLocation(c.location))
	entryID, err := runner.AddFunc(c.spec, func() {
		job(time.Now().In(c.location))
	})
	if err != nil {
		return fmt.Errorf("add cron schedule %q: %w", c.spec, err)
	}

	runner.Start()
	done := make(chan struct{})
	c.cron, c.done = runner, done
	if c.logger != nil {
		c.logger.Info("scheduler started", "cron", c.spec, "entry_id", entryID, "next", runner.Entry(entryID).Next)
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = c.stop(context.Background(), runner)
		case <-done:
		}
	}()

	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (c *CronScheduler) Stop(ctx context.Context) error {
	return c.stop(ctx, nil)
}

// stop tears down the active runner. A non-nil only restricts it to that
// runner, so a stale context watcher cannot stop a later Start.
func (c *CronScheduler) stop(ctx context.Context, only *cron.Cron) error {
	c.mu.Lock()
	runner := c.cron
	if runner == nil || (only != nil && runner != only) {
		c.mu.Unlock()
		return nil
	}
	close(c.done)
	c.cron, c.done = nil, nil
	c.mu.Unlock()

	stopCtx := runner.Stop()
	select {
	case <-stopCtx.Done():
		if c.logger != nil {
			c.logger.Info("scheduler stopped")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Validate reports whether spec parses as a five-field cron expression.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return nil
}

func (c *CronScheduler) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cron != nil
}
