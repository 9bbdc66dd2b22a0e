package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestStartRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler("every now and then", nil, nil)
	if err := s.Start(context.Background(), func(time.Time) {}); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop after failed start: %v", err)
	}
}

func TestStartNilJobIsNoop(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler("bad spec", nil, nil)
	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("nil job should be ignored: %v", err)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler("*/30 * * * *", time.UTC, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, func(time.Time) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx, func(time.Time) {}); err != nil {
		t.Fatalf("second Start should be a no-op: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestContextCancelStopsScheduler(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler("*/30 * * * *", time.UTC, nil)
	ctx, cancel := context.WithCancel(context.Background())

	if err := s.Start(ctx, func(time.Time) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.running() {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler still running after context cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStaleContextDoesNotStopRestart(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler("*/30 * * * *", time.UTC, nil)
	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	if err := s.Start(first, func(time.Time) {}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Start(context.Background(), func(time.Time) {}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	cancelFirst()
	time.Sleep(50 * time.Millisecond)

	if !s.running() {
		t.Fatalf("cancelling the first context stopped the restarted scheduler")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := Validate("*/30 * * * *"); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if err := Validate("61 * * * *"); err == nil {
		t.Fatalf("expected error for out-of-range minute")
	}
}
