package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"DoomsdayClock/internal/domain"
)

type manualDriver struct {
	job     func(time.Time)
	stopped bool
}

func (m *manualDriver) Start(_ context.Context, job func(time.Time)) error {
	m.job = job
	return nil
}

func (m *manualDriver) Stop(context.Context) error {
	m.stopped = true
	return nil
}

type blockingCollector struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingCollector) CollectCandidates(context.Context, int) ([]domain.RawItem, error) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
		<-b.release
	}
	return sampleRaws(), nil
}

func TestSchedulerTriggersRefresh(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	driver := &manualDriver{}
	p := newTestPipeline(t, PipelineDeps{Collector: &fakeCollector{items: sampleRaws()}, Store: store})
	s := NewScheduler(driver, p, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if driver.job == nil {
		t.Fatalf("job not registered")
	}
	driver.job(refreshNow)

	current, err := p.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.GlobalRisk == 0.35 {
		t.Fatalf("scheduled job did not refresh the store")
	}

	if err := s.Stop(context.Background()); err != nil || !driver.stopped {
		t.Fatalf("Stop: %v stopped=%v", err, driver.stopped)
	}
}

func TestSchedulerWithoutDriver(t *testing.T) {
	t.Parallel()

	s := NewScheduler(nil, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerSkipsOverlappingTrigger(t *testing.T) {
	t.Parallel()

	collector := &blockingCollector{entered: make(chan struct{}), release: make(chan struct{})}
	driver := &manualDriver{}
	p := newTestPipeline(t, PipelineDeps{Collector: collector, Store: openStore(t)})
	s := NewScheduler(driver, p, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		driver.job(refreshNow)
	}()

	<-collector.entered
	driver.job(refreshNow.Add(time.Minute))
	if got := collector.calls.Load(); got != 1 {
		t.Fatalf("overlapping trigger ran a second cycle, calls=%d", got)
	}

	close(collector.release)
	wg.Wait()

	driver.job(refreshNow.Add(2 * time.Minute))
	if got := collector.calls.Load(); got != 2 {
		t.Fatalf("trigger after completion should run, calls=%d", got)
	}
}
