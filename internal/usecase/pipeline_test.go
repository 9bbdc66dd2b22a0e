package usecase

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"DoomsdayClock/internal/domain"
	"DoomsdayClock/internal/infrastructure/storage"
	"DoomsdayClock/internal/risk"
	"DoomsdayClock/internal/scoring"
)

var refreshNow = time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC)

type fakeCollector struct {
	items []domain.RawItem
	err   error
	limit int
}

func (f *fakeCollector) CollectCandidates(_ context.Context, limitPerSource int) ([]domain.RawItem, error) {
	f.limit = limitPerSource
	return f.items, f.err
}

type fakeNotifier struct {
	digests []string
	err     error
}

func (f *fakeNotifier) PublishDigest(_ context.Context, digest string) error {
	f.digests = append(f.digests, digest)
	return f.err
}

type failingStore struct {
	*storage.BoltStore
	itemsErr error
}

func (f failingStore) UpsertItems(context.Context, []domain.NewsItem) (int, error) {
	return 0, f.itemsErr
}

func sampleRaws() []domain.RawItem {
	return []domain.RawItem{
		{Source: "Reuters", Title: "Nuclear war fears grow", URL: "https://example.org/1", PublishedAt: refreshNow.Add(-time.Hour)},
		{Source: "Reuters", Title: "duplicate", URL: "https://example.org/1", PublishedAt: refreshNow},
		{Source: "Reuters", Title: "no url"},
		{Source: "Local", Title: "Bakery opens downtown", URL: "https://example.org/2", PublishedAt: refreshNow.Add(-200 * time.Hour)},
		{Source: "BBC", Title: "Pandemic outbreak spreads", URL: "https://example.org/3"},
	}
}

func openStore(t *testing.T) *storage.BoltStore {
	t.Helper()

	store, err := storage.OpenBoltStore(filepath.Join(t.TempDir(), "risk.db"), 60,
		storage.WithBoltClock(func() time.Time { return refreshNow }))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestPipeline(t *testing.T, deps PipelineDeps) *Pipeline {
	t.Helper()

	if deps.Now == nil {
		deps.Now = func() time.Time { return refreshNow }
	}
	return NewPipeline(deps)
}

func TestRefreshSummaryMatchesStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	collector := &fakeCollector{items: sampleRaws()}
	notifier := &fakeNotifier{}
	engine := scoring.New(scoring.Options{})

	p := newTestPipeline(t, PipelineDeps{
		Collector:      collector,
		Engine:         engine,
		Store:          store,
		Notifier:       notifier,
		LimitPerSource: 7,
	})

	summary, err := p.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if collector.limit != 7 {
		t.Fatalf("collector got limit %d", collector.limit)
	}
	if summary.ItemsCollected != 3 || summary.ItemsStored != 3 || summary.ItemsScored != 3 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	if !summary.RefreshedAt.Equal(refreshNow) {
		t.Fatalf("unexpected refreshed_at %v", summary.RefreshedAt)
	}

	items := []domain.NewsItem{
		{Source: "Reuters", Title: "Nuclear war fears grow", URL: "https://example.org/1", PublishedAt: refreshNow.Add(-time.Hour)},
		{Source: "Local", Title: "Bakery opens downtown", URL: "https://example.org/2", PublishedAt: refreshNow.Add(-200 * time.Hour)},
		{Source: "BBC", Title: "Pandemic outbreak spreads", URL: "https://example.org/3", PublishedAt: refreshNow},
	}
	var sum float64
	for _, item := range items {
		sum += engine.Score(item, refreshNow).Final
	}
	want := sum / 3
	if math.Abs(summary.GlobalRisk-want) > 1e-9 {
		t.Fatalf("global risk %v, want %v", summary.GlobalRisk, want)
	}
	if summary.MinutesToMidnight != risk.ToMinutes(summary.GlobalRisk) || summary.SecondsToMidnight != risk.ToSeconds(summary.MinutesToMidnight) {
		t.Fatalf("clock not derived from risk: %+v", summary)
	}

	current, err := p.Current(ctx)
	if err != nil || current.GlobalRisk != summary.GlobalRisk {
		t.Fatalf("Current disagrees with summary: %+v %v", current, err)
	}

	if len(notifier.digests) != 1 || !strings.Contains(notifier.digests[0], "Nuclear war fears grow") {
		t.Fatalf("digest not published: %q", notifier.digests)
	}
}

func TestRefreshIsIdempotentPerItem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	p := newTestPipeline(t, PipelineDeps{Collector: &fakeCollector{items: sampleRaws()}, Store: store})

	first, err := p.Refresh(ctx)
	if err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	second, err := p.Refresh(ctx)
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}

	if first.GlobalRisk != second.GlobalRisk {
		t.Fatalf("rerun changed risk: %v vs %v", first.GlobalRisk, second.GlobalRisk)
	}
	entries, err := p.Latest(ctx, domain.FeedFilter{Limit: 50})
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("rerun duplicated rows: %d", len(entries))
	}
}

func TestRefreshToleratesCollectorError(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, PipelineDeps{
		Collector: &fakeCollector{items: sampleRaws()[:1], err: errors.New("feed down")},
		Store:     openStore(t),
	})

	summary, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("collector errors must not abort: %v", err)
	}
	if summary.ItemsScored != 1 {
		t.Fatalf("expected partial batch to be scored, got %+v", summary)
	}
}

func TestRefreshEmptyBatchReportsNeutralRisk(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, PipelineDeps{Collector: &fakeCollector{}, Store: openStore(t)})

	summary, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if summary.ItemsCollected != 0 || summary.GlobalRisk != domain.NeutralRisk || summary.MinutesToMidnight != 9.95 {
		t.Fatalf("unexpected cold start summary %+v", summary)
	}
}

func TestRefreshStoreErrorIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	p := newTestPipeline(t, PipelineDeps{
		Collector: &fakeCollector{items: sampleRaws()},
		Store:     failingStore{BoltStore: openStore(t), itemsErr: boom},
	})

	if _, err := p.Refresh(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestRefreshNotifierErrorIsLogged(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{err: errors.New("telegram down")}
	p := newTestPipeline(t, PipelineDeps{
		Collector: &fakeCollector{items: sampleRaws()},
		Store:     openStore(t),
		Notifier:  notifier,
	})

	if _, err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("notifier errors must not abort: %v", err)
	}
	if len(notifier.digests) != 1 {
		t.Fatalf("notifier not called")
	}
}

func TestLatestFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	if _, err := store.UpsertItems(ctx, []domain.NewsItem{
		{Source: "BBC", Category: "Nuclear", URL: "a", PublishedAt: refreshNow.Add(-3 * time.Hour)},
		{Source: "BBC", Category: "Clima", URL: "b", PublishedAt: refreshNow.Add(-2 * time.Hour)},
		{Source: "NYT", Category: "Nuclear", URL: "c", PublishedAt: refreshNow.Add(-1 * time.Hour)},
	}); err != nil {
		t.Fatalf("UpsertItems: %v", err)
	}
	if _, err := store.UpsertScores(ctx, []domain.ThreatScore{
		{ItemURL: "a", Final: 0.8, Label: domain.LabelCritical},
		{ItemURL: "c", Final: 0.3, Label: domain.LabelMedium},
	}); err != nil {
		t.Fatalf("UpsertScores: %v", err)
	}

	p := newTestPipeline(t, PipelineDeps{Store: store})

	cases := []struct {
		name   string
		filter domain.FeedFilter
		want   []string
	}{
		{name: "all", filter: domain.FeedFilter{Limit: 10}, want: []string{"c", "b", "a"}},
		{name: "source", filter: domain.FeedFilter{Limit: 10, Source: "BBC"}, want: []string{"b", "a"}},
		{name: "category", filter: domain.FeedFilter{Limit: 10, Category: "Nuclear"}, want: []string{"c", "a"}},
		{name: "label", filter: domain.FeedFilter{Limit: 10, Label: "Critical"}, want: []string{"a"}},
		{name: "unscored", filter: domain.FeedFilter{Limit: 10, Label: domain.UnscoredLabel}, want: []string{"b"}},
		{name: "limit before filter", filter: domain.FeedFilter{Limit: 1, Source: "BBC"}, want: []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := p.Latest(ctx, tc.filter)
			if err != nil {
				t.Fatalf("Latest: %v", err)
			}
			if len(entries) != len(tc.want) {
				t.Fatalf("got %d rows, want %d", len(entries), len(tc.want))
			}
			for i, url := range tc.want {
				if entries[i].URL != url {
					t.Fatalf("row %d: got %s, want %s", i, entries[i].URL, url)
				}
			}
		})
	}
}

func TestHistoryDelegatesToStore(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	p := newTestPipeline(t, PipelineDeps{Collector: &fakeCollector{items: sampleRaws()}, Store: store})
	if _, err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	points, err := p.History(context.Background(), 500)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(points) != 1 || !points[0].Bucket.Equal(refreshNow.Truncate(time.Minute)) {
		t.Fatalf("unexpected history %+v", points)
	}
}

func TestBuildDigest(t *testing.T) {
	t.Parallel()

	summary := domain.RefreshSummary{GlobalRisk: 0.5, MinutesToMidnight: 8.37, SecondsToMidnight: 502, ItemsScored: 2, RefreshedAt: refreshNow}
	items := []domain.NewsItem{{URL: "u1", Title: "Missile strike", Source: "BBC"}, {URL: "u2", Title: "Calm day", Source: "NYT"}}
	scores := []domain.ThreatScore{
		{ItemURL: "u2", Final: 0.1, Label: domain.LabelLow},
		{ItemURL: "u1", Final: 0.77, Label: domain.LabelCritical},
	}

	digest := BuildDigest(summary, items, scores)
	if !strings.HasPrefix(digest, "<b>Doomsday Clock</b> 2026-04-01 12:00 UTC\n") {
		t.Fatalf("header missing: %s", digest)
	}
	if !strings.Contains(digest, "Minutes to midnight: 8.37 (502s)") {
		t.Fatalf("clock line missing: %s", digest)
	}
	if !strings.Contains(digest, "- [Critical 0.77] Missile strike (BBC)") {
		t.Fatalf("threat line missing: %s", digest)
	}
	if strings.Contains(digest, "Calm day") {
		t.Fatalf("low scored item leaked into digest: %s", digest)
	}
}

func TestBuildDigestEscapesHTML(t *testing.T) {
	t.Parallel()

	items := []domain.NewsItem{{URL: "u1", Title: "Strikes <near> border & port", Source: "NYT_World"}}
	scores := []domain.ThreatScore{{ItemURL: "u1", Final: 0.6, Label: domain.LabelHigh}}

	digest := BuildDigest(domain.RefreshSummary{RefreshedAt: refreshNow}, items, scores)
	if !strings.Contains(digest, "- [High 0.60] Strikes &lt;near&gt; border &amp; port (NYT_World)") {
		t.Fatalf("headline not escaped: %s", digest)
	}
	if strings.Contains(digest, "<near>") {
		t.Fatalf("raw markup leaked into digest: %s", digest)
	}
}

func TestBuildDigestWithoutThreatsIsEmpty(t *testing.T) {
	t.Parallel()

	items := []domain.NewsItem{{URL: "u1", Title: "Calm day", Source: "NYT"}}
	scores := []domain.ThreatScore{{ItemURL: "u1", Final: 0.3, Label: domain.LabelMedium}}

	if digest := BuildDigest(domain.RefreshSummary{RefreshedAt: refreshNow}, items, scores); digest != "" {
		t.Fatalf("expected no digest, got %q", digest)
	}
}

func TestRefreshWithoutThreatsSkipsNotifier(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	p := newTestPipeline(t, PipelineDeps{
		Collector: &fakeCollector{items: sampleRaws()[3:4]},
		Store:     openStore(t),
		Notifier:  notifier,
	})

	summary, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if summary.ItemsScored != 1 {
		t.Fatalf("expected the low item to be scored, got %+v", summary)
	}
	if len(notifier.digests) != 0 {
		t.Fatalf("notifier called without threats: %q", notifier.digests)
	}
}

func TestRefreshRecordsMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	p := newTestPipeline(t, PipelineDeps{
		Collector:     &fakeCollector{items: sampleRaws()},
		Store:         openStore(t),
		MeterProvider: provider,
	})
	if _, err := p.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	got := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					got[m.Name] += dp.Value
				}
			}
		}
	}

	if got["doomsday_refresh_runs_total"] != 1 || got["doomsday_items_scored_total"] != 3 {
		t.Fatalf("unexpected counters %v", got)
	}
	if got["doomsday_refresh_failures_total"] != 0 {
		t.Fatalf("no failure expected, got %v", got)
	}
}
