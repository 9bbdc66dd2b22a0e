package usecase

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"DoomsdayClock/internal/domain"
	"DoomsdayClock/internal/normalizer"
	"DoomsdayClock/internal/ports"
	"DoomsdayClock/internal/risk"
	"DoomsdayClock/internal/scoring"
)

const (
	instrumentationName = "DoomsdayClock/usecase"
	// DefaultLimitPerSource caps collected entries per feed.
	DefaultLimitPerSource = 20
	digestTopThreats      = 5
)

// PipelineDeps wires all driven adapters into the refresh pipeline.
type PipelineDeps struct {
	Collector      ports.Collector
	Normalizer     *normalizer.Normalizer
	Engine         *scoring.Engine
	Store          ports.ScoreStore
	Notifier       ports.Notifier
	Logger         *slog.Logger
	LimitPerSource int
	// Now defaults to time.Now.
	Now func() time.Time
	// MeterProvider defaults to the global provider.
	MeterProvider metric.MeterProvider
}

// Pipeline implements the collect, score, store and aggregate workflow
// plus the read queries over the store.
type Pipeline struct {
	collector      ports.Collector
	normalizer     *normalizer.Normalizer
	engine         *scoring.Engine
	store          ports.ScoreStore
	aggregator     *risk.Aggregator
	notifier       ports.Notifier
	logger         *slog.Logger
	limitPerSource int
	now            func() time.Time

	tracer      trace.Tracer
	refreshes   metric.Int64Counter
	failures    metric.Int64Counter
	itemsScored metric.Int64Counter
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Normalizer == nil {
		deps.Normalizer = normalizer.New(nil)
	}
	if deps.Engine == nil {
		deps.Engine = scoring.New(scoring.Options{})
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.LimitPerSource <= 0 {
		deps.LimitPerSource = DefaultLimitPerSource
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	if deps.MeterProvider == nil {
		deps.MeterProvider = otel.GetMeterProvider()
	}

	meter := deps.MeterProvider.Meter(instrumentationName)
	refreshes, _ := meter.Int64Counter("doomsday_refresh_runs_total")
	failures, _ := meter.Int64Counter("doomsday_refresh_failures_total")
	itemsScored, _ := meter.Int64Counter("doomsday_items_scored_total")

	return &Pipeline{
		collector:      deps.Collector,
		normalizer:     deps.Normalizer,
		engine:         deps.Engine,
		store:          deps.Store,
		aggregator:     risk.NewAggregator(deps.Store),
		notifier:       deps.Notifier,
		logger:         deps.Logger,
		limitPerSource: deps.LimitPerSource,
		now:            deps.Now,
		tracer:         otel.Tracer(instrumentationName),
		refreshes:      refreshes,
		failures:       failures,
		itemsScored:    itemsScored,
	}
}

// Refresh runs one cycle. A collector error is logged and the cycle goes on
// with whatever was returned; store errors abort it.
func (p *Pipeline) Refresh(ctx context.Context) (domain.RefreshSummary, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.refresh")
	defer span.End()

	summary, err := p.refresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.failures.Add(ctx, 1)
		p.logger.Error("refresh failed", "error", err)
		return domain.RefreshSummary{}, err
	}

	span.SetAttributes(
		attribute.Int("items.collected", summary.ItemsCollected),
		attribute.Int("items.scored", summary.ItemsScored),
		attribute.Float64("risk.global", summary.GlobalRisk),
	)
	p.refreshes.Add(ctx, 1)
	p.itemsScored.Add(ctx, int64(summary.ItemsScored))
	p.logger.Info("refresh done",
		"items_collected", summary.ItemsCollected,
		"items_stored", summary.ItemsStored,
		"items_scored", summary.ItemsScored,
		"global_risk", summary.GlobalRisk,
		"minutes_to_midnight", summary.MinutesToMidnight,
	)

	return summary, nil
}

func (p *Pipeline) refresh(ctx context.Context) (domain.RefreshSummary, error) {
	if p.store == nil {
		return domain.RefreshSummary{}, fmt.Errorf("score store is not configured")
	}

	now := p.now().UTC()

	var raws []domain.RawItem
	if p.collector != nil {
		var err error
		raws, err = p.collector.CollectCandidates(ctx, p.limitPerSource)
		if err != nil {
			p.logger.Warn("collect candidates", "error", err, "partial", len(raws))
		}
	}

	items := p.normalizer.Normalize(raws, now)
	p.logger.Debug("items normalized", "raw", len(raws), "items", len(items))

	stored, err := p.store.UpsertItems(ctx, items)
	if err != nil {
		return domain.RefreshSummary{}, fmt.Errorf("store items: %w", err)
	}

	scores := p.engine.ScoreAll(items, now)
	scored, err := p.store.UpsertScores(ctx, scores)
	if err != nil {
		return domain.RefreshSummary{}, fmt.Errorf("store scores: %w", err)
	}

	reading, err := p.aggregator.Current(ctx)
	if err != nil {
		return domain.RefreshSummary{}, err
	}

	summary := domain.RefreshSummary{
		ItemsCollected:    len(items),
		ItemsStored:       stored,
		ItemsScored:       scored,
		GlobalRisk:        reading.GlobalRisk,
		MinutesToMidnight: reading.MinutesToMidnight,
		SecondsToMidnight: reading.SecondsToMidnight,
		RefreshedAt:       now,
	}

	if p.notifier != nil {
		if digest := BuildDigest(summary, items, scores); digest != "" {
			if err := p.notifier.PublishDigest(ctx, digest); err != nil {
				p.logger.Warn("publish digest", "error", err)
			}
		} else {
			p.logger.Debug("no high threats, digest skipped")
		}
	}

	return summary, nil
}

// Current reads the global risk and its clock conversion.
func (p *Pipeline) Current(ctx context.Context) (domain.RiskReading, error) {
	if p.store == nil {
		return domain.RiskReading{}, fmt.Errorf("score store is not configured")
	}
	return p.aggregator.Current(ctx)
}

// Latest returns the newest stored rows that pass filter. Filtering is
// applied to the newest filter.Limit rows, so fewer rows may come back.
func (p *Pipeline) Latest(ctx context.Context, filter domain.FeedFilter) ([]domain.FeedEntry, error) {
	if p.store == nil {
		return nil, fmt.Errorf("score store is not configured")
	}

	entries, err := p.store.FetchLatest(ctx, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("fetch latest: %w", err)
	}

	return lo.Filter(entries, func(entry domain.FeedEntry, _ int) bool {
		return matches(entry, filter)
	}), nil
}

// History returns per-minute risk averages, oldest first.
func (p *Pipeline) History(ctx context.Context, limit int) ([]domain.RiskPoint, error) {
	if p.store == nil {
		return nil, fmt.Errorf("score store is not configured")
	}

	points, err := p.store.FetchRiskHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return points, nil
}

func matches(entry domain.FeedEntry, filter domain.FeedFilter) bool {
	if filter.Source != "" && entry.Source != filter.Source {
		return false
	}
	if filter.Category != "" && entry.Category != filter.Category {
		return false
	}
	if filter.Label != "" {
		if filter.Label == domain.UnscoredLabel {
			return entry.Label == nil
		}
		if entry.Label == nil || string(*entry.Label) != filter.Label {
			return false
		}
	}
	return true
}

// BuildDigest renders the HTML message sent after a refresh: the clock
// reading followed by the highest scored High or Critical headlines. It
// returns "" when the batch holds no such headline.
func BuildDigest(summary domain.RefreshSummary, items []domain.NewsItem, scores []domain.ThreatScore) string {
	byURL := lo.KeyBy(items, func(item domain.NewsItem) string { return item.URL })

	threats := lo.Filter(scores, func(score domain.ThreatScore, _ int) bool {
		return score.Label.Rank() >= domain.LabelHigh.Rank()
	})
	if len(threats) == 0 {
		return ""
	}
	sort.SliceStable(threats, func(i, j int) bool { return threats[i].Final > threats[j].Final })
	if len(threats) > digestTopThreats {
		threats = threats[:digestTopThreats]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Doomsday Clock</b> %s\n", summary.RefreshedAt.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Global risk: %.3f\n", summary.GlobalRisk)
	fmt.Fprintf(&b, "Minutes to midnight: %.2f (%ds)\n", summary.MinutesToMidnight, summary.SecondsToMidnight)
	fmt.Fprintf(&b, "Items scored: %d\n", summary.ItemsScored)

	b.WriteString("\n<b>Top threats:</b>\n")
	for _, score := range threats {
		item, ok := byURL[score.ItemURL]
		title := score.ItemURL
		if ok && item.Title != "" {
			title = item.Title
		}
		fmt.Fprintf(&b, "- [%s %.2f] %s (%s)\n",
			score.Label, score.Final, html.EscapeString(title), html.EscapeString(item.Source))
	}

	return b.String()
}
