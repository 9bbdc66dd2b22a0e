package ports

import (
	"context"
	"time"

	"DoomsdayClock/internal/domain"
)

// Collector pulls candidate headlines from upstream feeds.
// Failing sources are omitted rather than reported.
type Collector interface {
	CollectCandidates(ctx context.Context, limitPerSource int) ([]domain.RawItem, error)
}

// PolarityAnalyzer rates the sentiment of a text.
type PolarityAnalyzer interface {
	Analyze(text string) domain.Polarity
}

// ScoreStore persists items and scores keyed by URL.
type ScoreStore interface {
	UpsertItems(ctx context.Context, items []domain.NewsItem) (int, error)
	UpsertScores(ctx context.Context, scores []domain.ThreatScore) (int, error)
	FetchLatest(ctx context.Context, limit int) ([]domain.FeedEntry, error)
	FetchGlobalRisk(ctx context.Context) (float64, error)
	FetchRiskHistory(ctx context.Context, limit int) ([]domain.RiskPoint, error)
	Close() error
}

// Notifier streams refresh digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when refresh cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
