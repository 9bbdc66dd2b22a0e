package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"DoomsdayClock/internal/domain"
	"DoomsdayClock/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS news (
    url          TEXT PRIMARY KEY,
    source       TEXT NOT NULL,
    title        TEXT NOT NULL,
    summary      TEXT NOT NULL,
    category     TEXT NOT NULL DEFAULT 'Geral',
    published_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_news_published_at ON news(published_at);

CREATE TABLE IF NOT EXISTS scores (
    url           TEXT PRIMARY KEY,
    sentiment     DOUBLE PRECISION NOT NULL,
    keywords      DOUBLE PRECISION NOT NULL,
    source_weight DOUBLE PRECISION NOT NULL,
    recency       DOUBLE PRECISION NOT NULL,
    final         DOUBLE PRECISION NOT NULL,
    label         TEXT NOT NULL,
    calculated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scores_calculated_at ON scores(calculated_at);
`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRepository persists items and scores into Postgres.
type PostgresRepository struct {
	db     *sqlx.DB
	window int
	now    func() time.Time
}

var _ ports.ScoreStore = (*PostgresRepository)(nil)

type dbFeedEntry struct {
	Source      string          `db:"source"`
	Category    string          `db:"category"`
	Title       string          `db:"title"`
	URL         string          `db:"url"`
	PublishedAt time.Time       `db:"published_at"`
	Final       sql.NullFloat64 `db:"final"`
	Label       sql.NullString  `db:"label"`
	Summary     string          `db:"summary"`
}

type dbRiskPoint struct {
	Bucket  time.Time `db:"bucket"`
	RiskAvg float64   `db:"risk_avg"`
}

// NewPostgresRepository wires an sqlx.DB implementation.
func NewPostgresRepository(db *sqlx.DB, window int) *PostgresRepository {
	if window <= 0 {
		window = domain.DefaultRiskWindow
	}
	return &PostgresRepository{db: db, window: window, now: time.Now}
}

// EnsureSchema creates the tables and indexes when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// UpsertItems replaces or inserts items by URL. Items without URL are skipped.
func (r *PostgresRepository) UpsertItems(ctx context.Context, items []domain.NewsItem) (int, error) {
	valid := lo.Filter(items, func(item domain.NewsItem, _ int) bool { return item.URL != "" })

	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, item := range valid {
			query, args, err := upsertItemQuery(item).ToSql()
			if err != nil {
				return fmt.Errorf("build item upsert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("upsert item %s: %w", item.URL, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return len(valid), nil
}

// UpsertScores replaces or inserts scores by item URL with one calculated_at per call.
func (r *PostgresRepository) UpsertScores(ctx context.Context, scores []domain.ThreatScore) (int, error) {
	valid := lo.Filter(scores, func(score domain.ThreatScore, _ int) bool { return score.ItemURL != "" })
	calculatedAt := r.now().UTC()

	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, score := range valid {
			query, args, err := upsertScoreQuery(score, calculatedAt).ToSql()
			if err != nil {
				return fmt.Errorf("build score upsert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("upsert score %s: %w", score.ItemURL, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return len(valid), nil
}

// FetchLatest joins items with their scores, newest publication first.
func (r *PostgresRepository) FetchLatest(ctx context.Context, limit int) ([]domain.FeedEntry, error) {
	if limit <= 0 {
		return []domain.FeedEntry{}, nil
	}

	query, args, err := latestQuery(limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest query: %w", err)
	}

	var rows []dbFeedEntry
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}

	return lo.Map(rows, func(row dbFeedEntry, _ int) domain.FeedEntry {
		entry := domain.FeedEntry{
			Source:      row.Source,
			Category:    row.Category,
			Title:       row.Title,
			URL:         row.URL,
			PublishedAt: row.PublishedAt.UTC(),
			Summary:     row.Summary,
		}
		if row.Final.Valid {
			entry.FinalScore = lo.ToPtr(row.Final.Float64)
		}
		if row.Label.Valid {
			entry.Label = lo.ToPtr(domain.Label(row.Label.String))
		}
		return entry
	}), nil
}

// FetchGlobalRisk averages the most recent scores or returns domain.NeutralRisk.
func (r *PostgresRepository) FetchGlobalRisk(ctx context.Context) (float64, error) {
	query, args, err := globalRiskQuery(r.window).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build global risk query: %w", err)
	}

	var avg sql.NullFloat64
	if err := r.db.GetContext(ctx, &avg, query, args...); err != nil {
		return 0, fmt.Errorf("query global risk: %w", err)
	}
	if !avg.Valid {
		return domain.NeutralRisk, nil
	}

	return avg.Float64, nil
}

// FetchRiskHistory averages scores per calculation minute, oldest first.
func (r *PostgresRepository) FetchRiskHistory(ctx context.Context, limit int) ([]domain.RiskPoint, error) {
	if limit <= 0 {
		return []domain.RiskPoint{}, nil
	}

	query, args, err := historyQuery(limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	var rows []dbRiskPoint
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	return lo.Map(rows, func(row dbRiskPoint, _ int) domain.RiskPoint {
		return domain.RiskPoint{Bucket: row.Bucket.UTC(), AverageRisk: row.RiskAvg}
	}), nil
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func upsertItemQuery(item domain.NewsItem) sq.InsertBuilder {
	return psql.Insert("news").
		Columns("url", "source", "title", "summary", "category", "published_at").
		Values(item.URL, item.Source, item.Title, item.Summary, item.Category, item.PublishedAt.UTC()).
		Suffix(`ON CONFLICT (url) DO UPDATE
              SET source = EXCLUDED.source,
                  title = EXCLUDED.title,
                  summary = EXCLUDED.summary,
                  category = EXCLUDED.category,
                  published_at = EXCLUDED.published_at`)
}

func upsertScoreQuery(score domain.ThreatScore, calculatedAt time.Time) sq.InsertBuilder {
	return psql.Insert("scores").
		Columns("url", "sentiment", "keywords", "source_weight", "recency", "final", "label", "calculated_at").
		Values(score.ItemURL, score.Sentiment, score.Keywords, score.SourceWeight, score.Recency,
			score.Final, string(score.Label), calculatedAt).
		Suffix(`ON CONFLICT (url) DO UPDATE
              SET sentiment = EXCLUDED.sentiment,
                  keywords = EXCLUDED.keywords,
                  source_weight = EXCLUDED.source_weight,
                  recency = EXCLUDED.recency,
                  final = EXCLUDED.final,
                  label = EXCLUDED.label,
                  calculated_at = EXCLUDED.calculated_at`)
}

func latestQuery(limit int) sq.SelectBuilder {
	return psql.Select("n.source", "n.category", "n.title", "n.url", "n.published_at", "s.final", "s.label", "n.summary").
		From("news n").
		LeftJoin("scores s ON s.url = n.url").
		OrderBy("n.published_at DESC").
		Limit(uint64(limit))
}

func globalRiskQuery(window int) sq.SelectBuilder {
	recent := sq.Select("final").
		From("scores").
		OrderBy("calculated_at DESC").
		Limit(uint64(window))

	return psql.Select("AVG(w.final)").FromSelect(recent, "w")
}

func historyQuery(limit int) sq.SelectBuilder {
	return psql.Select("date_trunc('minute', calculated_at) AS bucket", "AVG(final) AS risk_avg").
		From("scores").
		GroupBy("bucket").
		OrderBy("bucket ASC").
		Limit(uint64(limit))
}
