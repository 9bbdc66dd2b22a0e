package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"DoomsdayClock/internal/api"
	"DoomsdayClock/internal/config"
	"DoomsdayClock/internal/domain"
	"DoomsdayClock/internal/infrastructure/feed"
	"DoomsdayClock/internal/infrastructure/scheduler"
	"DoomsdayClock/internal/infrastructure/sentiment"
	"DoomsdayClock/internal/infrastructure/storage"
	"DoomsdayClock/internal/infrastructure/telegram"
	"DoomsdayClock/internal/logging"
	"DoomsdayClock/internal/normalizer"
	"DoomsdayClock/internal/ports"
	"DoomsdayClock/internal/scoring"
	"DoomsdayClock/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     ports.ScoreStore
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	server    *api.Server
}

// New opens the configured store and builds every component around it.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := OpenStore(ctx, cfg.Database, cfg.Aggregation.Window)
	if err != nil {
		return nil, err
	}

	engine := scoring.New(scoring.Options{
		Weights:  lo.ToPtr(cfg.Scoring.Weights.Resolve()),
		Keywords: emptyAsNil(cfg.Scoring.Keywords),
		Sources:  emptyAsNil(cfg.Scoring.Sources),
		Analyzer: sentiment.NewVaderAnalyzer(),
		Workers:  cfg.Scoring.Workers,
	})

	collector := feed.NewCollector(
		&http.Client{Timeout: cfg.Collector.Timeout},
		cfg.Collector.Sources,
		logging.Component(baseLogger, "collector"),
	)

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Collector:      collector,
		Normalizer:     normalizer.New(categories(cfg.Scoring.Categories)),
		Engine:         engine,
		Store:          store,
		Notifier:       notifier,
		Logger:         logging.Component(baseLogger, "pipeline"),
		LimitPerSource: cfg.Collector.LimitPerSource,
	})

	driver := scheduler.NewCronScheduler(
		cfg.Scheduler.CronExpression,
		cfg.Scheduler.Location(),
		logging.Component(baseLogger, "scheduler"),
	)

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		store:     store,
		pipeline:  pipeline,
		scheduler: usecase.NewScheduler(driver, pipeline, logging.Component(baseLogger, "refresh")),
		server:    api.NewServer(cfg.HTTP.Addr, pipeline, logging.Component(baseLogger, "api")),
	}, nil
}

// OpenStore selects the score store named by the database driver.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, window int) (ports.ScoreStore, error) {
	switch cfg.Driver {
	case "", config.DriverBolt:
		store, err := storage.OpenBoltStore(cfg.BoltPath, window)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		repo := storage.NewPostgresRepository(db, window)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// RunOnce performs a single refresh cycle.
func (a *Application) RunOnce(ctx context.Context) (domain.RefreshSummary, error) {
	return a.pipeline.Refresh(ctx)
}

// Serve refreshes once, then schedules refreshes and serves the HTTP API
// until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	if _, err := a.pipeline.Refresh(ctx); err != nil {
		a.logger.Warn("initial refresh failed", "error", err)
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.scheduler.Stop(context.Background())
	})
	return g.Wait()
}

// Close releases the store.
func (a *Application) Close() error {
	return a.store.Close()
}

func categories(cfg []config.CategoryConfig) []normalizer.Category {
	if len(cfg) == 0 {
		return nil
	}
	return lo.Map(cfg, func(c config.CategoryConfig, _ int) normalizer.Category {
		return normalizer.Category{Name: c.Name, Keywords: c.Keywords}
	})
}

func emptyAsNil(table map[string]float64) map[string]float64 {
	if len(table) == 0 {
		return nil
	}
	return table
}
