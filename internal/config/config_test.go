package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"DoomsdayClock/internal/scoring"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		configPathEnv, databaseDSNEnv, databaseDriverEnv, boltPathEnv,
		httpAddrEnv, logLevelEnv, telegramTokenEnv, telegramChatIDEnv,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Database.Driver != DriverBolt || cfg.Database.BoltPath == "" {
		t.Fatalf("unexpected database defaults %+v", cfg.Database)
	}
	if cfg.Scheduler.CronExpression != "*/30 * * * *" {
		t.Fatalf("unexpected cron default %q", cfg.Scheduler.CronExpression)
	}
	if cfg.Scheduler.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", cfg.Scheduler.Location())
	}
	if cfg.Collector.LimitPerSource != 20 || len(cfg.Collector.Sources) != 14 {
		t.Fatalf("unexpected collector defaults %+v", cfg.Collector)
	}
	if cfg.Aggregation.Window != 60 {
		t.Fatalf("unexpected window %d", cfg.Aggregation.Window)
	}
	if cfg.Notifications.Telegram.Enabled() {
		t.Fatalf("telegram must be disabled without credentials")
	}
	if cfg.Metrics.Enabled || cfg.Metrics.Interval != 10*time.Second {
		t.Fatalf("unexpected metrics defaults %+v", cfg.Metrics)
	}
	if cfg.Scoring.Weights.Resolve() != scoring.DefaultWeights() {
		t.Fatalf("unset weights must resolve to the defaults")
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
logging:
  level: warn
database:
  driver: Postgres
scheduler:
  cronExpression: "0 * * * *"
  timezone: Not/AZone
collector:
  limitPerSource: 5
  timeout: 3s
  sources:
    - name: Local
      url: http://localhost/rss
scoring:
  weights:
    sentiment: 0.25
    keywords: 0.25
    source: 0.25
    recency: 0.25
  keywords:
    meteor: 1.0
aggregation:
  window: 10
tracing:
  enabled: true
metrics:
  enabled: true
  interval: 30s
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)
	t.Setenv(databaseDSNEnv, "postgres://env")
	t.Setenv(httpAddrEnv, ":9999")
	t.Setenv(telegramTokenEnv, "token")
	t.Setenv(telegramChatIDEnv, "chat")

	cfg := Load()

	if cfg.Logging.Level != "warn" {
		t.Fatalf("level not merged: %q", cfg.Logging.Level)
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Database.DSN != "postgres://env" {
		t.Fatalf("unexpected database %+v", cfg.Database)
	}
	if cfg.Database.BoltPath != "doomsday.db" {
		t.Fatalf("unset fields must keep defaults, got %q", cfg.Database.BoltPath)
	}
	if cfg.Scheduler.CronExpression != "0 * * * *" || cfg.Scheduler.Location() != time.UTC {
		t.Fatalf("unexpected scheduler %+v loc=%v", cfg.Scheduler, cfg.Scheduler.Location())
	}
	if cfg.Collector.LimitPerSource != 5 || cfg.Collector.Timeout != 3*time.Second || len(cfg.Collector.Sources) != 1 {
		t.Fatalf("unexpected collector %+v", cfg.Collector)
	}
	if cfg.Scoring.Weights.Resolve().Recency != 0.25 || cfg.Scoring.Keywords["meteor"] != 1.0 {
		t.Fatalf("scoring not merged: %+v", cfg.Scoring)
	}
	if cfg.Aggregation.Window != 10 || !cfg.Tracing.Enabled || cfg.HTTP.Addr != ":9999" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.Notifications.Telegram.Enabled() {
		t.Fatalf("telegram credentials from env not applied")
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Interval != 30*time.Second || cfg.Metrics.Endpoint != "localhost:4317" {
		t.Fatalf("unexpected metrics %+v", cfg.Metrics)
	}
}

func TestLoadPartialWeightsKeepDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
scoring:
  weights:
    keywords: 0.5
    recency: 0
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)

	got := Load().Scoring.Weights.Resolve()

	want := scoring.DefaultWeights()
	want.Keywords = 0.5
	want.Recency = 0
	if got != want {
		t.Fatalf("weights %+v, want %+v", got, want)
	}
}

func TestLoadBrokenFileFallsBack(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("database: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)

	cfg := Load()
	if cfg.Database.Driver != DriverBolt || cfg.Collector.LimitPerSource != 20 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}
