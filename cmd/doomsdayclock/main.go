package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"DoomsdayClock/internal/app"
	"DoomsdayClock/internal/config"
	"DoomsdayClock/internal/logging"
	"DoomsdayClock/internal/observability"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup runs before exit.
func run() int {
	once := flag.Bool("once", false, "run a single refresh, print the summary and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Warn("tracing unavailable", "error", err)
	}
	defer flush(shutdownTracer)

	shutdownMetrics, err := observability.InitMetrics(ctx, cfg.Metrics, cfg.Tracing.ServiceName, logger)
	if err != nil {
		logger.Warn("metrics unavailable", "error", err)
	}
	defer flush(shutdownMetrics)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application init failed", "error", err)
		return 1
	}
	defer application.Close()

	if *once {
		summary, err := application.RunOnce(ctx)
		if err != nil {
			logger.Error("refresh failed", "error", err)
			return 1
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(summary)
		return 0
	}

	if err := application.Serve(ctx); err != nil {
		logger.Error("application stopped", "error", err)
		return 1
	}
	return 0
}

func flush(shutdown observability.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
