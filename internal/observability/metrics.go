package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"DoomsdayClock/internal/config"
)

const defaultMetricsInterval = 10 * time.Second

// InitMetrics installs a global meter provider pushing to an OTLP gRPC
// collector every cfg.Interval. When metrics are disabled the global
// no-op provider stays in place.
func InitMetrics(ctx context.Context, cfg config.MetricsConfig, service string, log *slog.Logger) (ShutdownFunc, error) {
	if !cfg.Enabled {
		if log != nil {
			log.Debug("metrics disabled")
		}
		return noopShutdown, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return noopShutdown, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultMetricsInterval
	}

	provider, err := NewMeterProvider(ctx, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)), service)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return noopShutdown, err
	}
	otel.SetMeterProvider(provider)

	if log != nil {
		log.Info("metrics initialized", "endpoint", cfg.Endpoint, "interval", interval)
	}
	return provider.Shutdown, nil
}

// NewMeterProvider builds a provider collecting through reader and tagged
// with the service name.
func NewMeterProvider(ctx context.Context, reader sdkmetric.Reader, service string) (*sdkmetric.MeterProvider, error) {
	if service == "" {
		service = "doomsday-clock"
	}
	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", service)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	), nil
}
