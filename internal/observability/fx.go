package observability

import (
	"github.com/smallbiznis/leakradar/internal/observability/logger"
	"github.com/smallbiznis/leakradar/internal/observability/metrics"
	"github.com/smallbiznis/leakradar/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the zap logger, the tracer provider and the scan, scheduler and HTTP metrics.
var Module = fx.Module("observability",
	fx.Provide(LoadConfig),
	fx.Provide(
		loggerConfig,
		logger.New,
	),
	fx.Provide(
		tracingConfig,
		tracing.NewProvider,
	),
	fx.Provide(
		metricsConfig,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.ScanWithConfig,
		metrics.SchedulerWithConfig,
	),
	// The provider installs itself as the global otel tracer provider on construction.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

func loggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func tracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:           cfg.OtelEnabled,
		ServiceName:       cfg.ServiceName,
		ServiceVersion:    cfg.Version,
		Environment:       cfg.Environment,
		ExporterEndpoint:  cfg.OtelExporterEndpoint,
		ExporterProtocol:  cfg.OtelExporterProtocol,
		SamplingRatio:     cfg.OtelSamplingRatio,
		ScanSamplingRatio: cfg.ScanSamplingRatio,
	}
}

func metricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}
