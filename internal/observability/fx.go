package observability

import (
	"github.com/smallbiznis/clinicledger/internal/observability/logger"
	"github.com/smallbiznis/clinicledger/internal/observability/metrics"
	"github.com/smallbiznis/clinicledger/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		func(cfg Config) logger.Config {
			return logger.Config{
				Service:     cfg.ServiceName,
				Environment: cfg.Environment,
				Version:     cfg.Version,
				Level:       cfg.LogLevel,
				Format:      cfg.LogFormat,
				Development: cfg.Debug(),
			}
		},
		logger.New,
		func(cfg Config) gormlogger.Interface {
			return logger.NewSQLLogger(logger.SQLConfig{
				Level:         cfg.SQLLogLevel,
				SlowThreshold: cfg.SlowQuery,
			})
		},
		func(cfg Config) tracing.Config {
			return tracing.Config{
				Enabled:          cfg.Otel.OtelEnabled,
				ServiceName:      cfg.ServiceName,
				ServiceVersion:   cfg.Version,
				Environment:      cfg.Environment,
				ExporterEndpoint: cfg.Otel.OtelEndpoint,
				ExporterProtocol: cfg.Otel.OtelProtocol,
				SamplingRatio:    cfg.Otel.OtelSampling,
			}
		},
		tracing.NewProvider,
		func(cfg Config) metrics.Config {
			return metrics.Config{
				Enabled:          cfg.Otel.OtelEnabled,
				ExporterEndpoint: cfg.Otel.OtelEndpoint,
				ExporterProtocol: cfg.Otel.OtelProtocol,
				ServiceName:      cfg.ServiceName,
				Environment:      cfg.Environment,
			}
		},
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	// The tracer provider registers itself globally; nothing else asks for it.
	fx.Invoke(func(_ *sdktrace.TracerProvider) {}),
	fx.Invoke(func(cfg metrics.Config) { metrics.SchedulerWithConfig(cfg) }),
)
