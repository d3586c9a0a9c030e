package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type TelemetryConfig struct {
	ServiceName string
	// OTLPEndpoint is a host:port for the OTLP gRPC collector. Empty disables export.
	OTLPEndpoint string
	Stdout       bool
	// MetricsEndpoint is a host:port for the OTLP HTTP collector. Empty keeps
	// metrics in process.
	MetricsEndpoint string
	MetricsInterval time.Duration
}

// Setup installs the global tracer and meter providers. With neither an
// endpoint nor stdout enabled spans are sampled but never exported.
func Setup(ctx context.Context, cfg TelemetryConfig, log logrus.FieldLogger) (func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch {
	case cfg.OTLPEndpoint != "":
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		log.WithField("endpoint", cfg.OTLPEndpoint).Info("exporting traces over otlp")
	case cfg.Stdout:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithSyncer(exporter))
		log.Info("exporting traces to stdout")
	}

	tracerProvider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	reader, err := metricReader(ctx, cfg)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}
	if cfg.MetricsEndpoint != "" {
		log.WithField("endpoint", cfg.MetricsEndpoint).Info("exporting metrics over otlp")
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), tracerProvider.Shutdown(ctx))
	}, nil
}

// metricReader pushes to the collector on an interval when an endpoint is
// configured. Otherwise instruments are only readable in process.
func metricReader(ctx context.Context, cfg TelemetryConfig) (sdkmetric.Reader, error) {
	if cfg.MetricsEndpoint == "" {
		return sdkmetric.NewManualReader(), nil
	}

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.MetricsEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	var opts []sdkmetric.PeriodicReaderOption
	if cfg.MetricsInterval > 0 {
		opts = append(opts, sdkmetric.WithInterval(cfg.MetricsInterval))
	}
	return sdkmetric.NewPeriodicReader(exporter, opts...), nil
}
