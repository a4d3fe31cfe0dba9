package metrics

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

const DefaultInterval = 15 * time.Second

type Options struct {
	Service  string
	Version  string
	Env      string
	Endpoint string // OTLP/HTTP URL, "stdout", or empty for no export
	Interval time.Duration
}

// CommonAttributes are attached to every series the service emits.
func CommonAttributes(o Options) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceNameKey.String(o.Service),
		attribute.String("application", o.Service),
		attribute.String("version", o.Version),
		attribute.String("environment", o.Env),
	}
}

// Init installs the global meter provider. Extra readers are registered
// alongside the exporter chosen by o.Endpoint.
func Init(ctx context.Context, o Options, log *slog.Logger, extra ...sdkmetric.Reader) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(CommonAttributes(o)...))
	if err != nil {
		log.Warn("otel metric resource init failed (continuing)", "err", err)
	}

	interval := o.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	switch endpoint := strings.TrimSpace(o.Endpoint); endpoint {
	case "":
		log.Info("otel metric exporter disabled")
	case "stdout":
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
	default:
		exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
	}
	for _, r := range extra {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	log.Info("otel metrics initialized", "service", o.Service, "version", o.Version, "env", o.Env)
	return mp, nil
}
