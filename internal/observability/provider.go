package observability

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlpmetricgrpc "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otlpmetrichttp "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ca-srg/toolbelt/internal/types"
)

const defaultShutdownTimeout = 5 * time.Second

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(context.Context) error

// Init installs global tracer and meter providers built from the root configuration.
// With OTEL_ENABLED=false the providers are local no-export ones.
func Init(rootCfg *types.Config) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	cfg, err := FromConfig(rootCfg)
	if err != nil {
		return noop, err
	}

	ctx := context.Background()
	tp, err := newTracerProvider(ctx, cfg)
	if err != nil {
		return noop, err
	}
	mp, err := newMeterProvider(ctx, cfg)
	if err != nil {
		_ = newShutdownFunc(tp, nil)(ctx)
		return noop, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return newShutdownFunc(tp, mp), nil
}

func newTracerProvider(ctx context.Context, cfg *Config) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample())), nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Protocol {
	case protocolGRPC:
		endpoint, insecure, perr := parseGRPCEndpoint(cfg.Endpoint)
		if perr != nil {
			return nil, fmt.Errorf("observability: invalid OTLP gRPC endpoint: %w", perr)
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		endpoint, perr := normalizeOTLPHTTPPath(cfg.Endpoint, "/v1/traces")
		if perr != nil {
			return nil, fmt.Errorf("observability: invalid OTLP HTTP endpoint: %w", perr)
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
		if strings.HasPrefix(endpoint, "http://") {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("observability: failed to create OTLP trace exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(cfg)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	), nil
}

func newMeterProvider(ctx context.Context, cfg *Config) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		return sdkmetric.NewMeterProvider(), nil
	}

	var (
		exporter sdkmetric.Exporter
		err      error
	)
	switch cfg.Protocol {
	case protocolGRPC:
		endpoint, insecure, perr := parseGRPCEndpoint(cfg.Endpoint)
		if perr != nil {
			return nil, fmt.Errorf("observability: invalid OTLP gRPC endpoint: %w", perr)
		}
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	default:
		endpoint, perr := normalizeOTLPHTTPPath(cfg.Endpoint, "/v1/metrics")
		if perr != nil {
			return nil, fmt.Errorf("observability: invalid OTLP HTTP endpoint: %w", perr)
		}
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(endpoint)}
		if strings.HasPrefix(endpoint, "http://") {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("observability: failed to create OTLP metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricExportInterval))),
	), nil
}

func sampler(cfg *Config) sdktrace.Sampler {
	switch cfg.Sampler {
	case samplerAlwaysOff:
		return sdktrace.NeverSample()
	case samplerRatio:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplerArg))
	case samplerParentBased:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.AlwaysSample()
	}
}

func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attrs := make([]attribute.KeyValue, 0, len(cfg.ResourceAttributes)+1)
	attrs = append(attrs, attribute.String(serviceNameResource, cfg.ServiceName))
	for key, value := range cfg.ResourceAttributes {
		if strings.EqualFold(key, serviceNameResource) {
			continue
		}
		attrs = append(attrs, attribute.String(key, value))
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to build resource information: %w", err)
	}
	return res, nil
}

func newShutdownFunc(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) ShutdownFunc {
	return func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
			defer cancel()
		}

		var errs []error
		if tp != nil {
			if err := tp.Shutdown(ctx); err != nil {
				log.Printf("observability: failed to shutdown tracer provider: %v", err)
				errs = append(errs, fmt.Errorf("tracer provider: %w", err))
			}
		}
		if mp != nil {
			if err := mp.Shutdown(ctx); err != nil {
				log.Printf("observability: failed to shutdown meter provider: %v", err)
				errs = append(errs, fmt.Errorf("meter provider: %w", err))
			}
		}
		return errors.Join(errs...)
	}
}
