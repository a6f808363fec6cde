package mcpserver

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/registry"
)

const meterName = "toolbelt/mcpserver"

// toolMetrics counts tool calls per app and tool. Failed calls are further split by
// the application error kind, the vendor status code and whether a retry could help.
type toolMetrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

func newToolMetrics(meter metric.Meter) *toolMetrics {
	m := &toolMetrics{}
	var err error

	m.calls, err = meter.Int64Counter(
		"toolbelt.tool.calls",
		metric.WithDescription("Tool calls by app, tool and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		log.Printf("observability: failed to create tool call counter: %v", err)
	}

	m.failures, err = meter.Int64Counter(
		"toolbelt.tool.failures",
		metric.WithDescription("Failed tool calls by error type (validation, authentication, http, rate_limit, timeout, internal)"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		log.Printf("observability: failed to create tool failure counter: %v", err)
	}

	m.duration, err = meter.Float64Histogram(
		"toolbelt.tool.duration",
		metric.WithDescription("Tool call duration including vendor round trips"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("observability: failed to create tool duration histogram: %v", err)
	}
	return m
}

func (m *toolMetrics) record(ctx context.Context, tool registry.Tool, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	base := []attribute.KeyValue{
		attribute.String("app", tool.App),
		attribute.String("tool", tool.BaseName),
	}

	if m.calls != nil {
		m.calls.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String("outcome", outcome))...))
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(append(base, attribute.String("outcome", outcome))...))
	}
	if err == nil || m.failures == nil {
		return
	}

	attrs := append(base,
		attribute.String("error.type", string(application.KindOf(err))),
		attribute.Bool("retryable", retryable(err)),
	)
	if status := application.StatusCode(err); status > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", status))
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// retryable reports whether the vendor marked the failure as transient. Timeouts
// count as transient too.
func retryable(err error) bool {
	var httpErr *application.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable
	}
	return application.KindOf(err) == application.ErrorTypeTimeout
}
