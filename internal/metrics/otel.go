package metrics

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	otelMetricsOnce       sync.Once
	otelRegistrationError error
)

// InitOTelMetrics registers observable gauges reporting the SQLite totals.
// Call it after observability.Init.
func InitOTelMetrics() error {
	otelMetricsOnce.Do(func() {
		meter := otel.Meter("toolbelt/metrics")

		invocations, err := meter.Int64ObservableGauge(
			"toolbelt.invocations.total",
			metric.WithDescription("Cumulative tool invocations by app and tool"),
			metric.WithUnit("{invocations}"),
		)
		if err != nil {
			log.Printf("metrics: failed to create invocation gauge: %v", err)
			otelRegistrationError = err
			return
		}

		failures, err := meter.Int64ObservableGauge(
			"toolbelt.invocation_errors.total",
			metric.WithDescription("Cumulative failed tool invocations by app and tool"),
			metric.WithUnit("{invocations}"),
		)
		if err != nil {
			log.Printf("metrics: failed to create error gauge: %v", err)
			otelRegistrationError = err
			return
		}

		_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			for _, st := range GetStats() {
				attrs := metric.WithAttributes(
					attribute.String("app", st.App),
					attribute.String("tool", st.Tool),
				)
				o.ObserveInt64(invocations, st.Count, attrs)
				o.ObserveInt64(failures, st.Errors, attrs)
			}
			return nil
		}, invocations, failures)
		if err != nil {
			log.Printf("metrics: failed to register invocation callback: %v", err)
			otelRegistrationError = err
		}
	})
	return otelRegistrationError
}

// ResetOTelForTesting clears the registration state.
func ResetOTelForTesting() {
	otelMetricsOnce = sync.Once{}
	otelRegistrationError = nil
}
