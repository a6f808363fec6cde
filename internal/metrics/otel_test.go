package metrics

import (
	"context"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupOTelTest(t *testing.T) (*Store, *metric.ManualReader) {
	t.Helper()
	ResetForTesting()
	ResetOTelForTesting()
	t.Cleanup(func() {
		ResetForTesting()
		ResetOTelForTesting()
	})

	store, err := NewStoreWithPath(filepath.Join(t.TempDir(), "test_stats.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	SetStoreForTesting(store)

	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	if err := InitOTelMetrics(); err != nil {
		t.Fatalf("InitOTelMetrics failed: %v", err)
	}
	return store, reader
}

func collectGauge(t *testing.T, reader *metric.ManualReader, name string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}

	results := make(map[string]int64)
	for _, scopeMetrics := range rm.ScopeMetrics {
		for _, m := range scopeMetrics.Metrics {
			if m.Name != name {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("Expected Gauge[int64], got %T", m.Data)
			}
			for _, dp := range gauge.DataPoints {
				app, _ := dp.Attributes.Value("app")
				tool, _ := dp.Attributes.Value("tool")
				results[app.AsString()+"/"+tool.AsString()] = dp.Value
			}
		}
	}
	return results
}

func TestOTelMetricsIntegration(t *testing.T) {
	store, reader := setupOTelTest(t)

	_ = store.Increment("slack", "send_message", false)
	_ = store.Increment("slack", "send_message", true)
	_ = store.Increment("exa", "search", false)

	invocations := collectGauge(t, reader, "toolbelt.invocations.total")
	if invocations["slack/send_message"] != 2 || invocations["exa/search"] != 1 {
		t.Errorf("unexpected invocation gauge: %v", invocations)
	}

	failures := collectGauge(t, reader, "toolbelt.invocation_errors.total")
	if failures["slack/send_message"] != 1 || failures["exa/search"] != 0 {
		t.Errorf("unexpected error gauge: %v", failures)
	}
}

func TestOTelMetricsAfterIncrement(t *testing.T) {
	store, reader := setupOTelTest(t)

	if got := collectGauge(t, reader, "toolbelt.invocations.total"); len(got) != 0 {
		t.Errorf("Expected no data points before any invocation, got %v", got)
	}

	_ = store.Increment("resend", "send_email", false)

	got := collectGauge(t, reader, "toolbelt.invocations.total")
	if got["resend/send_email"] != 1 {
		t.Errorf("Expected 1 invocation after increment, got %v", got)
	}
}

func TestOTelMetricsWithoutStore(t *testing.T) {
	ResetForTesting()
	ResetOTelForTesting()
	defer func() {
		ResetForTesting()
		ResetOTelForTesting()
	}()

	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	if err := InitOTelMetrics(); err != nil {
		t.Fatalf("InitOTelMetrics failed: %v", err)
	}
	if got := collectGauge(t, reader, "toolbelt.invocations.total"); len(got) != 0 {
		t.Errorf("Expected no data points without a store, got %v", got)
	}
}
