package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func attrValue(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.Emit()
}

func TestToolMetricsRecordsOutcomeAndErrorKind(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	var calls int32
	tr := NewToolRegistry(WithMeterProvider(provider), WithToolLogger(quietLogger()))
	require.NoError(t, tr.Register(echoTool(&calls)))
	require.NoError(t, tr.Register(failingTool()))

	ctx := context.Background()
	_, err := tr.Execute(ctx, "demo__echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	_, err = tr.Execute(ctx, "demo__echo", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = tr.Execute(ctx, "demo__fail", json.RawMessage(`{}`))
	require.NoError(t, err)

	data := collect(t, reader)

	callSum, ok := data["toolbelt.tool.calls"].(metricdata.Sum[int64])
	require.True(t, ok)
	byOutcome := map[string]int64{}
	for _, dp := range callSum.DataPoints {
		byOutcome[attrValue(dp.Attributes, "tool")+"/"+attrValue(dp.Attributes, "outcome")] += dp.Value
		assert.Equal(t, "demo", attrValue(dp.Attributes, "app"))
	}
	assert.Equal(t, map[string]int64{"echo/success": 1, "echo/error": 1, "fail/error": 1}, byOutcome)

	failSum, ok := data["toolbelt.tool.failures"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, failSum.DataPoints, 2)
	byType := map[string]attribute.Set{}
	for _, dp := range failSum.DataPoints {
		assert.Equal(t, int64(1), dp.Value)
		byType[attrValue(dp.Attributes, "error.type")] = dp.Attributes
	}

	validation, ok := byType["validation"]
	require.True(t, ok)
	assert.Equal(t, "echo", attrValue(validation, "tool"))
	assert.Equal(t, "false", attrValue(validation, "retryable"))
	assert.False(t, validation.HasValue("http.response.status_code"))

	upstream, ok := byType["http"]
	require.True(t, ok)
	assert.Equal(t, "fail", attrValue(upstream, "tool"))
	assert.Equal(t, "502", attrValue(upstream, "http.response.status_code"))

	hist, ok := data["toolbelt.tool.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestToolMetricsMarksTimeoutsRetryable(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	var calls int32
	tr := NewToolRegistry(WithMeterProvider(provider), WithToolTimeout(20*time.Millisecond), WithToolLogger(quietLogger()))
	require.NoError(t, tr.Register(echoTool(&calls)))

	_, err := tr.Execute(context.Background(), "demo__echo", json.RawMessage(`{"text":"slow","delay":"5s"}`))
	require.NoError(t, err)

	failSum, ok := collect(t, reader)["toolbelt.tool.failures"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, failSum.DataPoints, 1)
	attrs := failSum.DataPoints[0].Attributes
	assert.Equal(t, "timeout", attrValue(attrs, "error.type"))
	assert.Equal(t, "true", attrValue(attrs, "retryable"))
}
