package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/ca-srg/toolbelt/internal/types"
)

func TestInitExportsToOTLPHTTP(t *testing.T) {
	var traceRequests, metricRequests atomic.Int32

	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/traces":
			traceRequests.Add(1)
		case "/v1/metrics":
			metricRequests.Add(1)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(collector.Close)

	shutdown, err := Init(&types.Config{
		OTelEnabled:              true,
		OTelServiceName:          "toolbelt-test",
		OTelExporterOTLPEndpoint: collector.URL,
		OTelExporterOTLPProtocol: "http/protobuf",
		OTelResourceAttributes:   "service.namespace=toolbelt-test,environment=test",
		OTelTracesSampler:        "always_on",
		OTelTracesSamplerArg:     1.0,
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, span := otel.Tracer("toolbelt/test").Start(ctx, "tool-call")
	span.End()

	counter, err := otel.Meter("toolbelt/test").Int64Counter("toolbelt.test.counter", metric.WithDescription("test counter"))
	require.NoError(t, err)
	counter.Add(ctx, 1)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, shutdown(shutdownCtx))

	require.GreaterOrEqual(t, traceRequests.Load(), int32(1), "no trace export received")
	require.GreaterOrEqual(t, metricRequests.Load(), int32(1), "no metric export received")
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(&types.Config{OTelEnabled: false})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRejectsInvalidConfig(t *testing.T) {
	_, err := Init(&types.Config{OTelEnabled: true})
	require.Error(t, err)

	_, err = Init(nil)
	require.Error(t, err)
}
