package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/toolbelt/internal/registry"
	"github.com/ca-srg/toolbelt/internal/types"
)

func testServerConfig() *types.Config {
	return &types.Config{
		MCPServerHost:             "127.0.0.1",
		MCPServerPort:             0,
		MCPServerReadTimeout:      5 * time.Second,
		MCPServerWriteTimeout:     5 * time.Second,
		MCPServerIdleTimeout:      5 * time.Second,
		MCPServerMaxHeaderBytes:   1 << 20,
		MCPServerGracefulShutdown: true,
		MCPServerShutdownTimeout:  time.Second,
	}
}

func newTestWrapper(t *testing.T) *ServerWrapper {
	t.Helper()
	var calls int32
	tr := NewToolRegistry(WithToolLogger(quietLogger()))
	require.NoError(t, tr.RegisterAll([]registry.Tool{echoTool(&calls), failingTool()}))

	sw, err := NewServerWrapper(testServerConfig(), tr, "1.2.3")
	require.NoError(t, err)
	sw.SetLogger(quietLogger())
	return sw
}

func TestNewServerWrapperValidation(t *testing.T) {
	_, err := NewServerWrapper(nil, NewToolRegistry(), "")
	require.Error(t, err)

	_, err = NewServerWrapper(testServerConfig(), nil, "")
	require.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	sw := newTestWrapper(t)

	rr := httptest.NewRecorder()
	sw.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, healthPath, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, 2, status.Tools)
	assert.False(t, status.Running)
}

func TestHandlerAppliesAuthentication(t *testing.T) {
	sw := newTestWrapper(t)
	auth, err := NewUnifiedAuthMiddleware(&UnifiedAuthConfig{
		AuthMethod: AuthMethodIP,
		IPConfig:   &IPAuthConfig{AllowedIPs: []string{"10.9.9.9"}},
	})
	require.NoError(t, err)
	sw.SetUnifiedAuthMiddleware(auth)
	handler := sw.Handler()

	r := httptest.NewRequest(http.MethodPost, mcpPath, nil)
	r.RemoteAddr = "192.0.2.10:4000"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	r = httptest.NewRequest(http.MethodGet, healthPath, nil)
	r.RemoteAddr = "192.0.2.10:4000"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServerWrapperLifecycle(t *testing.T) {
	sw := newTestWrapper(t)

	require.Error(t, sw.Stop(), "stopping before start")
	require.NoError(t, sw.Start())
	assert.True(t, sw.IsRunning())
	require.Error(t, sw.Start(), "double start")

	addr := sw.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + healthPath)
	require.NoError(t, err)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	_ = resp.Body.Close()
	assert.True(t, status.Running)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: "http://" + addr + mcpPath}, nil)
	require.NoError(t, err)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "demo__echo",
		Arguments: map[string]any{"text": "over http"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"text":"over http"}`, textOf(t, res))
	_ = session.Close()

	require.NoError(t, sw.Stop())
	assert.False(t, sw.IsRunning())
	for range sw.Errors() {
	}
}
