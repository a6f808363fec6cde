package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/registry"
)

type echoInput struct {
	Text  string `json:"text" validate:"required" jsonschema:"text to echo"`
	Delay string `json:"delay,omitempty" jsonschema:"optional sleep before answering"`
}

type echoOutput struct {
	Text string `json:"text"`
}

type recordedCall struct {
	app, tool string
	failed    bool
}

type callRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *callRecorder) record(app, tool string, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{app: app, tool: tool, failed: failed})
}

func (r *callRecorder) snapshot() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCall(nil), r.calls...)
}

func qualify(app string, tool application.Tool) registry.Tool {
	base := tool.Name
	tool.Name = registry.QualifiedName(app, base)
	return registry.Tool{Tool: tool, App: app, BaseName: base}
}

func echoTool(calls *int32) registry.Tool {
	return qualify("demo", application.NewTool("echo", "Echoes text.",
		func(ctx context.Context, in echoInput) (echoOutput, error) {
			atomic.AddInt32(calls, 1)
			if in.Delay != "" {
				d, err := time.ParseDuration(in.Delay)
				if err != nil {
					return echoOutput{}, application.Invalid("delay", err.Error())
				}
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return echoOutput{}, ctx.Err()
				}
			}
			return echoOutput{Text: in.Text}, nil
		}, application.ReadOnly(), application.Idempotent()))
}

func failingTool() registry.Tool {
	return qualify("demo", application.NewTool("fail", "Always fails upstream.",
		func(ctx context.Context, in struct{}) (echoOutput, error) {
			return echoOutput{}, &application.HTTPError{StatusCode: http.StatusBadGateway, Method: "GET", Message: "upstream down"}
		}, application.Destructive()))
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestToolRegistryExecute(t *testing.T) {
	var calls int32
	rec := &callRecorder{}
	tr := NewToolRegistry(WithInvocationRecorder(rec.record), WithToolLogger(quietLogger()))
	require.NoError(t, tr.RegisterAll([]registry.Tool{echoTool(&calls), failingTool()}))

	t.Run("success is JSON text", func(t *testing.T) {
		res, err := tr.Execute(context.Background(), "demo__echo", json.RawMessage(`{"text":"hello"}`))
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.JSONEq(t, `{"text":"hello"}`, textOf(t, res))
	})

	t.Run("missing parameter never reaches the handler", func(t *testing.T) {
		before := atomic.LoadInt32(&calls)
		res, err := tr.Execute(context.Background(), "demo__echo", nil)
		require.NoError(t, err)
		require.True(t, res.IsError)

		var body ToolError
		require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &body))
		assert.Equal(t, string(application.ErrorTypeValidation), body.Type)
		assert.Contains(t, body.Error, "text")
		assert.Equal(t, before, atomic.LoadInt32(&calls))
	})

	t.Run("vendor error keeps status code", func(t *testing.T) {
		res, err := tr.Execute(context.Background(), "demo__fail", json.RawMessage(`{}`))
		require.NoError(t, err)
		require.True(t, res.IsError)

		var body ToolError
		require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &body))
		assert.Equal(t, string(application.ErrorTypeHTTP), body.Type)
		assert.Equal(t, http.StatusBadGateway, body.StatusCode)
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := tr.Execute(context.Background(), "demo__missing", nil)
		require.ErrorIs(t, err, ErrToolNotFound)
	})

	assert.Equal(t, []recordedCall{
		{app: "demo", tool: "echo", failed: false},
		{app: "demo", tool: "echo", failed: true},
		{app: "demo", tool: "fail", failed: true},
	}, rec.snapshot())
}

func TestToolRegistryTimeout(t *testing.T) {
	var calls int32
	tr := NewToolRegistry(WithToolTimeout(50*time.Millisecond), WithToolLogger(quietLogger()))
	require.NoError(t, tr.Register(echoTool(&calls)))

	start := time.Now()
	res, err := tr.Execute(context.Background(), "demo__echo", json.RawMessage(`{"text":"slow","delay":"5s"}`))
	require.NoError(t, err)
	require.True(t, res.IsError)
	assert.Less(t, time.Since(start), 2*time.Second)

	var body ToolError
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &body))
	assert.Equal(t, string(application.ErrorTypeTimeout), body.Type)
}

func TestToolRegistryConfiguredNames(t *testing.T) {
	var calls int32
	t.Setenv("MCP_TOOL_NAME_DEMO__ECHO", "say")

	tr := NewToolRegistry(WithToolPrefix("tb_"), WithToolLogger(quietLogger()))
	require.NoError(t, tr.Register(echoTool(&calls)))
	require.NoError(t, tr.Register(failingTool()))

	assert.Equal(t, []string{"say", "tb_demo__fail"}, tr.Names())
	assert.Equal(t, map[string]string{"demo__echo": "say", "demo__fail": "tb_demo__fail"}, tr.NameMapping())

	err := tr.Register(failingTool())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = tr.Register(registry.Tool{Tool: application.Tool{Name: "demo__nohandler"}})
	require.Error(t, err)
}

func TestResultText(t *testing.T) {
	text, err := resultText("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", text)

	text, err = resultText(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", text)

	_, err = resultText(func() {})
	require.Error(t, err)
}

func connectInMemory(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestToolRegistryInstall(t *testing.T) {
	var calls int32
	tr := NewToolRegistry(WithToolLogger(quietLogger()))
	require.NoError(t, tr.RegisterAll([]registry.Tool{echoTool(&calls), failingTool()}))

	server := mcp.NewServer(&mcp.Implementation{Name: "toolbelt-test", Version: "test"}, nil)
	tr.Install(server)
	session := connectInMemory(t, server)
	ctx := context.Background()

	listed, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	require.Len(t, listed.Tools, 2)
	assert.Equal(t, "demo__echo", listed.Tools[0].Name)
	require.NotNil(t, listed.Tools[0].Annotations)
	assert.True(t, listed.Tools[0].Annotations.ReadOnlyHint)
	assert.Equal(t, "demo__fail", listed.Tools[1].Name)
	require.NotNil(t, listed.Tools[1].Annotations.DestructiveHint)
	assert.True(t, *listed.Tools[1].Annotations.DestructiveHint)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "demo__echo",
		Arguments: map[string]any{"text": "over the wire"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"text":"over the wire"}`, textOf(t, res))

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "demo__fail", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestToolErrorIsJSON(t *testing.T) {
	res := errorResult(errors.New("boom"))
	require.True(t, res.IsError)
	var body ToolError
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &body))
	assert.Equal(t, "boom", body.Error)
	assert.Equal(t, string(application.ErrorTypeInternal), body.Type)
	assert.Zero(t, body.StatusCode)
}
