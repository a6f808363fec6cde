package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/toolbelt/internal/application"
	appcfg "github.com/ca-srg/toolbelt/internal/config"
	"github.com/ca-srg/toolbelt/internal/metrics"
	"github.com/ca-srg/toolbelt/internal/registry"
)

func writeAppsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func useAppsFile(t *testing.T, path string) {
	t.Helper()
	previous := appsFile
	appsFile = path
	t.Setenv("TOOLBELT_STATS_DISABLED", "true")
	metrics.ResetForTesting()
	t.Cleanup(func() {
		appsFile = previous
		metrics.ResetForTesting()
	})
}

func testTool(app, name string, opts ...application.ToolOption) registry.Tool {
	tool := application.NewTool(name, "Test tool.\nSecond line.",
		func(ctx context.Context, _ struct{}) (string, error) { return "ok", nil }, opts...)
	base := tool.Name
	tool.Name = registry.QualifiedName(app, base)
	return registry.Tool{Tool: tool, App: app, BaseName: base}
}

func TestSelectTools(t *testing.T) {
	tools := []registry.Tool{
		testTool("slack", "send_message", application.Important()),
		testTool("slack", "list_channels", application.ReadOnly()),
		testTool("exa", "search", application.WithTags("search")),
	}

	assert.Len(t, selectTools(tools, nil), 3)

	selected := selectTools(tools, []string{application.TagImportant, "search"})
	require.Len(t, selected, 2)
	assert.Equal(t, "slack__send_message", selected[0].Name)
	assert.Equal(t, "exa__search", selected[1].Name)

	byApp, err := selectApp(tools, "Slack")
	require.NoError(t, err)
	assert.Len(t, byApp, 2)

	_, err = selectApp(tools, "nope")
	require.Error(t, err)
}

func TestCallArguments(t *testing.T) {
	callArgsFile = ""
	t.Cleanup(func() { callArgsFile = "" })

	raw, err := callArguments([]string{"zenquotes__get_random_quote"})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))

	raw, err = callArguments([]string{"slack__send_message", `{"channel":"C1","text":"hi"}`})
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"C1","text":"hi"}`, string(raw))

	_, err = callArguments([]string{"slack__send_message", `["not","an","object"]`})
	require.Error(t, err)

	callArgsFile = filepath.Join(t.TempDir(), "args.json")
	require.NoError(t, os.WriteFile(callArgsFile, []byte(`{"text":"from file"}`), 0o600))
	raw, err = callArguments([]string{"slack__send_message"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"from file"}`, string(raw))

	_, err = callArguments([]string{"slack__send_message", `{}`})
	require.Error(t, err)
}

func TestToolsCommandListsEnabledApps(t *testing.T) {
	useAppsFile(t, writeAppsFile(t, "apps:\n  - slug: zenquotes\n  - slug: slack\n    disabled: true\n"))
	toolsApp, toolsJSON = "", false
	t.Cleanup(func() { toolsApp, toolsJSON = "", false })

	output := captureOutput(t, func() {
		require.NoError(t, runTools(toolsCmd, nil))
	})

	assert.Contains(t, output, "Found 2 tools")
	assert.Contains(t, output, "zenquotes__get_random_quote [read-only, important]")
	assert.Contains(t, output, "zenquotes__get_today_quote [read-only]")
	assert.NotContains(t, output, "slack__")
}

func TestToolsCommandJSON(t *testing.T) {
	useAppsFile(t, writeAppsFile(t, "apps:\n  - slug: zenquotes\n"))
	toolsApp, toolsJSON = "zenquotes", true
	t.Cleanup(func() { toolsApp, toolsJSON = "", false })

	output := captureOutput(t, func() {
		require.NoError(t, runTools(toolsCmd, nil))
	})

	var infos []toolInfo
	require.NoError(t, json.Unmarshal([]byte(output), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "zenquotes", infos[0].App)
	require.NotNil(t, infos[0].InputSchema)
	assert.Equal(t, "object", infos[0].InputSchema.Type)
}

func TestCallCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"q":"Well begun is half done.","a":"Aristotle"}]`))
	}))
	defer server.Close()

	useAppsFile(t, writeAppsFile(t, fmt.Sprintf("apps:\n  - slug: zenquotes\n    options:\n      base_url: %s\n", server.URL)))

	output := captureOutput(t, func() {
		require.NoError(t, runCall(callCmd, []string{"zenquotes__get_random_quote"}))
	})
	assert.Contains(t, output, `"quote": "Well begun is half done."`)
	assert.Contains(t, output, `"author": "Aristotle"`)

	err := runCall(callCmd, []string{"zenquotes__missing"})
	require.ErrorIs(t, err, registry.ErrToolNotFound)

	err = runCall(callCmd, []string{"no-separator"})
	require.Error(t, err)
}

func TestDescribeCallError(t *testing.T) {
	err := describeCallError(&application.HTTPError{StatusCode: 429, Method: "GET", Message: "slow down"})
	assert.Contains(t, err.Error(), "status 429")

	err = describeCallError(application.MissingParams("text"))
	assert.Contains(t, err.Error(), "invalid arguments")
}

func TestPrintStats(t *testing.T) {
	output := captureOutput(t, func() {
		require.NoError(t, printStats(nil, false))
	})
	assert.Contains(t, output, "No tool invocations recorded yet.")

	stats := []metrics.ToolStat{
		{App: "exa", Tool: "search", Count: 5, Errors: 1},
		{App: "slack", Tool: "send_message", Count: 2},
	}
	output = captureOutput(t, func() {
		require.NoError(t, printStats(stats, false))
	})
	assert.Contains(t, output, "exa__search")
	assert.Contains(t, output, "Total: 7 calls, 1 errors")

	output = captureOutput(t, func() {
		require.NoError(t, printStats(nil, true))
	})
	assert.JSONEq(t, `[]`, output)
}

func TestPrintApps(t *testing.T) {
	specs := []appcfg.AppSpec{{Slug: "s3", Integration: appcfg.IntegrationSpec{Type: appcfg.IntegrationSecretsManager}}}
	output := captureOutput(t, func() {
		printApps([]string{"aws_s3", "slack"}, specs)
	})
	assert.Regexp(t, `aws_s3\s+yes\s+secretsmanager`, output)
	assert.Regexp(t, `slack\s+no\s+-`, output)
}

func resetServerFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		for _, name := range []string{"transport", "port", "auth-method", "tags", "tool-prefix"} {
			if flag := mcpServerCmd.Flags().Lookup(name); flag != nil {
				_ = flag.Value.Set(flag.DefValue)
				flag.Changed = false
			}
		}
		mcpToolTags = nil
	})
}

func TestApplyServerFlags(t *testing.T) {
	resetServerFlags(t)
	cfg, err := appcfg.Load()
	require.NoError(t, err)

	require.NoError(t, mcpServerCmd.Flags().Set("port", "9191"))
	require.NoError(t, mcpServerCmd.Flags().Set("transport", "STDIO"))
	require.NoError(t, mcpServerCmd.Flags().Set("tags", "important,search"))
	require.NoError(t, mcpServerCmd.Flags().Set("tool-prefix", "tb_"))

	require.NoError(t, applyServerFlags(mcpServerCmd, cfg))
	assert.Equal(t, 9191, cfg.MCPServerPort)
	assert.Equal(t, appcfg.TransportStdio, cfg.MCPTransport)
	assert.Equal(t, []string{"important", "search"}, cfg.MCPToolTags)
	assert.Equal(t, "tb_", cfg.MCPToolPrefix)
	assert.Equal(t, "localhost", cfg.MCPServerHost, "unchanged flags keep configured values")
}

func TestApplyServerFlagsRejectsInvalidAuth(t *testing.T) {
	resetServerFlags(t)
	cfg, err := appcfg.Load()
	require.NoError(t, err)

	require.NoError(t, mcpServerCmd.Flags().Set("auth-method", "oidc"))
	require.Error(t, applyServerFlags(mcpServerCmd, cfg))
}
