package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/registry"
)

const defaultToolTimeout = 120 * time.Second

// ErrToolNotFound is returned by Execute for unknown tool names.
var ErrToolNotFound = errors.New("tool not found")

// InvocationRecorder persists one finished tool call.
type InvocationRecorder func(app, tool string, failed bool)

type toolEntry struct {
	tool           registry.Tool
	configuredName string
}

// ToolRegistry exposes application tools to MCP clients under their configured names.
type ToolRegistry struct {
	mu       sync.RWMutex
	tools    map[string]*toolEntry
	timeout  time.Duration
	prefix   string
	recorder InvocationRecorder
	logger   *log.Logger
	metrics  *toolMetrics
}

// ToolRegistryOption configures a ToolRegistry.
type ToolRegistryOption func(*ToolRegistry)

// WithToolTimeout bounds each tool call.
func WithToolTimeout(d time.Duration) ToolRegistryOption {
	return func(tr *ToolRegistry) {
		if d > 0 {
			tr.timeout = d
		}
	}
}

// WithToolPrefix prepends prefix to every tool name without an explicit override.
func WithToolPrefix(prefix string) ToolRegistryOption {
	return func(tr *ToolRegistry) {
		tr.prefix = prefix
	}
}

// WithInvocationRecorder sets the usage recorder.
func WithInvocationRecorder(rec InvocationRecorder) ToolRegistryOption {
	return func(tr *ToolRegistry) {
		tr.recorder = rec
	}
}

// WithToolLogger sets the logger.
func WithToolLogger(logger *log.Logger) ToolRegistryOption {
	return func(tr *ToolRegistry) {
		if logger != nil {
			tr.logger = logger
		}
	}
}

// WithMeterProvider reports tool metrics to mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) ToolRegistryOption {
	return func(tr *ToolRegistry) {
		if mp != nil {
			tr.metrics = newToolMetrics(mp.Meter(meterName))
		}
	}
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(opts ...ToolRegistryOption) *ToolRegistry {
	tr := &ToolRegistry{
		tools:   make(map[string]*toolEntry),
		timeout: defaultToolTimeout,
		logger:  log.New(os.Stderr, "[ToolRegistry] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(tr)
	}
	if tr.metrics == nil {
		tr.metrics = newToolMetrics(otel.Meter(meterName))
	}
	return tr
}

// Register adds tool under its configured name.
func (tr *ToolRegistry) Register(tool registry.Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}

	name := tr.configuredName(tool.Name)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, exists := tr.tools[name]; exists {
		return fmt.Errorf("tool with name '%s' already registered", name)
	}
	tr.tools[name] = &toolEntry{tool: tool, configuredName: name}

	if name != tool.Name {
		tr.logger.Printf("Registered tool: %s (internal: %s)", name, tool.Name)
	}
	return nil
}

// RegisterAll adds every tool, stopping at the first error.
func (tr *ToolRegistry) RegisterAll(tools []registry.Tool) error {
	for _, tool := range tools {
		if err := tr.Register(tool); err != nil {
			return err
		}
	}
	tr.logger.Printf("Registered %d tools", len(tools))
	return nil
}

// configuredName resolves MCP_TOOL_NAME_<NAME>, then MCP_TOOL_NAME_<name>, then the prefix.
func (tr *ToolRegistry) configuredName(internal string) string {
	if name := os.Getenv("MCP_TOOL_NAME_" + strings.ToUpper(internal)); name != "" {
		return name
	}
	if name := os.Getenv("MCP_TOOL_NAME_" + internal); name != "" {
		return name
	}
	return tr.prefix + internal
}

// Count returns the number of registered tools.
func (tr *ToolRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.tools)
}

// Names returns the configured tool names, sorted.
func (tr *ToolRegistry) Names() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	names := make([]string, 0, len(tr.tools))
	for name := range tr.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NameMapping maps qualified tool names to configured names.
func (tr *ToolRegistry) NameMapping() map[string]string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	mapping := make(map[string]string, len(tr.tools))
	for name, e := range tr.tools {
		mapping[e.tool.Name] = name
	}
	return mapping
}

// Install adds every registered tool to server.
func (tr *ToolRegistry) Install(server *mcp.Server) {
	for _, name := range tr.Names() {
		tr.mu.RLock()
		e := tr.tools[name]
		tr.mu.RUnlock()

		toolName := name
		server.AddTool(sdkTool(toolName, e.tool.Tool), func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return tr.Execute(ctx, toolName, req.Params.Arguments)
		})
	}
}

func sdkTool(name string, t application.Tool) *mcp.Tool {
	destructive := t.Annotations.Destructive
	openWorld := t.Annotations.OpenWorld
	return &mcp.Tool{
		Name:        name,
		Description: t.Description,
		InputSchema: t.InputSchema,
		Annotations: &mcp.ToolAnnotations{
			Title:           t.Annotations.Title,
			ReadOnlyHint:    t.Annotations.ReadOnly,
			DestructiveHint: &destructive,
			IdempotentHint:  t.Annotations.Idempotent,
			OpenWorldHint:   &openWorld,
		},
	}
}

// Execute runs a tool by configured name. Tool failures come back as results with
// IsError set; only an unknown name is returned as an error.
func (tr *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	tr.mu.RLock()
	e, ok := tr.tools[name]
	tr.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	ctx, cancel := context.WithTimeout(ctx, tr.timeout)
	defer cancel()

	type execResult struct {
		value interface{}
		err   error
	}
	resultCh := make(chan execResult, 1)
	start := time.Now()
	go func() {
		value, err := e.tool.Handler(ctx, args)
		resultCh <- execResult{value: value, err: err}
	}()

	var value interface{}
	var err error
	select {
	case <-ctx.Done():
		err = fmt.Errorf("tool execution cancelled: %w", ctx.Err())
	case res := <-resultCh:
		value, err = res.value, res.err
	}

	tr.metrics.record(ctx, e.tool, time.Since(start), err)
	if tr.recorder != nil {
		tr.recorder(e.tool.App, e.tool.BaseName, err != nil)
	}

	if err != nil {
		tr.logger.Printf("Tool execution failed for %s: %v", name, err)
		return errorResult(err), nil
	}

	text, err := resultText(value)
	if err != nil {
		tr.logger.Printf("Failed to encode result of %s: %v", name, err)
		return errorResult(err), nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
}

// ToolError is the JSON body of a failed tool call.
type ToolError struct {
	Error      string `json:"error"`
	Type       string `json:"type"`
	StatusCode int    `json:"status_code,omitempty"`
}

func errorResult(err error) *mcp.CallToolResult {
	body, _ := json.Marshal(ToolError{
		Error:      err.Error(),
		Type:       string(application.KindOf(err)),
		StatusCode: application.StatusCode(err),
	})
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
		IsError: true,
	}
}

func resultText(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}
	return string(data), nil
}
