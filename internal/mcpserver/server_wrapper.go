// Package mcpserver serves the enabled application tools over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ca-srg/toolbelt/internal/types"
)

const (
	serverName = "toolbelt"
	healthPath = "/health"
	mcpPath    = "/mcp"
)

// ServerWrapper owns the MCP server and its HTTP or stdio lifecycle.
type ServerWrapper struct {
	sdkServer  *mcp.Server
	httpServer *http.Server
	listener   net.Listener

	cfg            *types.Config
	version        string
	toolRegistry   *ToolRegistry
	authMiddleware *UnifiedAuthMiddleware

	logger    *log.Logger
	mutex     sync.RWMutex
	isRunning bool
	startedAt time.Time
	serveErr  chan error
}

// NewServerWrapper installs the registry's tools on a new MCP server.
func NewServerWrapper(cfg *types.Config, tools *ToolRegistry, version string) (*ServerWrapper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if tools == nil {
		return nil, fmt.Errorf("tool registry cannot be nil")
	}
	if version == "" {
		version = "dev"
	}

	sdkServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil)
	tools.Install(sdkServer)

	sw := &ServerWrapper{
		sdkServer:    sdkServer,
		cfg:          cfg,
		version:      version,
		toolRegistry: tools,
		logger:       log.New(os.Stderr, "[ServerWrapper] ", log.LstdFlags),
	}
	sw.logger.Printf("MCP server initialized with %d tools", tools.Count())
	return sw, nil
}

// SetLogger replaces the server logger.
func (sw *ServerWrapper) SetLogger(logger *log.Logger) {
	sw.mutex.Lock()
	defer sw.mutex.Unlock()
	if logger != nil {
		sw.logger = logger
	}
}

// SetUnifiedAuthMiddleware sets the HTTP authentication. A nil middleware disables it.
func (sw *ServerWrapper) SetUnifiedAuthMiddleware(middleware *UnifiedAuthMiddleware) {
	sw.mutex.Lock()
	defer sw.mutex.Unlock()
	sw.authMiddleware = middleware
	if middleware != nil {
		sw.logger.Printf("Unified authentication middleware set (method: %s)", middleware.Method())
	}
}

// SDKServer returns the underlying MCP server.
func (sw *ServerWrapper) SDKServer() *mcp.Server {
	return sw.sdkServer
}

// ToolRegistry returns the tool registry.
func (sw *ServerWrapper) ToolRegistry() *ToolRegistry {
	return sw.toolRegistry
}

// Handler builds the HTTP handler: Streamable HTTP on /, both transports on /mcp,
// and /health, behind authentication and access logging.
func (sw *ServerWrapper) Handler() http.Handler {
	getServer := func(*http.Request) *mcp.Server { return sw.sdkServer }

	mux := http.NewServeMux()
	mux.Handle("/", mcp.NewStreamableHTTPHandler(getServer, nil))
	mux.Handle(mcpPath, NewDualTransportHandler(getServer))
	mux.HandleFunc(healthPath, sw.handleHealthCheck)

	sw.mutex.RLock()
	auth := sw.authMiddleware
	sw.mutex.RUnlock()

	var handler http.Handler = mux
	if auth != nil {
		handler = auth.Middleware(handler)
	}
	if sw.cfg.MCPServerAccessLog {
		handler = sw.loggingMiddleware(handler)
	}
	return handler
}

// Start listens on the configured address and serves in the background.
func (sw *ServerWrapper) Start() error {
	sw.mutex.Lock()
	if sw.isRunning {
		sw.mutex.Unlock()
		return fmt.Errorf("server is already running")
	}
	sw.mutex.Unlock()

	handler := sw.Handler()
	addr := sw.cfg.ServerAddress()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:        handler,
		ReadTimeout:    sw.cfg.MCPServerReadTimeout,
		WriteTimeout:   sw.cfg.MCPServerWriteTimeout,
		IdleTimeout:    sw.cfg.MCPServerIdleTimeout,
		MaxHeaderBytes: sw.cfg.MCPServerMaxHeaderBytes,
	}

	sw.mutex.Lock()
	sw.httpServer = server
	sw.listener = listener
	sw.isRunning = true
	sw.startedAt = time.Now()
	sw.serveErr = make(chan error, 1)
	errCh := sw.serveErr
	sw.mutex.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			sw.logger.Printf("HTTP server error: %v", err)
			errCh <- err
		}
		close(errCh)
	}()

	sw.logger.Printf("MCP server listening on %s (Streamable HTTP on /, Streamable HTTP and SSE on %s)", listener.Addr(), mcpPath)
	return nil
}

// Addr returns the bound listener address once started.
func (sw *ServerWrapper) Addr() string {
	sw.mutex.RLock()
	defer sw.mutex.RUnlock()
	if sw.listener == nil {
		return ""
	}
	return sw.listener.Addr().String()
}

// Errors reports a fatal serve error; it is closed when serving stops.
func (sw *ServerWrapper) Errors() <-chan error {
	sw.mutex.RLock()
	defer sw.mutex.RUnlock()
	return sw.serveErr
}

// Stop shuts the HTTP server down, gracefully when configured.
func (sw *ServerWrapper) Stop() error {
	sw.mutex.Lock()
	defer sw.mutex.Unlock()

	if !sw.isRunning {
		return fmt.Errorf("server is not running")
	}
	sw.logger.Printf("Stopping MCP server...")

	var err error
	if sw.cfg.MCPServerGracefulShutdown {
		ctx, cancel := context.WithTimeout(context.Background(), sw.cfg.MCPServerShutdownTimeout)
		defer cancel()
		if err = sw.httpServer.Shutdown(ctx); err != nil {
			sw.logger.Printf("Graceful shutdown failed: %v, forcing immediate shutdown", err)
			err = sw.httpServer.Close()
		}
	} else {
		err = sw.httpServer.Close()
	}

	sw.isRunning = false
	sw.logger.Printf("MCP server stopped")
	return err
}

// IsRunning reports whether the HTTP server is serving.
func (sw *ServerWrapper) IsRunning() bool {
	sw.mutex.RLock()
	defer sw.mutex.RUnlock()
	return sw.isRunning
}

// ServeStdio runs the MCP session over stdin/stdout until ctx ends or the client disconnects.
func (sw *ServerWrapper) ServeStdio(ctx context.Context) error {
	sw.logger.Printf("Serving %d tools over stdio", sw.toolRegistry.Count())
	if err := sw.sdkServer.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Running bool   `json:"running"`
	Tools   int    `json:"tools"`
	Uptime  string `json:"uptime,omitempty"`
}

func (sw *ServerWrapper) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	sw.mutex.RLock()
	status := HealthStatus{
		Status:  "healthy",
		Version: sw.version,
		Running: sw.isRunning,
		Tools:   sw.toolRegistry.Count(),
	}
	if sw.isRunning {
		status.Uptime = time.Since(sw.startedAt).Round(time.Second).String()
	}
	sw.mutex.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		sw.logger.Printf("Failed to write response: %v", err)
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func newLoggingResponseWriter(w http.ResponseWriter) *loggingResponseWriter {
	return &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += int64(n)
	return n, err
}

// Flush keeps SSE streaming working through the logging wrapper.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *ServerWrapper) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := newLoggingResponseWriter(w)
		next.ServeHTTP(lrw, r)

		sw.logger.Printf(
			"Request: %s %s status=%d bytes=%d duration=%s remote=%s client_ip=%s forwarded=%s user_agent=%q",
			r.Method,
			r.URL.Path,
			lrw.status,
			lrw.size,
			time.Since(start),
			r.RemoteAddr,
			ExtractClientIP(r, nil),
			strings.Join(r.Header.Values("X-Forwarded-For"), ","),
			r.UserAgent(),
		)
	})
}
