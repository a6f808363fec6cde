package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appcfg "github.com/ca-srg/toolbelt/internal/config"
	"github.com/ca-srg/toolbelt/internal/mcpserver"
	"github.com/ca-srg/toolbelt/internal/metrics"
	"github.com/ca-srg/toolbelt/internal/observability"
)

var (
	// Command line flags for MCP server
	mcpTransport       string
	mcpServerHost      string
	mcpServerPort      int
	mcpAllowedIPs      []string
	mcpAuthMethod      string
	mcpEnableAccessLog bool
	mcpToolPrefix      string
	mcpToolTags        []string
	mcpToolTimeout     int
)

var mcpServerCmd = &cobra.Command{
	Use:     "mcp-server",
	Aliases: []string{"serve"},
	Short:   "Start the MCP server exposing the enabled application tools",
	Long: `
Start an MCP server that exposes the tools of every application enabled in the
apps file. Tools are named "<app>__<tool>", for example "slack__send_message".

Two transports are available: "http" serves Streamable HTTP on / and both
Streamable HTTP and SSE on /mcp; "stdio" speaks MCP over stdin/stdout for
clients that launch the server as a subprocess.

Configuration is loaded from environment variables (see README for details).

Examples:
  toolbelt mcp-server                                  # HTTP on localhost:8080, IP auth
  toolbelt mcp-server --transport stdio                # For desktop MCP clients
  toolbelt mcp-server --port 9000 --auth-method jwt    # Bearer tokens signed with MCP_JWT_SECRET
  toolbelt mcp-server --tags important                 # Only expose tools tagged "important"
`,
	RunE: runMCPServer,
}

func init() {
	mcpServerCmd.Flags().StringVar(&mcpTransport, "transport", appcfg.TransportHTTP, "Transport: http or stdio")
	mcpServerCmd.Flags().StringVar(&mcpServerHost, "host", "localhost", "Server host address")
	mcpServerCmd.Flags().IntVar(&mcpServerPort, "port", 8080, "Server port")
	mcpServerCmd.Flags().StringSliceVar(&mcpAllowedIPs, "allowed-ips", appcfg.DefaultAllowedIPs, "Comma-separated list of allowed IP addresses/ranges")
	mcpServerCmd.Flags().StringVar(&mcpAuthMethod, "auth-method", appcfg.AuthMethodIP, "Authentication method: none, ip, jwt, both, either")
	mcpServerCmd.Flags().BoolVar(&mcpEnableAccessLog, "enable-access-log", true, "Enable HTTP access logging")
	mcpServerCmd.Flags().StringVar(&mcpToolPrefix, "tool-prefix", "", "Prefix added to every exposed tool name")
	mcpServerCmd.Flags().StringSliceVar(&mcpToolTags, "tags", nil, "Only expose tools carrying one of these tags")
	mcpServerCmd.Flags().IntVar(&mcpToolTimeout, "tool-timeout", 120, "Per-call tool timeout in seconds")
}

// applyServerFlags overrides configuration with the flags set on the command line.
func applyServerFlags(cmd *cobra.Command, cfg *appcfg.Config) error {
	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.MCPTransport = mcpTransport
	}
	if flags.Changed("host") {
		cfg.MCPServerHost = mcpServerHost
	}
	if flags.Changed("port") {
		cfg.MCPServerPort = mcpServerPort
	}
	if flags.Changed("allowed-ips") {
		cfg.MCPAllowedIPs = mcpAllowedIPs
	}
	if flags.Changed("auth-method") {
		cfg.MCPAuthMethod = mcpAuthMethod
	}
	if flags.Changed("enable-access-log") {
		cfg.MCPServerAccessLog = mcpEnableAccessLog
	}
	if flags.Changed("tool-prefix") {
		cfg.MCPToolPrefix = mcpToolPrefix
	}
	if flags.Changed("tags") {
		cfg.MCPToolTags = mcpToolTags
	}
	if flags.Changed("tool-timeout") {
		cfg.MCPToolTimeoutSeconds = mcpToolTimeout
	}
	return appcfg.Validate(cfg)
}

func runMCPServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServerFlags(cmd, cfg); err != nil {
		return fmt.Errorf("invalid server options: %w", err)
	}

	// stdout carries the protocol on stdio, so everything logs to stderr.
	logger := log.New(os.Stderr, "[MCP Server] ", log.LstdFlags)

	shutdownOTel, err := observability.Init(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			logger.Printf("OpenTelemetry shutdown error: %v", err)
		}
	}()

	metrics.Configure(cfg.StatsDBPath, cfg.StatsDisabled)
	if err := metrics.Init(); err != nil {
		logger.Printf("WARNING: usage statistics disabled: %v", err)
	}
	if err := metrics.InitOTelMetrics(); err != nil {
		logger.Printf("WARNING: failed to register usage gauges: %v", err)
	}
	defer func() { _ = metrics.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := loadRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Printf("Error closing applications: %v", err)
		}
	}()

	tools := selectTools(reg.Tools(), cfg.MCPToolTags)
	if len(tools) == 0 {
		return fmt.Errorf("no tools to serve: check %s and the tag filter", cfg.AppsFile)
	}

	toolRegistry := mcpserver.NewToolRegistry(
		mcpserver.WithToolTimeout(time.Duration(cfg.MCPToolTimeoutSeconds)*time.Second),
		mcpserver.WithToolPrefix(cfg.MCPToolPrefix),
		mcpserver.WithInvocationRecorder(metrics.RecordInvocation),
		mcpserver.WithToolLogger(logger),
	)
	if err := toolRegistry.RegisterAll(tools); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	server, err := mcpserver.NewServerWrapper(cfg, toolRegistry, version)
	if err != nil {
		return fmt.Errorf("failed to create server wrapper: %w", err)
	}
	server.SetLogger(logger)

	if cfg.MCPTransport == appcfg.TransportStdio {
		return server.ServeStdio(ctx)
	}

	if cfg.MCPAuthMethod == appcfg.AuthMethodNone {
		logger.Printf("WARNING: No authentication middleware enabled (auth-method=%s)", cfg.MCPAuthMethod)
	} else {
		auth, err := mcpserver.NewUnifiedAuthFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("failed to create authentication middleware: %w", err)
		}
		server.SetUnifiedAuthMiddleware(auth)
		logger.Printf("Authentication enabled (method=%s)", cfg.MCPAuthMethod)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start MCP server: %w", err)
	}
	logger.Printf("Available tools: %d", toolRegistry.Count())

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Printf("Received shutdown signal, stopping server...")
	case serveErr = <-server.Errors():
	}

	if err := server.Stop(); err != nil {
		logger.Printf("Error during server shutdown: %v", err)
	}
	if serveErr != nil {
		return fmt.Errorf("MCP server failed: %w", serveErr)
	}
	logger.Printf("MCP server stopped successfully")
	return nil
}
