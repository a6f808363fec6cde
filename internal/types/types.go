package types

import (
	"net"
	"strconv"
	"time"
)

// Config represents the toolbelt runtime configuration
type Config struct {
	// Applications
	AppsFile      string `json:"apps_file" env:"TOOLBELT_APPS_FILE,default=apps.yaml"`
	StatsDBPath   string `json:"stats_db_path" env:"TOOLBELT_STATS_DB"`
	StatsDisabled bool   `json:"stats_disabled" env:"TOOLBELT_STATS_DISABLED,default=false"`

	// MCP server configuration
	MCPTransport              string        `json:"mcp_transport" env:"MCP_TRANSPORT,default=http"`
	MCPServerHost             string        `json:"mcp_server_host" env:"MCP_SERVER_HOST,default=localhost"`
	MCPServerPort             int           `json:"mcp_server_port" env:"MCP_SERVER_PORT,default=8080"`
	MCPServerReadTimeout      time.Duration `json:"mcp_server_read_timeout" env:"MCP_SERVER_READ_TIMEOUT,default=30s"`
	MCPServerWriteTimeout     time.Duration `json:"mcp_server_write_timeout" env:"MCP_SERVER_WRITE_TIMEOUT,default=300s"`
	MCPServerIdleTimeout      time.Duration `json:"mcp_server_idle_timeout" env:"MCP_SERVER_IDLE_TIMEOUT,default=120s"`
	MCPServerMaxHeaderBytes   int           `json:"mcp_server_max_header_bytes" env:"MCP_SERVER_MAX_HEADER_BYTES,default=1048576"`
	MCPServerGracefulShutdown bool          `json:"mcp_server_graceful_shutdown" env:"MCP_SERVER_GRACEFUL_SHUTDOWN,default=true"`
	MCPServerShutdownTimeout  time.Duration `json:"mcp_server_shutdown_timeout" env:"MCP_SERVER_SHUTDOWN_TIMEOUT,default=30s"`
	MCPServerAccessLog        bool          `json:"mcp_server_access_log" env:"MCP_SERVER_ENABLE_ACCESS_LOGGING,default=true"`

	// Authentication configuration
	MCPAuthMethod        string   `json:"mcp_auth_method" env:"MCP_AUTH_METHOD,default=ip"`
	MCPAllowedIPsStr     string   `json:"-" env:"MCP_ALLOWED_IPS"`
	MCPAllowedIPs        []string `json:"mcp_allowed_ips"`
	MCPAuthEnableLogging bool     `json:"mcp_auth_enable_logging" env:"MCP_AUTH_ENABLE_LOGGING,default=false"`
	MCPJWTSecret         string   `json:"-" env:"MCP_JWT_SECRET"`
	MCPJWTIssuer         string   `json:"mcp_jwt_issuer" env:"MCP_JWT_ISSUER"`
	MCPJWTAudience       string   `json:"mcp_jwt_audience" env:"MCP_JWT_AUDIENCE"`
	MCPTrustedProxiesStr string   `json:"-" env:"MCP_TRUSTED_PROXIES"`
	MCPTrustedProxies    []string `json:"mcp_trusted_proxies"`
	MCPBypassIPsStr      string   `json:"-" env:"MCP_BYPASS_IP_RANGE"`
	MCPBypassIPs         []string `json:"mcp_bypass_ips"`
	MCPBypassVerboseLog  bool     `json:"mcp_bypass_verbose_log" env:"MCP_BYPASS_VERBOSE_LOG,default=false"`
	MCPBypassAuditLog    bool     `json:"mcp_bypass_audit_log" env:"MCP_BYPASS_AUDIT_LOG,default=true"`

	// Tool configuration
	MCPToolPrefix         string   `json:"mcp_tool_prefix" env:"MCP_TOOL_PREFIX"`
	MCPToolTimeoutSeconds int      `json:"mcp_tool_timeout_seconds" env:"MCP_TOOL_TIMEOUT_SECONDS,default=120"`
	MCPToolTagsStr        string   `json:"-" env:"MCP_TOOL_TAGS"`
	MCPToolTags           []string `json:"mcp_tool_tags"`

	// OpenTelemetry configuration
	OTelEnabled              bool    `json:"otel_enabled" env:"OTEL_ENABLED,default=false"`
	OTelServiceName          string  `json:"otel_service_name" env:"OTEL_SERVICE_NAME,default=toolbelt"`
	OTelExporterOTLPEndpoint string  `json:"otel_exporter_otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelExporterOTLPProtocol string  `json:"otel_exporter_otlp_protocol" env:"OTEL_EXPORTER_OTLP_PROTOCOL,default=http/protobuf"`
	OTelResourceAttributes   string  `json:"otel_resource_attributes" env:"OTEL_RESOURCE_ATTRIBUTES"`
	OTelTracesSampler        string  `json:"otel_traces_sampler" env:"OTEL_TRACES_SAMPLER,default=always_on"`
	OTelTracesSamplerArg     float64 `json:"otel_traces_sampler_arg" env:"OTEL_TRACES_SAMPLER_ARG,default=1.0"`
}

// ServerAddress returns host:port for the HTTP transport.
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.MCPServerHost, strconv.Itoa(c.MCPServerPort))
}
