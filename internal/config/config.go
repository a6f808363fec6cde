package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	env "github.com/netflix/go-env"

	"github.com/ca-srg/toolbelt/internal/types"
)

// Type alias for Config
type Config = types.Config

// Auth methods accepted by MCP_AUTH_METHOD
const (
	AuthMethodNone   = "none"
	AuthMethodIP     = "ip"
	AuthMethodJWT    = "jwt"
	AuthMethodBoth   = "both"
	AuthMethodEither = "either"
)

// Transports accepted by MCP_TRANSPORT
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// DefaultAllowedIPs is used when MCP_ALLOWED_IPS is unset.
var DefaultAllowedIPs = []string{"127.0.0.1", "::1"}

// LoadDotEnv reads .env files into the process environment. Missing files are ignored;
// variables already set are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := godotenv.Read(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load %s: %w", strings.Join(existing, ","), err)
	}
	return nil
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config

	_, err := env.UnmarshalFromEnviron(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	config.MCPAllowedIPs = splitList(config.MCPAllowedIPsStr)
	if len(config.MCPAllowedIPs) == 0 {
		config.MCPAllowedIPs = append([]string(nil), DefaultAllowedIPs...)
	}
	config.MCPToolTags = splitList(config.MCPToolTagsStr)
	config.MCPTrustedProxies = splitList(config.MCPTrustedProxiesStr)
	config.MCPBypassIPs = splitList(config.MCPBypassIPsStr)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks configuration values and adjusts them to safe ranges. Cobra flag
// overrides are applied before the server calls it again.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("configuration is nil")
	}

	// Tool timeout is clamped rather than rejected
	if config.MCPToolTimeoutSeconds < 1 {
		config.MCPToolTimeoutSeconds = 1
	}
	if config.MCPToolTimeoutSeconds > 3600 {
		config.MCPToolTimeoutSeconds = 3600
	}

	config.MCPTransport = strings.ToLower(strings.TrimSpace(config.MCPTransport))
	switch config.MCPTransport {
	case "":
		config.MCPTransport = TransportHTTP
	case TransportHTTP, TransportStdio:
	default:
		return fmt.Errorf("MCP_TRANSPORT must be http or stdio, got: %s", config.MCPTransport)
	}

	if config.MCPToolPrefix != "" && !isValidToolName(config.MCPToolPrefix) {
		return fmt.Errorf("MCP_TOOL_PREFIX contains invalid characters: %s", config.MCPToolPrefix)
	}

	if config.MCPTransport == TransportHTTP {
		if err := validateServerConfig(config); err != nil {
			return fmt.Errorf("MCP server configuration validation failed: %w", err)
		}
		if err := validateAuthConfig(config); err != nil {
			return fmt.Errorf("MCP authentication configuration validation failed: %w", err)
		}
	}

	return nil
}

// validateServerConfig validates HTTP server configuration
func validateServerConfig(config *Config) error {
	if config.MCPServerHost == "" {
		return fmt.Errorf("MCP_SERVER_HOST cannot be empty")
	}
	if net.ParseIP(config.MCPServerHost) == nil && !isValidHostname(config.MCPServerHost) {
		return fmt.Errorf("MCP_SERVER_HOST must be a valid IP address or hostname: %s", config.MCPServerHost)
	}

	if config.MCPServerPort < 1 || config.MCPServerPort > 65535 {
		return fmt.Errorf("MCP_SERVER_PORT must be between 1 and 65535, got: %d", config.MCPServerPort)
	}

	timeoutChecks := []struct {
		name     string
		value    time.Duration
		maxValue time.Duration
	}{
		{"MCP_SERVER_READ_TIMEOUT", config.MCPServerReadTimeout, 5 * time.Minute},
		{"MCP_SERVER_WRITE_TIMEOUT", config.MCPServerWriteTimeout, time.Hour},
		{"MCP_SERVER_IDLE_TIMEOUT", config.MCPServerIdleTimeout, 30 * time.Minute},
		{"MCP_SERVER_SHUTDOWN_TIMEOUT", config.MCPServerShutdownTimeout, 2 * time.Minute},
	}
	for _, check := range timeoutChecks {
		if check.value < time.Second {
			return fmt.Errorf("%s must be at least 1s, got: %v", check.name, check.value)
		}
		if check.value > check.maxValue {
			return fmt.Errorf("%s cannot exceed %v, got: %v", check.name, check.maxValue, check.value)
		}
	}

	if config.MCPServerMaxHeaderBytes <= 0 {
		return fmt.Errorf("MCP_SERVER_MAX_HEADER_BYTES must be greater than 0")
	}
	if config.MCPServerMaxHeaderBytes > 10<<20 { // 10MB limit
		return fmt.Errorf("MCP_SERVER_MAX_HEADER_BYTES cannot exceed 10MB")
	}

	return nil
}

// validateAuthConfig validates the unified auth settings
func validateAuthConfig(config *Config) error {
	config.MCPAuthMethod = strings.ToLower(strings.TrimSpace(config.MCPAuthMethod))
	method := config.MCPAuthMethod

	switch method {
	case AuthMethodNone, AuthMethodIP, AuthMethodJWT, AuthMethodBoth, AuthMethodEither:
	default:
		return fmt.Errorf("MCP_AUTH_METHOD must be one of none|ip|jwt|both|either, got: %s", method)
	}

	usesIP := method == AuthMethodIP || method == AuthMethodBoth || method == AuthMethodEither
	usesJWT := method == AuthMethodJWT || method == AuthMethodBoth || method == AuthMethodEither

	if usesIP {
		if len(config.MCPAllowedIPs) == 0 {
			return fmt.Errorf("MCP_ALLOWED_IPS cannot be empty when auth method is %s", method)
		}
		const maxAllowedIPs = 100
		if len(config.MCPAllowedIPs) > maxAllowedIPs {
			return fmt.Errorf("too many allowed IPs, maximum: %d, got: %d", maxAllowedIPs, len(config.MCPAllowedIPs))
		}
		for i, ip := range config.MCPAllowedIPs {
			if !isValidIPOrCIDR(ip) {
				return fmt.Errorf("invalid IP address or CIDR in MCP_ALLOWED_IPS at index %d: %s", i, ip)
			}
		}
	}

	if usesJWT && len(config.MCPJWTSecret) < 32 {
		return fmt.Errorf("MCP_JWT_SECRET must be at least 32 bytes when auth method is %s", method)
	}

	for i, ip := range config.MCPTrustedProxies {
		if !isValidIPOrCIDR(ip) {
			return fmt.Errorf("invalid IP address or CIDR in MCP_TRUSTED_PROXIES at index %d: %s", i, ip)
		}
	}
	if len(config.MCPBypassIPs) > 0 {
		if method == AuthMethodEither {
			return fmt.Errorf("MCP_BYPASS_IP_RANGE cannot be used with auth method %s", method)
		}
		for i, ip := range config.MCPBypassIPs {
			if !isValidIPOrCIDR(ip) {
				return fmt.Errorf("invalid IP address or CIDR in MCP_BYPASS_IP_RANGE at index %d: %s", i, ip)
			}
		}
	}

	return nil
}

func isValidIPOrCIDR(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}

// isValidHostname checks if a string is a valid hostname
func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}

	for _, char := range hostname {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') || char == '-' || char == '.') {
			return false
		}
	}

	// Cannot start or end with hyphen
	if strings.HasPrefix(hostname, "-") || strings.HasSuffix(hostname, "-") {
		return false
	}

	return true
}

// isValidToolName checks the characters MCP clients accept in tool names
func isValidToolName(name string) bool {
	if len(name) == 0 || len(name) > 128 {
		return false
	}

	for _, char := range name {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') || char == '_' || char == '-' || char == '.') {
			return false
		}
	}

	return true
}
