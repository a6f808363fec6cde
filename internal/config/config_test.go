package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		require.Equal(t, "localhost", cfg.MCPServerHost)
		require.Equal(t, 8080, cfg.MCPServerPort)
		require.Equal(t, TransportHTTP, cfg.MCPTransport)
		require.Equal(t, AuthMethodIP, cfg.MCPAuthMethod)
		require.Equal(t, []string{"127.0.0.1", "::1"}, cfg.MCPAllowedIPs)
		require.Equal(t, 120, cfg.MCPToolTimeoutSeconds)
		require.Equal(t, 30*time.Second, cfg.MCPServerReadTimeout)
		require.Equal(t, "apps.yaml", cfg.AppsFile)
		require.Equal(t, "toolbelt", cfg.OTelServiceName)
		require.Empty(t, cfg.MCPToolTags)
	})

	t.Run("parses lists and overrides", func(t *testing.T) {
		t.Setenv("MCP_SERVER_PORT", "9001")
		t.Setenv("MCP_ALLOWED_IPS", "10.0.0.0/8 , 192.168.1.5,,")
		t.Setenv("MCP_TOOL_TAGS", "important, email")
		t.Setenv("MCP_TOOL_PREFIX", "tb_")
		t.Setenv("MCP_AUTH_METHOD", "EITHER")
		t.Setenv("MCP_JWT_SECRET", testSecret)

		cfg, err := Load()
		require.NoError(t, err)

		require.Equal(t, 9001, cfg.MCPServerPort)
		require.Equal(t, []string{"10.0.0.0/8", "192.168.1.5"}, cfg.MCPAllowedIPs)
		require.Equal(t, []string{"important", "email"}, cfg.MCPToolTags)
		require.Equal(t, "tb_", cfg.MCPToolPrefix)
		require.Equal(t, AuthMethodEither, cfg.MCPAuthMethod)
	})

	t.Run("parses proxy and bypass lists", func(t *testing.T) {
		t.Setenv("MCP_TRUSTED_PROXIES", "127.0.0.1, 10.1.0.0/16")
		t.Setenv("MCP_BYPASS_IP_RANGE", "172.16.0.0/12")

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, []string{"127.0.0.1", "10.1.0.0/16"}, cfg.MCPTrustedProxies)
		require.Equal(t, []string{"172.16.0.0/12"}, cfg.MCPBypassIPs)
		require.True(t, cfg.MCPBypassAuditLog)
	})

	t.Run("clamps tool timeout", func(t *testing.T) {
		t.Setenv("MCP_TOOL_TIMEOUT_SECONDS", "-5")
		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, 1, cfg.MCPToolTimeoutSeconds)

		t.Setenv("MCP_TOOL_TIMEOUT_SECONDS", "99999")
		cfg, err = Load()
		require.NoError(t, err)
		require.Equal(t, 3600, cfg.MCPToolTimeoutSeconds)
	})

	t.Run("stdio skips server validation", func(t *testing.T) {
		t.Setenv("MCP_TRANSPORT", "stdio")
		t.Setenv("MCP_SERVER_PORT", "0")
		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, TransportStdio, cfg.MCPTransport)
	})
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"port out of range": {"MCP_SERVER_PORT": "70000"},
		"unknown transport": {"MCP_TRANSPORT": "websocket"},
		"unknown auth":      {"MCP_AUTH_METHOD": "oidc"},
		"bad allowed ip":    {"MCP_ALLOWED_IPS": "10.0.0.300"},
		"short jwt secret":  {"MCP_AUTH_METHOD": "jwt", "MCP_JWT_SECRET": "short"},
		"bad host":          {"MCP_SERVER_HOST": "bad host!"},
		"tiny read timeout": {"MCP_SERVER_READ_TIMEOUT": "10ms"},
		"bad tool prefix":   {"MCP_TOOL_PREFIX": "a b"},
		"huge header limit": {"MCP_SERVER_MAX_HEADER_BYTES": "104857600"},
		"bad trusted proxy": {"MCP_TRUSTED_PROXIES": "proxy.local"},
		"bad bypass range":  {"MCP_BYPASS_IP_RANGE": "10.0.0.0/33"},
		"bypass with either": {
			"MCP_AUTH_METHOD":     "either",
			"MCP_JWT_SECRET":      testSecret,
			"MCP_BYPASS_IP_RANGE": "10.0.0.0/24",
		},
	}

	for name, envs := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range envs {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			require.Contains(t, err.Error(), "configuration validation failed")
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TOOLBELT_DOTENV_PROBE=from-file\nMCP_SERVER_PORT=7000\n"), 0o600))

	t.Setenv("TOOLBELT_DOTENV_PROBE", "")
	require.NoError(t, os.Unsetenv("TOOLBELT_DOTENV_PROBE"))
	t.Setenv("MCP_SERVER_PORT", "9100")

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	require.Equal(t, "from-file", os.Getenv("TOOLBELT_DOTENV_PROBE"))
	require.Equal(t, "9100", os.Getenv("MCP_SERVER_PORT"), "existing variables are kept")
	require.NoError(t, os.Unsetenv("TOOLBELT_DOTENV_PROBE"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "nope.env")))
}

func TestValidateHelpers(t *testing.T) {
	require.True(t, isValidHostname("mcp.internal-1.example.com"))
	require.False(t, isValidHostname("-bad"))
	require.True(t, isValidToolName("slack__chat_post_message"))
	require.False(t, isValidToolName(strings.Repeat("x", 129)))
	require.True(t, isValidIPOrCIDR("::1"))
	require.True(t, isValidIPOrCIDR("172.16.0.0/12"))
	require.False(t, isValidIPOrCIDR("172.16.0.0/40"))
}
