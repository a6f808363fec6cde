package mcpserver

import (
	"strings"

	"github.com/ca-srg/toolbelt/internal/types"
)

// NewUnifiedAuthFromConfig builds the authentication middleware from MCP_* settings.
func NewUnifiedAuthFromConfig(cfg *types.Config) (*UnifiedAuthMiddleware, error) {
	authCfg := &UnifiedAuthConfig{
		AuthMethod:     AuthMethod(strings.ToLower(strings.TrimSpace(cfg.MCPAuthMethod))),
		TrustedProxies: cfg.MCPTrustedProxies,
		EnableLogging:  cfg.MCPAuthEnableLogging,
		IPConfig: &IPAuthConfig{
			AllowedIPs:    cfg.MCPAllowedIPs,
			EnableLogging: cfg.MCPAuthEnableLogging,
		},
		JWTConfig: &JWTConfig{
			Secret:        cfg.MCPJWTSecret,
			Issuer:        cfg.MCPJWTIssuer,
			Audience:      cfg.MCPJWTAudience,
			EnableLogging: cfg.MCPAuthEnableLogging,
		},
	}
	if len(cfg.MCPBypassIPs) > 0 {
		authCfg.BypassConfig = &BypassConfig{
			Ranges:         cfg.MCPBypassIPs,
			VerboseLogging: cfg.MCPBypassVerboseLog,
			AuditLogging:   cfg.MCPBypassAuditLog,
		}
	}
	if authCfg.AuthMethod == "" {
		authCfg.AuthMethod = AuthMethodIP
	}
	return NewUnifiedAuthMiddleware(authCfg)
}
