package mcpserver

import (
	"fmt"
	"log"
	"net"
	"net/http"
)

// AuthMethod selects how HTTP clients authenticate.
type AuthMethod string

const (
	AuthMethodNone   AuthMethod = "none"
	AuthMethodIP     AuthMethod = "ip"
	AuthMethodJWT    AuthMethod = "jwt"
	AuthMethodBoth   AuthMethod = "both"
	AuthMethodEither AuthMethod = "either"

	authMethodBypass AuthMethod = "bypass"
)

// IPAuthConfig configures the IP allow list.
type IPAuthConfig struct {
	AllowedIPs    []string
	EnableLogging bool
}

// BypassConfig lets clients in the given ranges skip authentication.
type BypassConfig struct {
	Ranges         []string
	VerboseLogging bool
	AuditLogging   bool
}

// UnifiedAuthConfig combines the IP and JWT settings.
type UnifiedAuthConfig struct {
	AuthMethod     AuthMethod
	IPConfig       *IPAuthConfig
	JWTConfig      *JWTConfig
	BypassConfig   *BypassConfig
	TrustedProxies []string
	EnableLogging  bool
}

// UnifiedAuthMiddleware applies the configured authentication method.
type UnifiedAuthMiddleware struct {
	method         AuthMethod
	ipAuth         *IPAuthMiddleware
	jwtAuth        *JWTAuthMiddleware
	bypass         *BypassChecker
	audit          *AuditLogger
	trustedProxies []string
	enableLogging  bool
}

// NewUnifiedAuthMiddleware builds the middleware for cfg.AuthMethod.
func NewUnifiedAuthMiddleware(cfg *UnifiedAuthConfig) (*UnifiedAuthMiddleware, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	m := &UnifiedAuthMiddleware{
		method:         cfg.AuthMethod,
		trustedProxies: cfg.TrustedProxies,
		enableLogging:  cfg.EnableLogging,
	}

	needIP, needJWT := false, false
	switch cfg.AuthMethod {
	case AuthMethodNone:
	case AuthMethodIP:
		needIP = true
	case AuthMethodJWT:
		needJWT = true
	case AuthMethodBoth, AuthMethodEither:
		needIP, needJWT = true, true
	default:
		return nil, fmt.Errorf("unsupported auth method %q", cfg.AuthMethod)
	}

	if needIP {
		if cfg.IPConfig == nil || len(cfg.IPConfig.AllowedIPs) == 0 {
			return nil, fmt.Errorf("IP configuration is required for method %s", cfg.AuthMethod)
		}
		ipAuth, err := NewIPAuthMiddleware(cfg.IPConfig.AllowedIPs, cfg.TrustedProxies, cfg.IPConfig.EnableLogging)
		if err != nil {
			return nil, fmt.Errorf("failed to create IP auth middleware: %w", err)
		}
		m.ipAuth = ipAuth
	}

	if needJWT {
		jwtAuth, err := NewJWTAuthMiddleware(cfg.JWTConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT auth middleware: %w", err)
		}
		m.jwtAuth = jwtAuth
	}

	if cfg.BypassConfig != nil && len(cfg.BypassConfig.Ranges) > 0 {
		if cfg.AuthMethod == AuthMethodEither {
			return nil, fmt.Errorf("bypass authentication cannot be used with 'either' auth method")
		}
		checker, err := NewBypassChecker(cfg.BypassConfig.Ranges, cfg.BypassConfig.VerboseLogging)
		if err != nil {
			return nil, err
		}
		m.bypass = checker
		if cfg.BypassConfig.AuditLogging {
			m.audit = NewAuditLogger(nil)
		}
	}

	if m.enableLogging {
		log.Printf("Unified Auth Middleware initialized with method: %s", cfg.AuthMethod)
	}
	return m, nil
}

// Method returns the configured method.
func (m *UnifiedAuthMiddleware) Method() AuthMethod {
	return m.method
}

// Middleware wraps next with the configured checks. /health is always public.
func (m *UnifiedAuthMiddleware) Middleware(next http.Handler) http.Handler {
	var guarded http.Handler
	switch m.method {
	case AuthMethodIP:
		guarded = m.ipAuth.Middleware(next)
	case AuthMethodJWT:
		guarded = m.jwtAuth.Middleware(next)
	case AuthMethodBoth:
		guarded = m.ipAuth.Middleware(m.jwtAuth.Middleware(next))
	case AuthMethodEither:
		guarded = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serveEither(next, w, r)
		})
	default:
		guarded = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := ExtractClientIP(r, m.proxyNets())
			next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), AuthMethodNone, clientIP)))
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			next.ServeHTTP(w, r)
			return
		}
		if m.bypass != nil {
			clientIP := ExtractClientIP(r, m.proxyNets())
			if matched, ok := m.bypass.Match(clientIP); ok {
				if m.audit != nil {
					_ = m.audit.Log(NewAuditEntry(r, clientIP, matched))
				}
				next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), authMethodBypass, clientIP)))
				return
			}
		}
		guarded.ServeHTTP(w, r)
	})
}

func (m *UnifiedAuthMiddleware) proxyNets() []*net.IPNet {
	if m.ipAuth != nil {
		return m.ipAuth.trustedProxies
	}
	nets, _ := parseNetworks(m.trustedProxies)
	return nets
}

func (m *UnifiedAuthMiddleware) serveEither(next http.Handler, w http.ResponseWriter, r *http.Request) {
	clientIP := m.ipAuth.ClientIP(r)
	if m.ipAuth.IsIPAllowed(clientIP) {
		if m.enableLogging {
			log.Printf("Access granted via IP authentication for IP: %s", clientIP)
		}
		next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), AuthMethodIP, clientIP)))
		return
	}

	claims, err := m.jwtAuth.Authenticate(r)
	if err == nil {
		if m.enableLogging {
			log.Printf("Access granted via JWT for subject: %s", claims.Subject)
		}
		ctx := withAuth(r.Context(), AuthMethodJWT, clientIP)
		next.ServeHTTP(w, r.WithContext(withClaims(ctx, claims)))
		return
	}

	if m.enableLogging {
		log.Printf("Access denied: neither IP (%s) nor JWT authentication succeeded: %v", clientIP, err)
	}
	sendAuthenticationRequired(w, err)
}
