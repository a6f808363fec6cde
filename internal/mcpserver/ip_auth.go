package mcpserver

import (
	"fmt"
	"log"
	"net"
	"net/http"
)

// IPAuthMiddleware admits requests whose client IP is inside an allowed range.
type IPAuthMiddleware struct {
	allowedIPs     []string
	allowedNets    []*net.IPNet
	trustedProxies []*net.IPNet
	enableLogging  bool
}

// NewIPAuthMiddleware parses the allowed ranges (single addresses or CIDR blocks).
func NewIPAuthMiddleware(allowedIPs, trustedProxies []string, enableLogging bool) (*IPAuthMiddleware, error) {
	if len(allowedIPs) == 0 {
		return nil, fmt.Errorf("no allowed IPs specified")
	}

	allowed, err := parseNetworks(allowedIPs)
	if err != nil {
		return nil, fmt.Errorf("invalid allowed IP: %w", err)
	}
	proxies, err := parseNetworks(trustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxy: %w", err)
	}

	if enableLogging {
		log.Printf("IP Auth Middleware initialized with %d allowed IP ranges", len(allowed))
	}
	return &IPAuthMiddleware{
		allowedIPs:     append([]string(nil), allowedIPs...),
		allowedNets:    allowed,
		trustedProxies: proxies,
		enableLogging:  enableLogging,
	}, nil
}

// Middleware rejects requests from addresses outside the allowed ranges with 403.
func (m *IPAuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := m.ClientIP(r)
		if !m.IsIPAllowed(clientIP) {
			if m.enableLogging {
				log.Printf("Access denied for IP: %s (Path: %s, Method: %s, User-Agent: %s)",
					clientIP, r.URL.Path, r.Method, r.Header.Get("User-Agent"))
			}
			writeAuthError(w, http.StatusForbidden, "Access denied: IP not authorized")
			return
		}

		if m.enableLogging {
			log.Printf("Access granted for IP: %s (Path: %s, Method: %s)", clientIP, r.URL.Path, r.Method)
		}
		next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), AuthMethodIP, clientIP)))
	})
}

// ClientIP resolves the client address honouring the trusted proxies.
func (m *IPAuthMiddleware) ClientIP(r *http.Request) string {
	return ExtractClientIP(r, m.trustedProxies)
}

// IsIPAllowed reports whether ipStr is inside an allowed range.
func (m *IPAuthMiddleware) IsIPAllowed(ipStr string) bool {
	return containsIP(m.allowedNets, ipStr)
}

// AllowedIPs returns the configured ranges.
func (m *IPAuthMiddleware) AllowedIPs() []string {
	return append([]string(nil), m.allowedIPs...)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := fmt.Sprintf(`{"error": {"code": -32603, "message": %q}}`, message)
	if _, err := w.Write([]byte(body)); err != nil {
		log.Printf("Failed to write error response: %v", err)
	}
}
