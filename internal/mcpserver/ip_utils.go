package mcpserver

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ParseCIDROrIP parses CIDR notation or a single address, which becomes a /32 or /128 network.
func ParseCIDROrIP(s string) (*net.IPNet, error) {
	s = strings.TrimSpace(s)
	if _, network, err := net.ParseCIDR(s); err == nil {
		return network, nil
	}

	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("'%s' is not a valid CIDR notation or IP address. Examples: '10.0.0.0/24' (CIDR), '192.168.1.1' (IPv4), '2001:db8::1' (IPv6)", s)
	}
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}

func parseNetworks(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		network, err := ParseCIDROrIP(entry)
		if err != nil {
			return nil, err
		}
		nets = append(nets, network)
	}
	return nets, nil
}

func containsIP(nets []*net.IPNet, ipStr string) bool {
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return false
	}
	for _, network := range nets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ExtractClientIP resolves the client address of r.
//
// Forwarding headers are honoured only when the direct peer is a trusted proxy.
// With no trusted proxies configured every peer is trusted and the first
// X-Forwarded-For entry wins. With trusted proxies the chain is walked from the
// right and the first untrusted hop is the client.
func ExtractClientIP(r *http.Request, trustedProxies []*net.IPNet) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}

	trusted := func(ip string) bool {
		return len(trustedProxies) == 0 || containsIP(trustedProxies, ip)
	}
	if !trusted(directIP) {
		return directIP
	}

	if xff := strings.Join(r.Header.Values("X-Forwarded-For"), ","); xff != "" {
		hops := strings.Split(xff, ",")
		if len(trustedProxies) > 0 {
			for i := len(hops) - 1; i >= 0; i-- {
				hop := strings.TrimSpace(hops[i])
				if hop != "" && !trusted(hop) {
					return hop
				}
			}
		}
		if first := strings.TrimSpace(hops[0]); first != "" {
			return first
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return directIP
}
