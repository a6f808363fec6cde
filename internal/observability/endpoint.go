package observability

import (
	"fmt"
	"net/url"
	"strings"
)

// normalizeOTLPHTTPPath appends the signal path (for example /v1/traces) unless the
// endpoint already ends with it. Query strings are kept.
func normalizeOTLPHTTPPath(endpoint, suffix string) (string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	suffix = "/" + strings.Trim(strings.TrimSpace(suffix), "/")
	path := strings.TrimSuffix(parsed.Path, "/")
	if !strings.HasSuffix(path, suffix) {
		path += suffix
	}
	parsed.Path = path
	return parsed.String(), nil
}

// parseGRPCEndpoint returns host:port and whether the connection is plaintext.
// A bare host:port is plaintext.
func parseGRPCEndpoint(raw string) (string, bool, error) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return "", false, fmt.Errorf("endpoint cannot be empty")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, true, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, err
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("endpoint must include host")
	}

	switch parsed.Scheme {
	case "http", "grpc":
		return parsed.Host, true, nil
	case "https", "grpcs":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
}
