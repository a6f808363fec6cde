// Package observability configures OpenTelemetry tracing and metrics export.
package observability

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ca-srg/toolbelt/internal/types"
)

const (
	defaultServiceName    = "toolbelt"
	defaultMetricInterval = 60 * time.Second

	protocolHTTP = "http/protobuf"
	protocolGRPC = "grpc"

	samplerAlwaysOn     = "always_on"
	samplerAlwaysOff    = "always_off"
	samplerRatio        = "traceidratio"
	samplerParentBased  = "parentbased_always_on"
	serviceNameResource = "service.name"
)

// Config holds the resolved OpenTelemetry settings.
type Config struct {
	Enabled              bool
	ServiceName          string
	Endpoint             string
	Protocol             string
	ResourceAttributes   map[string]string
	Sampler              string
	SamplerArg           float64
	MetricExportInterval time.Duration
}

// FromConfig resolves and validates the OTEL_* settings of the root configuration.
func FromConfig(cfg *types.Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("observability: nil root configuration provided")
	}

	attrs, err := parseResourceAttributes(cfg.OTelResourceAttributes)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to parse resource attributes: %w", err)
	}

	c := &Config{
		Enabled:            cfg.OTelEnabled,
		ServiceName:        strings.TrimSpace(cfg.OTelServiceName),
		Endpoint:           strings.TrimSpace(cfg.OTelExporterOTLPEndpoint),
		Protocol:           cfg.OTelExporterOTLPProtocol,
		ResourceAttributes: attrs,
		Sampler:            cfg.OTelTracesSampler,
		SamplerArg:         cfg.OTelTracesSamplerArg,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate applies defaults and, when export is enabled, checks the exporter settings.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("observability: config is nil")
	}

	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	c.Protocol = strings.ToLower(strings.TrimSpace(c.Protocol))
	if c.Protocol == "" {
		c.Protocol = protocolHTTP
	}
	c.Sampler = strings.ToLower(strings.TrimSpace(c.Sampler))
	if c.Sampler == "" {
		c.Sampler = samplerAlwaysOn
	}
	if c.MetricExportInterval <= 0 {
		c.MetricExportInterval = defaultMetricInterval
	}
	if c.ResourceAttributes == nil {
		c.ResourceAttributes = make(map[string]string)
	}
	if _, ok := c.ResourceAttributes[serviceNameResource]; !ok {
		c.ResourceAttributes[serviceNameResource] = c.ServiceName
	}

	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("observability: OTLP exporter endpoint is required when OpenTelemetry is enabled")
	}
	if err := validateEndpoint(c.Protocol, c.Endpoint); err != nil {
		return err
	}

	switch {
	case c.SamplerArg < 0:
		return fmt.Errorf("observability: traces sampler argument must be non-negative")
	case c.Sampler == samplerRatio && (c.SamplerArg <= 0 || c.SamplerArg > 1):
		return fmt.Errorf("observability: traces sampler argument must be between 0 and 1 when sampler is traceidratio")
	}
	return nil
}

func validateEndpoint(protocol, endpoint string) error {
	hasScheme := strings.Contains(endpoint, "://")

	switch protocol {
	case protocolHTTP:
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			return fmt.Errorf("observability: OTLP exporter endpoint must include http or https scheme when using http/protobuf protocol")
		}
	case protocolGRPC:
		if !hasScheme {
			if !strings.Contains(endpoint, ":") {
				return fmt.Errorf("observability: OTLP exporter endpoint should include host:port when using grpc protocol")
			}
			return nil
		}
	default:
		return fmt.Errorf("observability: unsupported OTLP exporter protocol %q", protocol)
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("observability: invalid OTLP exporter endpoint: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("observability: OTLP exporter endpoint must include a host")
	}
	return nil
}

func parseResourceAttributes(input string) (map[string]string, error) {
	attrs := make(map[string]string)
	for _, pair := range strings.Split(input, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid resource attribute %q", pair)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("resource attribute key cannot be empty")
		}
		attrs[key] = strings.TrimSpace(value)
	}
	return attrs, nil
}
