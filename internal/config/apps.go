package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Integration types accepted in the apps file
const (
	IntegrationEnv            = "env"
	IntegrationStatic         = "static"
	IntegrationSecretsManager = "secretsmanager"
	IntegrationChain          = "chain"
)

// AppsFile is the YAML document listing the applications to enable.
type AppsFile struct {
	Apps []AppSpec `yaml:"apps"`
}

// AppSpec enables one application.
type AppSpec struct {
	Slug        string            `yaml:"slug"`
	Disabled    bool              `yaml:"disabled,omitempty"`
	Integration IntegrationSpec   `yaml:"integration,omitempty"`
	Tools       []string          `yaml:"tools,omitempty"`
	Tags        []string          `yaml:"tags,omitempty"`
	Options     map[string]string `yaml:"options,omitempty"`
}

// IntegrationSpec describes where an application's credentials come from.
// An empty type means env with the upper-cased slug as prefix.
type IntegrationSpec struct {
	Type        string            `yaml:"type,omitempty"`
	Prefix      string            `yaml:"prefix,omitempty"`
	SecretID    string            `yaml:"secret_id,omitempty"`
	Region      string            `yaml:"region,omitempty"`
	CacheTTL    string            `yaml:"cache_ttl,omitempty"`
	Credentials map[string]string `yaml:"credentials,omitempty"`
	Chain       []IntegrationSpec `yaml:"chain,omitempty"`
}

// LoadApps reads and validates the apps file at path.
func LoadApps(path string) ([]AppSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read apps file: %w", err)
	}
	apps, err := ParseApps(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return apps, nil
}

// ParseApps decodes an apps document. ${VAR} references in credentials and options
// are expanded from the environment. Disabled entries are dropped.
func ParseApps(data []byte) ([]AppSpec, error) {
	var file AppsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse apps file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Apps))
	apps := make([]AppSpec, 0, len(file.Apps))
	for i, app := range file.Apps {
		app.Slug = strings.TrimSpace(app.Slug)
		if app.Slug == "" {
			return nil, fmt.Errorf("apps[%d]: slug is required", i)
		}
		if app.Disabled {
			continue
		}
		if _, dup := seen[app.Slug]; dup {
			return nil, fmt.Errorf("apps[%d]: duplicate slug %q", i, app.Slug)
		}
		seen[app.Slug] = struct{}{}

		if err := app.Integration.normalize(app.Slug); err != nil {
			return nil, fmt.Errorf("apps[%d] (%s): %w", i, app.Slug, err)
		}
		app.Options = expandMap(app.Options)
		apps = append(apps, app)
	}
	return apps, nil
}

func (s *IntegrationSpec) normalize(slug string) error {
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	if s.Type == "" {
		s.Type = IntegrationEnv
	}

	switch s.Type {
	case IntegrationEnv:
		if s.Prefix == "" {
			s.Prefix = strings.ToUpper(slug)
		}
	case IntegrationStatic:
		if len(s.Credentials) == 0 {
			return fmt.Errorf("static integration requires credentials")
		}
		s.Credentials = expandMap(s.Credentials)
	case IntegrationSecretsManager:
		if strings.TrimSpace(s.SecretID) == "" {
			return fmt.Errorf("secretsmanager integration requires secret_id")
		}
	case IntegrationChain:
		if len(s.Chain) == 0 {
			return fmt.Errorf("chain integration requires at least one link")
		}
		for i := range s.Chain {
			if s.Chain[i].Type == IntegrationChain {
				return fmt.Errorf("chain[%d]: nested chains are not supported", i)
			}
			if err := s.Chain[i].normalize(slug); err != nil {
				return fmt.Errorf("chain[%d]: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown integration type %q", s.Type)
	}
	return nil
}

func expandMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return in
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
