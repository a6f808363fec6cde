package integration

import (
	"context"
	"fmt"
	"os"
	"strings"

	env "github.com/netflix/go-env"

	"github.com/ca-srg/toolbelt/internal/application"
)

// Static serves credentials fixed at construction, typically from the apps file.
type Static struct {
	name  string
	creds application.Credentials
}

// NewStatic creates a Static integration. The map is copied.
func NewStatic(name string, creds map[string]string) *Static {
	copied := make(application.Credentials, len(creds))
	for k, v := range creds {
		copied[k] = v
	}
	return &Static{name: name, creds: copied}
}

// Name returns the integration name.
func (s *Static) Name() string {
	return s.name
}

// Credentials returns the configured credentials.
func (s *Static) Credentials(context.Context) (application.Credentials, error) {
	return s.creds, nil
}

// Env reads credentials from environment variables sharing a prefix. With prefix
// "AIRTABLE", AIRTABLE_API_KEY becomes credential "api_key".
type Env struct {
	prefix  string
	environ func() []string
}

// NewEnv creates an Env integration. prefix is upper-cased; a trailing underscore is optional.
func NewEnv(prefix string) *Env {
	return &Env{
		prefix:  strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(prefix)), "_") + "_",
		environ: os.Environ,
	}
}

// Name returns the integration name.
func (e *Env) Name() string {
	return "env:" + strings.TrimSuffix(e.prefix, "_")
}

// Credentials collects every <PREFIX>_* variable with a non-empty value.
func (e *Env) Credentials(context.Context) (application.Credentials, error) {
	set, err := env.EnvironToEnvSet(e.environ())
	if err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	creds := make(application.Credentials)
	for key, value := range set {
		if !strings.HasPrefix(key, e.prefix) || strings.TrimSpace(value) == "" {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, e.prefix))
		if name == "" {
			continue
		}
		creds[name] = value
	}
	return creds, nil
}

// Chain returns the credentials of the first integration that yields any.
type Chain struct {
	links []application.Integration
}

// NewChain creates a Chain over integrations, skipping nils.
func NewChain(links ...application.Integration) *Chain {
	filtered := make([]application.Integration, 0, len(links))
	for _, l := range links {
		if l != nil {
			filtered = append(filtered, l)
		}
	}
	return &Chain{links: filtered}
}

// Name lists the chained integrations.
func (c *Chain) Name() string {
	names := make([]string, 0, len(c.links))
	for _, l := range c.links {
		names = append(names, l.Name())
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Credentials walks the chain in order. Errors from earlier links are returned only
// if no later link produced credentials.
func (c *Chain) Credentials(ctx context.Context) (application.Credentials, error) {
	var firstErr error
	for _, l := range c.links {
		creds, err := l.Credentials(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", l.Name(), err)
			}
			continue
		}
		if len(creds) > 0 {
			return creds, nil
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return application.Credentials{}, nil
}
