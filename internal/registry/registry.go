// Package registry builds the enabled applications from the apps file and exposes
// their tools under qualified names.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/config"
	"github.com/ca-srg/toolbelt/internal/integration"
)

const defaultSecretCacheTTL = 5 * time.Minute

// Tool is an application tool exposed under "<app>__<tool>".
type Tool struct {
	application.Tool

	App      string
	BaseName string
}

// Entry is one loaded application.
type Entry struct {
	Slug        string
	App         application.Application
	Integration application.Integration
	Tools       []application.Tool
}

// Registry holds the loaded applications.
type Registry struct {
	mu      sync.RWMutex
	entries []*Entry
	bySlug  map[string]*Entry
	logger  *log.Logger

	loadAWSConfig func(ctx context.Context, region string) (aws.Config, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAWSConfigLoader replaces the loader used by secretsmanager integrations.
func WithAWSConfigLoader(loader func(ctx context.Context, region string) (aws.Config, error)) Option {
	return func(r *Registry) {
		r.loadAWSConfig = loader
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		bySlug:        make(map[string]*Entry),
		logger:        log.New(os.Stderr, "[Registry] ", log.LstdFlags),
		loadAWSConfig: defaultAWSConfig,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// Load builds every application in specs. An unknown slug or an unknown tool name
// in a filter fails the whole load.
func (r *Registry) Load(ctx context.Context, specs []config.AppSpec) error {
	for _, spec := range specs {
		if err := r.Add(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// Add builds and registers one application.
func (r *Registry) Add(ctx context.Context, spec config.AppSpec) error {
	slug, factory, ok := Lookup(spec.Slug)
	if !ok {
		return fmt.Errorf("unknown application %q (available: %v)", spec.Slug, Available())
	}

	r.mu.RLock()
	_, exists := r.bySlug[slug]
	r.mu.RUnlock()
	if exists {
		return fmt.Errorf("application %s already loaded", slug)
	}

	integ, err := r.buildIntegration(ctx, slug, spec.Integration)
	if err != nil {
		return fmt.Errorf("%s: failed to build integration: %w", slug, err)
	}

	app, err := factory(integ, Options(spec.Options))
	if err != nil {
		return fmt.Errorf("%s: %w", slug, err)
	}

	all := app.Tools()
	if err := checkToolNames(all, spec.Tools); err != nil {
		return fmt.Errorf("%s: %w", slug, err)
	}
	tools := application.FilterTools(all, spec.Tools, spec.Tags)

	entry := &Entry{Slug: slug, App: app, Integration: integ, Tools: tools}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.bySlug[slug] = entry
	r.mu.Unlock()

	r.logger.Printf("Loaded application %s (%d/%d tools, integration %s)", slug, len(tools), len(all), integ.Name())
	return nil
}

func checkToolNames(tools []application.Tool, names []string) error {
	known := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		known[t.Name] = struct{}{}
	}
	for _, n := range names {
		if _, ok := known[n]; !ok {
			return fmt.Errorf("unknown tool %q", n)
		}
	}
	return nil
}

func (r *Registry) buildIntegration(ctx context.Context, slug string, spec config.IntegrationSpec) (application.Integration, error) {
	switch spec.Type {
	case "", config.IntegrationEnv:
		prefix := spec.Prefix
		if prefix == "" {
			prefix = slug
		}
		return integration.NewEnv(prefix), nil
	case config.IntegrationStatic:
		return integration.NewStatic(slug, spec.Credentials), nil
	case config.IntegrationSecretsManager:
		ttl := defaultSecretCacheTTL
		if spec.CacheTTL != "" {
			d, err := time.ParseDuration(spec.CacheTTL)
			if err != nil {
				return nil, fmt.Errorf("invalid cache_ttl: %w", err)
			}
			ttl = d
		}
		awsCfg, err := r.loadAWSConfig(ctx, spec.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		return integration.NewSecretsManagerFromConfig(awsCfg, spec.SecretID, ttl), nil
	case config.IntegrationChain:
		links := make([]application.Integration, 0, len(spec.Chain))
		for i, link := range spec.Chain {
			integ, err := r.buildIntegration(ctx, slug, link)
			if err != nil {
				return nil, fmt.Errorf("chain[%d]: %w", i, err)
			}
			links = append(links, integ)
		}
		return integration.NewChain(links...), nil
	default:
		return nil, fmt.Errorf("unknown integration type %q", spec.Type)
	}
}

// Entries returns the loaded applications in load order.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Entry(nil), r.entries...)
}

// Tools returns every enabled tool under its qualified name, sorted by name.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tools []Tool
	for _, e := range r.entries {
		for _, t := range e.Tools {
			qualified := t
			qualified.Name = QualifiedName(e.Slug, t.Name)
			qualified.Tags = append([]string(nil), t.Tags...)
			tools = append(tools, Tool{Tool: qualified, App: e.Slug, BaseName: t.Name})
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Tool finds an enabled tool by qualified name.
func (r *Registry) Tool(name string) (Tool, bool) {
	slug, base, ok := SplitQualifiedName(name)
	if !ok {
		return Tool{}, false
	}
	slug, _, _ = Lookup(slug)

	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.bySlug[slug]
	if !ok {
		return Tool{}, false
	}
	for _, t := range e.Tools {
		if t.Name == base {
			qualified := t
			qualified.Name = QualifiedName(slug, t.Name)
			return Tool{Tool: qualified, App: slug, BaseName: t.Name}, true
		}
	}
	return Tool{}, false
}

// ErrToolNotFound is returned by Call for unknown or filtered-out tools.
var ErrToolNotFound = errors.New("tool not found")

// Call runs one tool with raw JSON arguments.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	tool, ok := r.Tool(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return tool.Handler(ctx, args)
}

// Close releases application resources such as database pools.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, e := range r.entries {
		if c, ok := e.App.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", e.Slug, err))
			}
		}
	}
	return errors.Join(errs...)
}
