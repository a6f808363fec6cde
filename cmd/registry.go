package cmd

import (
	"context"
	"fmt"
	"log"

	appcfg "github.com/ca-srg/toolbelt/internal/config"
	"github.com/ca-srg/toolbelt/internal/registry"
)

// loadConfig reads the environment and applies the persistent --apps-file flag.
func loadConfig() (*appcfg.Config, error) {
	cfg, err := appcfg.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if appsFile != "" {
		cfg.AppsFile = appsFile
	}
	return cfg, nil
}

// loadRegistry builds every application enabled in the apps file.
func loadRegistry(ctx context.Context, cfg *appcfg.Config, logger *log.Logger) (*registry.Registry, error) {
	specs, err := appcfg.LoadApps(cfg.AppsFile)
	if err != nil {
		return nil, err
	}

	var opts []registry.Option
	if logger != nil {
		opts = append(opts, registry.WithLogger(logger))
	}
	reg := registry.New(opts...)
	if err := reg.Load(ctx, specs); err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("failed to load applications: %w", err)
	}
	return reg, nil
}

// selectTools keeps tools carrying any of tags. No tags keeps everything.
func selectTools(tools []registry.Tool, tags []string) []registry.Tool {
	if len(tags) == 0 {
		return tools
	}
	selected := make([]registry.Tool, 0, len(tools))
	for _, t := range tools {
		for _, tag := range tags {
			if t.HasTag(tag) {
				selected = append(selected, t)
				break
			}
		}
	}
	return selected
}

// selectApp keeps the tools of one application, given by slug or alias.
func selectApp(tools []registry.Tool, app string) ([]registry.Tool, error) {
	if app == "" {
		return tools, nil
	}
	slug, _, ok := registry.Lookup(app)
	if !ok {
		return nil, fmt.Errorf("unknown application %q (available: %v)", app, registry.Available())
	}
	selected := make([]registry.Tool, 0, len(tools))
	for _, t := range tools {
		if t.App == slug {
			selected = append(selected, t)
		}
	}
	return selected, nil
}
