package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	appcfg "github.com/ca-srg/toolbelt/internal/config"
	"github.com/ca-srg/toolbelt/internal/registry"
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List the known applications and the ones enabled in the apps file",
	RunE:  runApps,
}

func runApps(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	specs, err := appcfg.LoadApps(cfg.AppsFile)
	if err != nil {
		// The catalogue is still useful without an apps file.
		fmt.Printf("Apps file: %s (%v)\n\n", cfg.AppsFile, err)
	} else {
		fmt.Printf("Apps file: %s\n\n", cfg.AppsFile)
	}
	printApps(registry.Available(), specs)
	return nil
}

func printApps(available []string, specs []appcfg.AppSpec) {
	enabled := make(map[string]appcfg.AppSpec, len(specs))
	for _, spec := range specs {
		if slug, _, ok := registry.Lookup(spec.Slug); ok {
			enabled[slug] = spec
		}
	}

	fmt.Printf("%-16s %-8s %s\n", "APPLICATION", "ENABLED", "INTEGRATION")
	for _, slug := range available {
		spec, ok := enabled[slug]
		if !ok {
			fmt.Printf("%-16s %-8s %s\n", slug, "no", "-")
			continue
		}
		fmt.Printf("%-16s %-8s %s\n", slug, "yes", spec.Integration.Type)
	}
}
