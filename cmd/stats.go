package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ca-srg/toolbelt/internal/metrics"
	"github.com/ca-srg/toolbelt/internal/registry"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cumulative tool invocation counts",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print JSON instead of a table")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StatsDisabled {
		return fmt.Errorf("usage statistics are disabled (TOOLBELT_STATS_DISABLED)")
	}

	metrics.Configure(cfg.StatsDBPath, false)
	if err := metrics.Init(); err != nil {
		return fmt.Errorf("failed to open statistics: %w", err)
	}
	defer func() { _ = metrics.Close() }()

	return printStats(metrics.GetStats(), statsJSON)
}

func printStats(stats []metrics.ToolStat, asJSON bool) error {
	if asJSON {
		if stats == nil {
			stats = []metrics.ToolStat{}
		}
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode statistics: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(stats) == 0 {
		fmt.Println("No tool invocations recorded yet.")
		return nil
	}

	var total, failed int64
	fmt.Printf("%-40s %8s %8s\n", "TOOL", "CALLS", "ERRORS")
	for _, st := range stats {
		fmt.Printf("%-40s %8d %8d\n", registry.QualifiedName(st.App, st.Tool), st.Count, st.Errors)
		total += st.Count
		failed += st.Errors
	}
	fmt.Printf("\nTotal: %d calls, %d errors\n", total, failed)
	return nil
}
