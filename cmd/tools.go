package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/spf13/cobra"

	"github.com/ca-srg/toolbelt/internal/registry"
)

var (
	toolsApp  string
	toolsTags []string
	toolsJSON bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools of the enabled applications",
	Long: `
List every tool the MCP server would expose, with its annotations.

Examples:
  toolbelt tools                     # All enabled tools
  toolbelt tools --app slack         # Tools of one application
  toolbelt tools --tags important    # Tools carrying a tag
  toolbelt tools --json              # Names, descriptions and input schemas as JSON
`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsApp, "app", "", "Only list tools of this application")
	toolsCmd.Flags().StringSliceVar(&toolsTags, "tags", nil, "Only list tools carrying one of these tags")
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Print JSON instead of a table")
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := loadRegistry(context.Background(), cfg, log.New(os.Stderr, "[Registry] ", log.LstdFlags))
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	tools, err := selectApp(reg.Tools(), toolsApp)
	if err != nil {
		return err
	}
	tags := toolsTags
	if !cmd.Flags().Changed("tags") {
		tags = cfg.MCPToolTags
	}
	tools = selectTools(tools, tags)

	if toolsJSON {
		return printToolsJSON(tools)
	}
	printTools(tools)
	return nil
}

type toolInfo struct {
	Name        string             `json:"name"`
	App         string             `json:"app"`
	Description string             `json:"description"`
	Tags        []string           `json:"tags,omitempty"`
	ReadOnly    bool               `json:"read_only,omitempty"`
	Destructive bool               `json:"destructive,omitempty"`
	InputSchema *jsonschema.Schema `json:"input_schema,omitempty"`
}

func printToolsJSON(tools []registry.Tool) error {
	infos := make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		infos = append(infos, toolInfo{
			Name:        t.Name,
			App:         t.App,
			Description: t.Description,
			Tags:        t.Tags,
			ReadOnly:    t.Annotations.ReadOnly,
			Destructive: t.Annotations.Destructive,
			InputSchema: t.InputSchema,
		})
	}
	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tools: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printTools(tools []registry.Tool) {
	fmt.Printf("Found %d tools\n\n", len(tools))
	for _, t := range tools {
		var flags []string
		if t.Annotations.ReadOnly {
			flags = append(flags, "read-only")
		}
		if t.Annotations.Destructive {
			flags = append(flags, "destructive")
		}
		flags = append(flags, t.Tags...)

		fmt.Printf("%s", t.Name)
		if len(flags) > 0 {
			fmt.Printf(" [%s]", strings.Join(flags, ", "))
		}
		fmt.Printf("\n    %s\n", firstLine(t.Description))
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
