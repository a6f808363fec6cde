package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/metrics"
	"github.com/ca-srg/toolbelt/internal/registry"
)

var (
	callArgsFile string
	callTimeout  time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call <app__tool> [json-arguments]",
	Short: "Call one tool directly and print its JSON result",
	Long: `
Call a tool without an MCP client. Arguments are a JSON object given inline,
read from a file, or omitted for tools without parameters.

Examples:
  toolbelt call zenquotes__get_random_quote
  toolbelt call slack__send_message '{"channel":"#general","text":"hello"}'
  toolbelt call airtable__list_records --args-file query.json
`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callArgsFile, "args-file", "", "Read the JSON arguments from this file")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 2*time.Minute, "Call timeout")
}

func callArguments(args []string) (json.RawMessage, error) {
	if callArgsFile != "" {
		if len(args) > 1 {
			return nil, fmt.Errorf("give arguments inline or with --args-file, not both")
		}
		data, err := os.ReadFile(callArgsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read arguments: %w", err)
		}
		args = append(args, string(data))
	}
	if len(args) < 2 {
		return json.RawMessage("{}"), nil
	}

	raw := json.RawMessage(args[1])
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return raw, nil
}

func runCall(cmd *cobra.Command, args []string) error {
	name := args[0]
	if _, _, ok := registry.SplitQualifiedName(name); !ok {
		return fmt.Errorf("tool name must look like <app>%s<tool>, got %q", registry.ToolSeparator, name)
	}
	raw, err := callArguments(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	metrics.Configure(cfg.StatsDBPath, cfg.StatsDisabled)
	defer func() { _ = metrics.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	reg, err := loadRegistry(ctx, cfg, log.New(os.Stderr, "[Registry] ", log.LstdFlags))
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	tool, ok := reg.Tool(name)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrToolNotFound, name)
	}

	result, err := reg.Call(ctx, name, raw)
	metrics.RecordInvocation(tool.App, tool.BaseName, err != nil)
	if err != nil {
		return describeCallError(err)
	}
	return printResult(result)
}

func describeCallError(err error) error {
	kind := application.KindOf(err)
	if status := application.StatusCode(err); status != 0 {
		return fmt.Errorf("%s error (status %d): %w", kind, status, err)
	}
	var verr *application.ValidationError
	if errors.As(err, &verr) {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return fmt.Errorf("%s error: %w", kind, err)
}

func printResult(result interface{}) error {
	if s, ok := result.(string); ok {
		fmt.Println(s)
		return nil
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
