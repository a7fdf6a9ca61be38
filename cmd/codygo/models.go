package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codygo/codygo/internal/agent"
	"github.com/codygo/codygo/internal/events"
)

var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the chat models the agent offers",
	Long: `List the chat models available on the configured Sourcegraph instance.

By default, outputs a human-readable table. Use --json for machine-readable output.

Examples:
  codygo models
  codygo models --json`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config (run 'codygo setup'): %w", err)
	}

	bus := events.NewBus()
	defer bus.Close()

	ctx := cmd.Context()
	session, err := agent.Connect(ctx, connectOptions(cfg, bus))
	if err != nil {
		return fmt.Errorf("failed to connect to agent: %w", err)
	}
	defer session.Close()

	models, err := session.Models(ctx, "chat")
	if err != nil {
		return fmt.Errorf("failed to fetch models: %w", err)
	}

	if modelsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}
	return printModelTable(models, cfg.DefaultModel)
}

func printModelTable(models []agent.Model, configured string) error {
	if len(models) == 0 {
		fmt.Println("No chat models available.")
		return nil
	}

	green := color.New(color.FgGreen)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL ID\tNAME\tDEFAULT")
	for _, m := range models {
		marker := ""
		switch {
		case m.ID == configured:
			marker = green.Sprint("configured")
		case m.Default:
			marker = "server default"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Name, marker)
	}
	return w.Flush()
}
