package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codygo/codygo/internal/agent"
	"github.com/codygo/codygo/internal/config"
	"github.com/codygo/codygo/internal/events"
)

// Version information (set at build time via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagConfigPath string
	flagBinary     string
	flagToken      string
	flagEndpoint   string
	flagWorkspace  string
	flagTCP        bool
	flagDebug      bool
)

var rootCmd = &cobra.Command{
	Use:   "codygo",
	Short: "Chat with Cody from your terminal",
	Long: `codygo drives the Sourcegraph Cody agent over JSON-RPC.

Running without a subcommand starts the interactive TUI.
Use 'codygo chat -m "question"' for a one-shot answer, or
'codygo setup' to write the initial configuration.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to TUI when no subcommand is given
		return runTUI(cmd, args)
	},
}

func init() {
	// Disable automatic completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Suppress errors from being printed twice
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", "", "Path to config file (default: ~/.config/codygo/config.json)")
	rootCmd.PersistentFlags().StringVar(&flagBinary, "binary", "", "Path to the cody agent binary")
	rootCmd.PersistentFlags().StringVar(&flagToken, "access-token", "", "Sourcegraph access token")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "", "Sourcegraph instance URL")
	rootCmd.PersistentFlags().StringVar(&flagWorkspace, "workspace", "", "Workspace root sent to the agent")
	rootCmd.PersistentFlags().BoolVar(&flagTCP, "tcp", false, "Connect to the agent over localhost TCP")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges the config file, environment and command flags.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flagConfigPath != "" {
		cfg, err = config.LoadFrom(flagConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if flagBinary != "" {
		cfg.BinaryPath = flagBinary
	}
	if flagToken != "" {
		cfg.AccessToken = flagToken
	}
	if flagEndpoint != "" {
		cfg.ServerEndpoint = flagEndpoint
	}
	if flagWorkspace != "" {
		cfg.Workspace = flagWorkspace
	}
	if flagTCP {
		cfg.UseTCP = true
	}
	if flagDebug {
		cfg.Debug = true
	}
	if cfg.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Workspace = wd
		}
	}
	return cfg, nil
}

// connectOptions maps a config onto agent connect options.
func connectOptions(cfg *config.Config, bus *events.Bus) agent.Options {
	return agent.Options{
		BinaryPath:      cfg.BinaryPath,
		AccessToken:     cfg.AccessToken,
		ServerEndpoint:  cfg.ServerEndpoint,
		WorkspaceRoot:   cfg.Workspace,
		UseTCP:          cfg.UseTCP,
		Host:            cfg.Host,
		Port:            cfg.Port,
		RequestTimeout:  cfg.RequestTimeout.Duration(),
		Debug:           cfg.Debug,
		AnonymousUserID: cfg.AnonymousUserID,
		Bus:             bus,
	}
}

// submitTimeout bounds a single chat exchange from the CLI. LLM
// round-trips run far longer than ordinary RPC calls.
const submitTimeout = 5 * time.Minute
