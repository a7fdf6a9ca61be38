package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codygo/codygo/internal/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively write the codygo configuration",
	Long: `Walk through the settings codygo needs and save them to the config file.

Existing values are shown as defaults, so re-running setup only changes
what you edit. Values can also come from SRC_ACCESS_TOKEN, SRC_ENDPOINT
and a .env file in the working directory.`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	path := flagConfigPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	cfg, err := config.LoadFrom(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Workspace = wd
		}
	}

	useTCP := cfg.UseTCP
	debug := cfg.Debug

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Agent binary").
				Description("Path to the cody-agent executable").
				Value(&cfg.BinaryPath).
				Validate(huh.ValidateNotEmpty()),

			huh.NewInput().
				Title("Sourcegraph endpoint").
				Description("Instance URL, e.g. https://sourcegraph.com").
				Value(&cfg.ServerEndpoint).
				Validate(huh.ValidateNotEmpty()),

			huh.NewInput().
				Title("Access token").
				Description("Sourcegraph access token (sgp_...)").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.AccessToken).
				Validate(huh.ValidateNotEmpty()),

			huh.NewInput().
				Title("Workspace root").
				Description("Directory Cody uses for codebase context").
				Value(&cfg.Workspace),

			huh.NewInput().
				Title("Default model").
				Description("Model ID to select for new chats (blank for server default)").
				Value(&cfg.DefaultModel),

			huh.NewConfirm().
				Title("Connect over TCP?").
				Description("Attach to an agent already listening on localhost instead of spawning one").
				Value(&useTCP),

			huh.NewConfirm().
				Title("Enable debug logging?").
				Value(&debug),
		),
	)

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return err
	}

	cfg.UseTCP = useTCP
	cfg.Debug = debug
	cfg.ServerEndpoint = strings.TrimRight(cfg.ServerEndpoint, "/")

	if err := config.SaveTo(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	color.Green("Configuration saved to %s", path)
	return nil
}
