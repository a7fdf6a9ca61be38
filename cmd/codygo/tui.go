package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/codygo/codygo/internal/agent"
	"github.com/codygo/codygo/internal/events"
	"github.com/codygo/codygo/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Run the interactive chat UI",
	Long: `Run codygo in interactive TUI mode for chatting with Cody.

Use this for:
  - Multi-turn conversations with enhanced codebase context
  - Watching agent logs and debug output (ctrl+l)
  - Starting fresh chats without restarting the agent (ctrl+n)`,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	// Set up debug logging to file if enabled
	if flagDebug {
		logFile, err := os.OpenFile("/tmp/codygo-debug.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err == nil {
			log.SetOutput(logFile)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			defer logFile.Close()
			log.Println("=== codygo TUI starting (debug mode) ===")
		}
	} else {
		// Discard logs when not in debug mode
		log.SetOutput(io.Discard)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config (run 'codygo setup'): %w", err)
	}

	// Create event bus
	bus := events.NewBus()
	defer bus.Close()

	// Log all events to debug file
	bus.Subscribe(func(e events.Event) {
		switch evt := e.(type) {
		case events.StateChangedEvent:
			log.Printf("EVENT StateChanged: old=%s new=%s", evt.OldState, evt.NewState)
		case events.AgentLogEvent:
			log.Printf("EVENT AgentLog: %s", evt.Line)
		case events.DebugMessageEvent:
			log.Printf("EVENT Debug: channel=%s msg=%s", evt.Channel, evt.Message)
		case events.ErrorEvent:
			log.Printf("EVENT Error: msg=%s err=%v", evt.Message, evt.Err)
		}
	})

	// Spawn the agent and run the handshake
	session, err := agent.Connect(cmd.Context(), connectOptions(cfg, bus))
	if err != nil {
		return fmt.Errorf("failed to connect to agent: %w", err)
	}
	log.Printf("Connected to agent: %s", session)

	model := tui.NewModel(session, bus)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Run Bubble Tea program
	p := tea.NewProgram(model, tea.WithAltScreen())

	// Handle signals in background
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, initiating graceful shutdown", sig)
		p.Quit()
	}()

	_, runErr := p.Run()

	// Stop signal handling
	signal.Stop(sigCh)

	// Shut the agent down cleanly even if the UI errored
	log.Println("Closing agent session...")
	if err := session.Close(); err != nil {
		log.Printf("session close: %v", err)
	}

	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	log.Println("=== codygo TUI exiting ===")
	return nil
}
