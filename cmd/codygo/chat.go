package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codygo/codygo/internal/agent"
	"github.com/codygo/codygo/internal/events"
)

var (
	chatMessage           string
	chatShowContext       bool
	chatNoEnhancedContext bool
	chatContextFiles      []string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with Cody from the command line",
	Long: `Chat with Cody without the full-screen UI.

With -m a single message is sent and the answer printed.
Without -m an interactive REPL starts; type /help for commands.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send a single message and exit")
	chatCmd.Flags().BoolVar(&chatShowContext, "show-context", false, "Print the context files Cody used")
	chatCmd.Flags().BoolVar(&chatNoEnhancedContext, "no-enhanced-context", false, "Disable automatic codebase context")
	chatCmd.Flags().StringSliceVar(&chatContextFiles, "context-file", nil, "File to include as chat context (repeatable, path[:start-end])")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
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

	chatID, err := session.NewChat(ctx)
	if err != nil {
		return fmt.Errorf("failed to open chat: %w", err)
	}
	if cfg.DefaultModel != "" {
		if err := session.SetModel(ctx, chatID, cfg.DefaultModel); err != nil {
			color.Yellow("Warning: could not set model %s: %v", cfg.DefaultModel, err)
		}
	}

	opts := &agent.SubmitOptions{NoEnhancedContext: chatNoEnhancedContext}
	for _, f := range chatContextFiles {
		opts.ContextFiles = append(opts.ContextFiles, parseContextFile(f).SubmitItem())
	}

	if chatMessage != "" {
		return oneShot(ctx, session, chatID, chatMessage, opts)
	}
	return repl(ctx, session, chatID, opts)
}

func oneShot(ctx context.Context, session *agent.Session, chatID, text string, opts *agent.SubmitOptions) error {
	reply, err := ask(ctx, session, chatID, text, opts)
	if err != nil {
		return err
	}
	fmt.Println(reply.Text)
	if chatShowContext {
		printContextFiles(reply)
	}
	return nil
}

func repl(ctx context.Context, session *agent.Session, chatID string, opts *agent.SubmitOptions) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	fmt.Printf("codygo %s, chatting with Cody (%s)\n", version, session)
	fmt.Println("Type /help for commands, /exit or Ctrl+D to quit.")

	completer := readline.NewPrefixCompleter(
		readline.PcItem("/new"),
		readline.PcItem("/models"),
		readline.PcItem("/model"),
		readline.PcItem("/context"),
		readline.PcItem("/help"),
		readline.PcItem("/exit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            green.Sprint(">>> "),
		HistoryFile:       os.Getenv("HOME") + "/.codygo_history",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		AutoComplete:      completer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	showContext := chatShowContext

	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			fields := strings.Fields(input)
			switch fields[0] {
			case "/exit", "/quit":
				return nil
			case "/new":
				id, err := session.NewChat(ctx)
				if err != nil {
					color.Red("Error: %v", err)
					continue
				}
				chatID = id
				fmt.Println("Started a new chat.")
			case "/models":
				models, err := session.Models(ctx, "chat")
				if err != nil {
					color.Red("Error: %v", err)
					continue
				}
				for _, mdl := range models {
					marker := "  "
					if mdl.Default {
						marker = "* "
					}
					fmt.Printf("%s%s  %s\n", marker, cyan.Sprint(mdl.ID), mdl.Name)
				}
			case "/model":
				if len(fields) < 2 {
					fmt.Println("Usage: /model <model-id>")
					continue
				}
				if err := session.SetModel(ctx, chatID, fields[1]); err != nil {
					color.Red("Error: %v", err)
					continue
				}
				fmt.Printf("Model set to %s\n", fields[1])
			case "/context":
				showContext = !showContext
				fmt.Printf("Context display: %v\n", showContext)
			case "/help":
				fmt.Println("Commands:")
				fmt.Println("  /new            start a fresh chat")
				fmt.Println("  /models         list available chat models")
				fmt.Println("  /model <id>     switch the chat model")
				fmt.Println("  /context        toggle printing of context files")
				fmt.Println("  /exit           quit")
			default:
				fmt.Printf("Unknown command %s (try /help)\n", fields[0])
			}
			continue
		}

		reply, err := ask(ctx, session, chatID, input, opts)
		if err != nil {
			color.Red("Error: %v", err)
			continue
		}
		fmt.Println(reply.Text)
		if showContext {
			printContextFiles(reply)
		}
		fmt.Println()
	}
}

func ask(ctx context.Context, session *agent.Session, chatID, text string, opts *agent.SubmitOptions) (*agent.ChatReply, error) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	return session.SubmitMessage(ctx, chatID, text, opts)
}

func printContextFiles(reply *agent.ChatReply) {
	if len(reply.ContextFiles) == 0 {
		return
	}
	cyan := color.New(color.FgCyan)
	fmt.Println("Context files:")
	for _, cf := range reply.ContextFiles {
		fmt.Printf("  %s\n", cyan.Sprint(cf.String()))
	}
}

// parseContextFile turns "path" or "path:start-end" into a context
// file item for chat/submitMessage.
func parseContextFile(spec string) agent.ContextFile {
	cf := agent.ContextFile{Path: spec}
	idx := strings.LastIndex(spec, ":")
	if idx <= 0 {
		return cf
	}
	var start, end int
	if _, err := fmt.Sscanf(spec[idx+1:], "%d-%d", &start, &end); err == nil {
		cf.Path = spec[:idx]
		cf.StartLine = start
		cf.EndLine = end
	}
	return cf
}
