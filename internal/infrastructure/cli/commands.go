package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/merchat/internal/app"
	"github.com/doeshing/merchat/internal/domain"
)

func newChatCommand(container *app.Container) *cobra.Command {
	var (
		sessionID string
		mode      string
		stream    bool
		debug     bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message, or start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			if len(args) > 0 {
				return runTurn(cmd.Context(), container, out, turnOptions{
					SessionID: sessionID,
					Message:   joinArgs(args),
					Mode:      domain.ParseMode(mode),
					Stream:    stream,
					Debug:     debug,
					Timeout:   timeout,
				})
			}

			fmt.Fprintf(out, "merchat interactive session %q (exit to quit)\n", sessionID)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}
				if err := runTurn(cmd.Context(), container, out, turnOptions{
					SessionID: sessionID,
					Message:   line,
					Mode:      domain.ParseMode(mode),
					Stream:    stream,
					Debug:     debug,
					Timeout:   timeout,
				}); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
				// The override applies to the first turn only; after that the
				// detector and the session's sticky mode take over.
				mode = ""
			}
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session identifier (random when empty)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Force conversation mode (b2c|b2b)")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream reply chunks as they arrive")
	cmd.Flags().BoolVar(&debug, "debug", false, "Show per-turn diagnostics")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Override turn timeout (0 uses configured budgets)")

	return cmd
}

type turnOptions struct {
	SessionID string
	Message   string
	Mode      domain.Mode
	Stream    bool
	Debug     bool
	Timeout   time.Duration
}

func runTurn(ctx context.Context, container *app.Container, out io.Writer, opts turnOptions) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var sink domain.EventSink = domain.NopSink
	if opts.Stream {
		sink = NewEventPrinter(out, opts.Debug)
	}

	resp, err := container.Engine.Run(domain.TurnRequest{
		Context:      ctx,
		SessionID:    opts.SessionID,
		Message:      opts.Message,
		ModeOverride: opts.Mode,
		Stream:       opts.Stream,
		Debug:        opts.Debug,
	}, sink)
	if err != nil {
		return err
	}
	RenderTurn(out, resp, opts.Stream, opts.Debug)
	return nil
}

func newActionsCommand(container *app.Container) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List the registered action catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if mode != "" {
				parsed := domain.ParseMode(mode)
				if parsed == domain.ModeUnknown {
					return fmt.Errorf("unknown mode %q", mode)
				}
				defs := container.Registry.Available(parsed, container.Backend.Capabilities())
				renderActions(out, defs)
				return nil
			}
			var defs []domain.ActionDefinition
			for _, name := range container.Registry.Names() {
				if def, ok := container.Registry.Get(name); ok {
					defs = append(defs, def)
				}
			}
			renderActions(out, defs)
			fmt.Fprintf(out, "catalog version %d\n", container.Registry.Version())
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Only show actions available in this mode (b2c|b2b)")
	return cmd
}

func newDoctorCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose environment setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := container.DoctorService.Run(cmd.Context())
			RenderDoctorReport(cmd.OutOrStdout(), report)
			if err != nil {
				return err
			}
			if !report.Healthy() {
				return fmt.Errorf("one or more checks failed")
			}
			return nil
		},
	}
}

func newCacheCommand(container *app.Container) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the action result cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache tier hit counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats := container.Invoker.CacheStats()
			fmt.Fprintf(cmd.OutOrStdout(), "l1 hits: %d\nl2 hits: %d\nmisses: %d\npromotions: %d\n",
				stats.L1Hits, stats.L2Hits, stats.Misses, stats.Promotions)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached action result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := container.Invoker.ClearCache(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	}

	cacheCmd.AddCommand(statsCmd, clearCmd)
	return cacheCmd
}

func newSessionsCommand(container *app.Container) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect live conversation sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions live in this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := container.Store.Sessions()
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no live sessions")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lease, err := container.Store.Acquire(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state := lease.State()
			lease.Release()
			RenderState(cmd.OutOrStdout(), state)
			return nil
		},
	}

	dropCmd := &cobra.Command{
		Use:   "drop <session-id>",
		Short: "Forget a session and delete its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := container.Store.Drop(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s dropped\n", args[0])
			return nil
		},
	}

	sessionsCmd.AddCommand(listCmd, showCmd, dropCmd)
	return sessionsCmd
}

func newConfigCommand(container *app.Container) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect merchat configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := container.ConfigLoader.Load(cmd.Context())
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), container.ConfigLoader.Path())
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := container.ConfigLoader.Load(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
			return nil
		},
	}

	editCmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit configuration in $EDITOR",
		RunE: func(cmd *cobra.Command, args []string) error {
			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = "vi"
			}
			return runEditor(editor, container.ConfigLoader.Path())
		},
	}

	configCmd.AddCommand(showCmd, pathCmd, validateCmd, editCmd)
	return configCmd
}

func runEditor(editor, path string) error {
	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
