// Package cli wires the cobra command tree over the turn engine.
package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/merchat/internal/app"
)

// Options holds CLI-level configuration.
type Options struct {
	Verbose    bool
	ConfigPath string
	Model      string
}

// NewRootCmd wires the cobra root command.
func NewRootCmd(ctx context.Context, opts Options) (*cobra.Command, error) {
	container, err := app.BuildContainer(ctx, app.Options{
		Verbose:       opts.Verbose,
		ConfigPath:    opts.ConfigPath,
		ModelOverride: opts.Model,
	})
	if err != nil {
		return nil, err
	}

	chatCmd := newChatCommand(container)

	root := &cobra.Command{
		Use:   "merchat [message]",
		Short: "merchat - conversational commerce assistant",
		Long:  "merchat answers shopping questions, checks stock and prices, and manages carts over a guarded tool-calling engine.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			chatCmd.SetArgs(args)
			return chatCmd.ExecuteContext(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			container.Close()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(chatCmd)
	root.AddCommand(newActionsCommand(container))
	root.AddCommand(newDoctorCommand(container))
	root.AddCommand(newCacheCommand(container))
	root.AddCommand(newSessionsCommand(container))
	root.AddCommand(newConfigCommand(container))
	return root, nil
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
