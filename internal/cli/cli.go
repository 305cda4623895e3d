// Package cli implements framectl, which renders cover and poster scenes
// described in TOML files without running the API.
package cli

import (
	"context"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// RootCommand builds the command tree. The logger for each run is attached
// to the command context in PersistentPreRun.
func RootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "framectl",
		Short:        "Render profile covers and before/after posters from scene files",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := charmlog.InfoLevel
			if verbose {
				level = charmlog.DebugLevel
			}
			cmd.SetContext(withLogger(cmd.Context(), newLogger(os.Stderr, level)))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newRenderCmd())
	root.AddCommand(newPresetsCmd())
	root.AddCommand(newTemplatesCmd())
	return root
}

func Execute(ctx context.Context) error {
	return RootCommand().ExecuteContext(ctx)
}
