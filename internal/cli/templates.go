package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dunamismax/pixelframe/internal/cover"
)

func newTemplatesCmd() *cobra.Command {
	var opts renderOpts

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List the cover overlays a template source offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := templateSource(opts)
			if src == nil {
				return errors.New("one of --templates or --templates-url is required")
			}

			logger := loggerFromContext(cmd.Context())
			names, err := cover.New(cover.Overlay, src, nil).RefreshTemplates(cmd.Context())
			if err != nil {
				return err
			}
			logger.Debug("manifest loaded", "count", len(names))
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.templateDir, "templates", "", "directory holding cover.json and profile/ overlays")
	cmd.Flags().StringVar(&opts.templateURL, "templates-url", "", "base URL serving cover.json and profile/ overlays")
	return cmd
}
