package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dunamismax/pixelframe/internal/theme"
)

func newPresetsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List the poster color presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := theme.Presets()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(presets)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tNAME\tBACKGROUND\tTEXT")
			for i, p := range presets {
				fmt.Fprintf(tw, "%d\t%s\t%s -> %s\t%s\n", i, p.Name, p.Colors.Background1, p.Colors.Background2, p.Colors.Text)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print presets as JSON")
	return cmd
}
