package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// ProfilesCmd lists the configured seed profiles.
func ProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the configured personalities",
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles := seedProfiles(ServerConfig)
			if len(profiles) == 0 {
				fmt.Fprintln(os.Stderr, "No profiles configured.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPERSONALITY")
			for _, p := range profiles {
				fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Personality)
			}
			return w.Flush()
		},
	}
}
