package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newProjectsCmd creates the projects command
func newProjectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "projects",
		Aliases: []string{"ls"},
		Short:   "List stored projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			summaries, err := store.List()
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}

			if len(summaries) == 0 {
				fmt.Println("No projects found. Start one with: oi run \"Your goal\" --repo owner/name")
				return nil
			}

			styles := newStyles()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPHASE\tUPDATED\tGOAL")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.ID,
					styles.phaseStyle(s.Phase).Render(string(s.Phase)),
					s.UpdatedAt.Local().Format("2006-01-02 15:04"),
					truncate(s.Goal, 50),
				)
			}
			return w.Flush()
		},
	}
}
