package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oi-sh/oi/internal/graph"
	"github.com/oi-sh/oi/internal/project"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id>",
		Short: "Show a project's phase and task states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			p, err := store.Load(args[0])
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("project %s not found", args[0])
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}

			styles := newStyles()
			fmt.Println(styles.Header.Render(p.Goal))
			fmt.Printf("Project %s on %s\n", p.ID, p.Repo)
			fmt.Printf("Phase: %s\n", styles.phaseStyle(p.Phase).Render(string(p.Phase)))
			if p.Planning.Error != "" {
				fmt.Println(styles.Failure.Render("Planning error: " + p.Planning.Error))
			}
			if p.Integration.PRURL != "" {
				fmt.Println("Pull request:", p.Integration.PRURL)
			}
			if p.Integration.Error != "" {
				fmt.Println(styles.Failure.Render("Integration error: " + p.Integration.Error))
			}
			if p.Plan == nil {
				return nil
			}

			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WAVE\tTASK\tSTATUS\tBRANCH\tTITLE")
			for i, wave := range graph.Waves(p.Plan.Tasks) {
				for _, t := range wave {
					status, branch := project.TaskPending, ""
					if exec, ok := p.Tasks[t.ID]; ok {
						status = exec.Status
						branch = exec.BranchName
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
						i+1,
						t.ID,
						styles.taskStyle(status).Render(string(status)),
						branch,
						truncate(t.Title, 40),
					)
				}
			}
			return w.Flush()
		},
	}
}
