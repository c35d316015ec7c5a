package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oi-sh/oi/internal/orchestrator"
)

// newPlanCmd creates the plan command
func newPlanCmd() *cobra.Command {
	var (
		repoFlag string
		model    string
	)

	cmd := &cobra.Command{
		Use:   "plan <goal>",
		Short: "Generate a task plan without executing it",
		Long: `Run the planning phase only. The project is stored awaiting approval;
continue it later with: oi run --project <id>

Example:
  oi plan "Add rate limiting to the API" --repo acme/api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := buildClient(cfg)
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			repo, err := parseRepo(repoFlag)
			if err != nil {
				return err
			}

			p, err := store.Create(args[0], repo, model)
			if err != nil {
				return err
			}

			orc := orchestrator.New(client, store, orchestratorConfig(cfg, model, 0))
			generated, err := orc.Plan(cmd.Context(), p)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"project": p.ID, "plan": generated})
			}

			styles := newStyles()
			printPlan(generated, styles)
			fmt.Println(styles.Subtle.Render("Continue with: oi run --project " + p.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&repoFlag, "repo", "", "target repository as owner/name")
	cmd.Flags().StringVar(&model, "model", "", "model override for the planning session")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}
