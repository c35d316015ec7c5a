package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oi-sh/oi/internal/lock"
	"github.com/oi-sh/oi/internal/orchestrator"
	"github.com/oi-sh/oi/internal/project"
)

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	var (
		repoFlag    string
		projectID   string
		model       string
		maxParallel int
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "run [goal]",
		Short: "Plan, execute, and integrate a goal",
		Long: `Run the full pipeline for a goal: generate a task plan, wait for
approval, execute the tasks with bounded parallelism, and integrate the
resulting branches into a pull request.

Example:
  oi run "Add rate limiting to the API" --repo acme/api
  oi run --project 2f1c...                              Resume a project`,
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

			var p *project.Project
			switch {
			case projectID != "":
				p, err = store.Load(projectID)
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("project %s not found", projectID)
				}
			case len(args) == 1:
				if repoFlag == "" {
					return fmt.Errorf("--repo is required for a new project")
				}
				repo, err := parseRepo(repoFlag)
				if err != nil {
					return err
				}
				p, err = store.Create(args[0], repo, model)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("provide a goal or --project to resume")
			}

			guard, err := newRunGuard()
			if err != nil {
				return err
			}
			if err := guard.Acquire(p.ID); err != nil {
				return err
			}
			defer func() {
				if err := guard.Release(p.ID); err != nil {
					fmt.Fprintln(os.Stderr, "release project lock:", err)
				}
			}()

			// Keep the lease live for the duration of the run.
			stopHeartbeat := make(chan struct{})
			defer close(stopHeartbeat)
			go func() {
				ticker := time.NewTicker(lock.DefaultTTL / 3)
				defer ticker.Stop()
				for {
					select {
					case <-stopHeartbeat:
						return
					case <-ticker.C:
						if err := guard.Heartbeat(p.ID); err != nil {
							fmt.Fprintln(os.Stderr, "project lock heartbeat:", err)
						}
					}
				}
			}()

			styles := newStyles()
			opts := []orchestrator.Option{}
			if !autoApprove {
				opts = append(opts, orchestrator.WithApprover(terminalApprover(styles)))
			}
			orc := orchestrator.New(client, store, orchestratorConfig(cfg, model, maxParallel), opts...)

			result, err := orc.Run(cmd.Context(), p)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"project": p.ID,
					"branch":  result.BranchName,
					"pr_url":  result.PRURL,
					"tasks":   p.CountByStatus(),
				})
			}

			counts := p.CountByStatus()
			fmt.Println(styles.Success.Render("Done."), "branch:", result.BranchName)
			if result.PRURL != "" {
				fmt.Println("Pull request:", result.PRURL)
			}
			if n := counts[project.TaskFailed] + counts[project.TaskSkipped]; n > 0 {
				fmt.Println(styles.Failure.Render(fmt.Sprintf("%d task(s) did not complete; see oi status %s", n, p.ID)))
				return ErrPartialFailure
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repoFlag, "repo", "", "target repository as owner/name")
	cmd.Flags().StringVar(&projectID, "project", "", "resume an existing project by id")
	cmd.Flags().StringVar(&model, "model", "", "model override for all sessions")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "max concurrent task sessions")
	cmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "approve the generated plan without prompting")
	return cmd
}
