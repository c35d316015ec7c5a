// Package cli implements the oi command-line interface.
// This file contains shared helper functions used across multiple commands.
package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/oi-sh/oi/internal/config"
	"github.com/oi-sh/oi/internal/lock"
	"github.com/oi-sh/oi/internal/orchestrator"
	"github.com/oi-sh/oi/internal/plan"
	"github.com/oi-sh/oi/internal/planner"
	"github.com/oi-sh/oi/internal/project"
	"github.com/oi-sh/oi/internal/session"
)

// parseRepo splits an owner/name argument.
func parseRepo(s string) (project.Repo, error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" {
		return project.Repo{}, fmt.Errorf("repo must be owner/name, got %q", s)
	}
	return project.Repo{Owner: owner, Name: name}, nil
}

// openStore opens the default project store.
func openStore() (*project.Store, error) {
	dir, err := project.DefaultDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}
	return project.NewStore(dir), nil
}

// newRunGuard creates the cross-process project lock guard.
func newRunGuard() (*lock.Guard, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return lock.NewGuard(filepath.Join(home, config.OiDir, "locks"), ""), nil
}

// buildClient creates the control-plane client from config.
func buildClient(cfg *config.Config) (session.Client, error) {
	token := cfg.Token()
	if token == "" {
		return nil, fmt.Errorf("no API token: set %s", cfg.TokenEnv)
	}
	return session.NewHTTPClient(cfg.BaseURL, token), nil
}

// orchestratorConfig maps the loaded config onto the orchestrator, applying
// command-level flag overrides where set.
func orchestratorConfig(cfg *config.Config, model string, maxParallel int) orchestrator.Config {
	oc := orchestrator.Config{
		Model:        cfg.Model,
		PlannerModel: cfg.PlannerModel,
		MaxParallel:  cfg.MaxParallel,
		PollInterval: cfg.PollInterval,
		GitUserName:  cfg.GitUserName,
		GitUserEmail: cfg.GitUserEmail,
	}
	if model != "" {
		oc.Model = model
		oc.PlannerModel = model
	}
	if maxParallel > 0 {
		oc.MaxParallel = maxParallel
	}
	return oc
}

// terminalApprover prompts on the terminal for plan approval. 'e' opens the
// plan JSON in $EDITOR; the edited plan is re-validated and re-presented
// until it is approved, rejected, or valid.
func terminalApprover(styles Styles) orchestrator.Approver {
	return func(p *plan.Plan) (*plan.Plan, bool, error) {
		reader := bufio.NewReader(os.Stdin)
		current := p
		for {
			printPlan(current, styles)
			fmt.Print("Approve this plan? [y/N/e(dit)] ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return nil, false, fmt.Errorf("read approval: %w", err)
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return current, true, nil
			case "e", "edit":
				edited, err := editPlan(current)
				if err != nil {
					fmt.Fprintln(os.Stderr, styles.Failure.Render("edit failed: "+err.Error()))
					continue
				}
				if result := planner.Revalidate(edited); !result.Valid {
					for _, msg := range result.Errors {
						fmt.Fprintln(os.Stderr, styles.Failure.Render("invalid: "+msg))
					}
					continue
				}
				current = edited
			default:
				return nil, false, nil
			}
		}
	}
}

// editPlan round-trips the plan JSON through $EDITOR.
func editPlan(p *plan.Plan) (*plan.Plan, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		return nil, fmt.Errorf("$EDITOR is not set")
	}

	f, err := os.CreateTemp("", "oi-plan-*.json")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	defer os.Remove(path)

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w", editor, err)
	}

	edited, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var result plan.Plan
	if err := json.Unmarshal(edited, &result); err != nil {
		return nil, fmt.Errorf("parse edited plan: %w", err)
	}
	return &result, nil
}

// printPlan renders the plan summary and task list.
func printPlan(p *plan.Plan, styles Styles) {
	fmt.Println(styles.Header.Render("Plan: " + p.Summary))
	for _, t := range p.Tasks {
		deps := ""
		if len(t.DependsOn) > 0 {
			deps = styles.Subtle.Render(" (after " + strings.Join(t.DependsOn, ", ") + ")")
		}
		fmt.Printf("  %s  %s%s\n", styles.Active.Render(t.ID), t.Title, deps)
	}
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
