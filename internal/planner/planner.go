// Package planner drives the planning phase: one remote session that
// explores the repository and decomposes the goal into a validated task plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oi-sh/oi/internal/graph"
	"github.com/oi-sh/oi/internal/plan"
	"github.com/oi-sh/oi/internal/project"
	"github.com/oi-sh/oi/internal/retry"
	"github.com/oi-sh/oi/internal/session"
	"github.com/oi-sh/oi/templates"
)

// ErrPlanInvalid indicates the generated plan failed graph validation.
var ErrPlanInvalid = errors.New("generated plan is invalid")

// Options configures a planning run.
type Options struct {
	Model        string
	GitUserName  string
	GitUserEmail string
	PollInterval time.Duration
	Sleep        session.Sleeper
	Logger       *slog.Logger
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Run executes the planning phase for a project and returns the validated
// plan. The project is persisted at every state transition, so a killed
// process resumes cleanly: a project that already holds a plan is a no-op.
func Run(ctx context.Context, client session.Client, store *project.Store, p *project.Project, opts Options) (*plan.Plan, error) {
	opts.defaults()
	logger := opts.Logger

	// Re-entering a completed phase on resume is a no-op.
	if p.Plan != nil && p.Phase != project.PhasePlanning {
		logger.Info("planning already complete, skipping", "project", p.ID)
		return p.Plan, nil
	}

	p.Phase = project.PhasePlanning
	p.Planning.Status = project.SubRunning
	if opts.Model != "" {
		p.Planning.Model = opts.Model
	}
	if err := store.Save(p); err != nil {
		return nil, err
	}

	fresh := p.Planning.SessionID == ""
	if fresh {
		sessionID, err := retry.DoValue(ctx, retryConfig(), func(int) (string, error) {
			return client.CreateSession(ctx, session.CreateRequest{
				RepoOwner:    p.Repo.Owner,
				RepoName:     p.Repo.Name,
				Title:        "plan: " + p.Goal,
				Model:        p.Planning.Model,
				GitUserName:  opts.GitUserName,
				GitUserEmail: opts.GitUserEmail,
			})
		})
		if err != nil {
			return nil, fail(store, p, fmt.Errorf("create planning session: %w", err))
		}
		p.Planning.SessionID = sessionID
		if err := store.Save(p); err != nil {
			return nil, err
		}
	} else {
		logger.Info("resuming planning session", "project", p.ID, "session", p.Planning.SessionID)
	}

	if fresh {
		prompt, err := templates.Render("plan", map[string]string{
			"Repo": p.Repo.String(),
			"Goal": p.Goal,
		})
		if err != nil {
			return nil, fail(store, p, err)
		}
		err = retry.Do(ctx, retryConfig(), func(int) error {
			return client.SendPrompt(ctx, p.Planning.SessionID, prompt, session.PromptOptions{
				Model:  p.Planning.Model,
				Source: "planner",
			})
		})
		if err != nil {
			return nil, fail(store, p, fmt.Errorf("send planning prompt: %w", err))
		}
	}

	logger.Info("planning", "project", p.ID, "session", p.Planning.SessionID)
	result, err := session.Watch(ctx, client, p.Planning.SessionID, opts.PollInterval, opts.Sleep, logger)
	if err != nil {
		return nil, err
	}
	if result.Failed {
		return nil, fail(store, p, fmt.Errorf("planning session failed: %s", result.FailMsg))
	}
	if strings.TrimSpace(result.Output) == "" {
		return nil, fail(store, p, errors.New("planning session completed with no output"))
	}

	generated, err := ParsePlan(result.Output)
	if err != nil {
		return nil, fail(store, p, err)
	}

	if validation := graph.Validate(generated.Tasks); !validation.Valid {
		return nil, fail(store, p, fmt.Errorf("%w: %s", ErrPlanInvalid, strings.Join(validation.Errors, "; ")))
	}
	for _, warning := range plan.ScopeWarnings(generated.Tasks) {
		logger.Warn("plan scope warning", "project", p.ID, "warning", warning)
	}

	p.Plan = generated
	p.Planning.Status = project.SubCompleted
	p.Phase = project.PhaseApproval
	if err := store.Save(p); err != nil {
		return nil, err
	}

	logger.Info("plan generated", "project", p.ID, "tasks", len(generated.Tasks))
	return generated, nil
}

// Revalidate checks a human-edited plan the same way a generated plan is
// checked. Called after every approval-stage edit.
func Revalidate(p *plan.Plan) graph.Result {
	if p == nil || len(p.Tasks) == 0 {
		return graph.Result{Valid: false, Errors: []string{"plan has no tasks"}}
	}
	return graph.Validate(p.Tasks)
}

func retryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.Abort = func(err error) bool { return !session.IsRetryable(err) }
	return cfg
}

// fail records the error on the planning sub-state, moves the project to the
// failed phase, and persists before surfacing the error.
func fail(store *project.Store, p *project.Project, err error) error {
	p.Planning.Status = project.SubFailed
	p.Planning.Error = err.Error()
	p.Phase = project.PhaseFailed
	if saveErr := store.Save(p); saveErr != nil {
		return errors.Join(err, saveErr)
	}
	return err
}
