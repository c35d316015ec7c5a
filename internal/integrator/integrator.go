// Package integrator drives the integration phase: one remote session that
// merges the completed task branches, fixes the build, and opens a pull
// request.
package integrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oi-sh/oi/internal/graph"
	"github.com/oi-sh/oi/internal/project"
	"github.com/oi-sh/oi/internal/retry"
	"github.com/oi-sh/oi/internal/session"
	"github.com/oi-sh/oi/templates"
)

// ErrNoCompletedTasks indicates there is nothing to integrate.
var ErrNoCompletedTasks = errors.New("no completed tasks to integrate")

// Options configures an integration run.
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

// Result is the outcome of integration.
type Result struct {
	BranchName string
	PRURL      string
}

// Run integrates the project's completed work. With a single completed task
// there is nothing to merge, so its branch becomes the result without any
// remote session; with none, integration fails fast.
func Run(ctx context.Context, client session.Client, store *project.Store, p *project.Project, opts Options) (*Result, error) {
	opts.defaults()
	logger := opts.Logger

	// Re-entering after completion is a no-op.
	if p.Phase == project.PhaseCompleted && p.Integration.Status == project.SubCompleted {
		return &Result{BranchName: p.Integration.MergedBranch, PRURL: p.Integration.PRURL}, nil
	}

	completed := completedInDependencyOrder(p)
	if len(completed) == 0 {
		return nil, fail(store, p, ErrNoCompletedTasks)
	}

	p.Phase = project.PhaseIntegrating
	p.Integration.Status = project.SubRunning
	if err := store.Save(p); err != nil {
		return nil, err
	}

	if len(completed) == 1 {
		// Single branch: it already is the merged result.
		branch := p.Tasks[completed[0]].BranchName
		logger.Info("single completed task, skipping integration session", "project", p.ID, "branch", branch)
		return finish(store, p, &Result{BranchName: branch}, logger)
	}

	if p.Integration.SessionID == "" {
		sessionID, err := retry.DoValue(ctx, retryConfig(), func(int) (string, error) {
			return client.CreateSession(ctx, session.CreateRequest{
				RepoOwner:    p.Repo.Owner,
				RepoName:     p.Repo.Name,
				Title:        "integrate: " + p.Goal,
				Model:        opts.Model,
				GitUserName:  opts.GitUserName,
				GitUserEmail: opts.GitUserEmail,
			})
		})
		if err != nil {
			return nil, fail(store, p, fmt.Errorf("create integration session: %w", err))
		}
		p.Integration.SessionID = sessionID
		if err := store.Save(p); err != nil {
			return nil, err
		}

		prompt, err := integrationPrompt(p, completed)
		if err != nil {
			return nil, fail(store, p, err)
		}
		err = retry.Do(ctx, retryConfig(), func(int) error {
			return client.SendPrompt(ctx, sessionID, prompt, session.PromptOptions{
				Model:  opts.Model,
				Source: "integrator",
			})
		})
		if err != nil {
			return nil, fail(store, p, fmt.Errorf("send integration prompt: %w", err))
		}
	} else {
		logger.Info("resuming integration session", "project", p.ID, "session", p.Integration.SessionID)
	}

	logger.Info("integrating", "project", p.ID, "session", p.Integration.SessionID, "branches", len(completed))
	watched, err := session.Watch(ctx, client, p.Integration.SessionID, opts.PollInterval, opts.Sleep, logger)
	if err != nil {
		return nil, err
	}
	if watched.Failed {
		return nil, fail(store, p, fmt.Errorf("integration session failed: %s", watched.FailMsg))
	}

	// The merge already happened; a failed read must not record the project
	// completed with the branch or PR lost. Surface the error and leave the
	// phase running so a re-run re-polls the session and reads again.
	sess, err := retry.DoValue(ctx, retryConfig(), func(int) (*session.Session, error) {
		return client.GetSession(ctx, p.Integration.SessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("read integration session: %w", err)
	}
	artifacts, err := retry.DoValue(ctx, retryConfig(), func(int) ([]session.Artifact, error) {
		return client.GetArtifacts(ctx, p.Integration.SessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("read integration artifacts: %w", err)
	}

	result := &Result{BranchName: sess.BranchName}
	for _, artifact := range artifacts {
		if artifact.Type == session.ArtifactTypePullRequest && artifact.URL != "" {
			result.PRURL = artifact.URL
			break
		}
	}

	return finish(store, p, result, logger)
}

// completedInDependencyOrder returns the completed task ids ordered so that
// every branch merges after the branches it built on.
func completedInDependencyOrder(p *project.Project) []string {
	if p.Plan == nil {
		return nil
	}
	var ids []string
	for _, t := range graph.TopoSort(p.Plan.Tasks) {
		if exec, ok := p.Tasks[t.ID]; ok && exec.Status == project.TaskCompleted {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func integrationPrompt(p *project.Project, completed []string) (string, error) {
	type promptBranch struct {
		Branch string
		Title  string
	}
	branches := make([]promptBranch, 0, len(completed))
	for _, id := range completed {
		title := id
		if node := p.Plan.Task(id); node != nil {
			title = node.Title
		}
		branches = append(branches, promptBranch{Branch: p.Tasks[id].BranchName, Title: title})
	}
	return templates.Render("integrate", map[string]any{
		"Repo":     p.Repo.String(),
		"Goal":     p.Goal,
		"Branches": branches,
	})
}

func retryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.Abort = func(err error) bool { return !session.IsRetryable(err) }
	return cfg
}

func finish(store *project.Store, p *project.Project, result *Result, logger *slog.Logger) (*Result, error) {
	p.Integration.Status = project.SubCompleted
	p.Integration.MergedBranch = result.BranchName
	p.Integration.PRURL = result.PRURL
	p.Phase = project.PhaseCompleted
	if err := store.Save(p); err != nil {
		return nil, err
	}
	logger.Info("integration complete", "project", p.ID, "branch", result.BranchName, "pr", result.PRURL)
	return result, nil
}

func fail(store *project.Store, p *project.Project, err error) error {
	p.Integration.Status = project.SubFailed
	p.Integration.Error = err.Error()
	p.Phase = project.PhaseFailed
	if saveErr := store.Save(p); saveErr != nil {
		return errors.Join(err, saveErr)
	}
	return err
}
