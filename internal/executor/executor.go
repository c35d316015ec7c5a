// Package executor runs the execution phase: a bounded-parallel, DAG-aware
// loop that drives one remote worker session per ready task to completion.
//
// The loop is single-threaded. "Parallelism" is how many remote sessions are
// live at once, capped by MaxParallel; the core itself issues no concurrent
// operations and suspends only at the poll-interval sleep.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oi-sh/oi/internal/plan"
	"github.com/oi-sh/oi/internal/project"
	"github.com/oi-sh/oi/internal/session"
)

// ErrNoTasksCompleted indicates every task failed or was skipped.
var ErrNoTasksCompleted = errors.New("no tasks completed")

// SummaryLength is how many trailing characters of a worker's output are
// kept as its task summary.
const SummaryLength = 500

// Options configures an execution run.
type Options struct {
	MaxParallel  int
	Model        string
	GitUserName  string
	GitUserEmail string
	PollInterval time.Duration
	Sleep        session.Sleeper
	Now          func() time.Time
	Logger       *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxParallel < 1 {
		o.MaxParallel = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.Sleep == nil {
		o.Sleep = session.SleepContext
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Run executes the project's plan. Per-task failures never abort the run;
// they cascade to dependents as skips once the run goes quiescent. Run
// returns ErrNoTasksCompleted only when nothing completed at all.
func Run(ctx context.Context, client session.Client, store *project.Store, p *project.Project, opts Options) error {
	opts.defaults()
	logger := opts.Logger

	if p.Plan == nil || len(p.Plan.Tasks) == 0 {
		return errors.New("project has no plan to execute")
	}

	p.Phase = project.PhaseExecuting
	p.InitTasks()
	if err := store.Save(p); err != nil {
		return err
	}

	e := &run{
		client:   client,
		store:    store,
		project:  p,
		opts:     opts,
		logger:   logger,
		watchers: make(map[string]*session.Watcher),
	}

	// Resume: tasks persisted as running keep their sessions and are
	// simply polled again. Their watchers start empty; the event window
	// is re-observed from scratch and deduped locally.
	for id, exec := range p.Tasks {
		if exec.Status == project.TaskRunning && exec.SessionID != "" {
			e.watchers[id] = session.NewWatcher()
		}
	}

	if err := e.loop(ctx); err != nil {
		return err
	}

	counts := p.CountByStatus()
	logger.Info("execution finished",
		"project", p.ID,
		"completed", counts[project.TaskCompleted],
		"failed", counts[project.TaskFailed],
		"skipped", counts[project.TaskSkipped])

	if counts[project.TaskCompleted] == 0 {
		p.Phase = project.PhaseFailed
		if err := store.Save(p); err != nil {
			return err
		}
		return ErrNoTasksCompleted
	}
	return nil
}

type run struct {
	client   session.Client
	store    *project.Store
	project  *project.Project
	opts     Options
	logger   *slog.Logger
	watchers map[string]*session.Watcher
}

func (e *run) loop(ctx context.Context) error {
	for {
		spawned, err := e.spawnReady(ctx)
		if err != nil {
			return err
		}

		if e.runningCount() == 0 && spawned == 0 {
			// Quiescent: nothing running, nothing became ready.
			// Whatever is still pending is blocked on a dependency
			// chain that cannot complete.
			return e.skipBlocked()
		}

		if err := e.opts.Sleep(ctx, e.opts.PollInterval); err != nil {
			return err
		}

		if err := e.pollRunning(ctx); err != nil {
			return err
		}
	}
}

// spawnReady starts ready tasks in plan encounter order, up to the free
// parallelism slots. A spawn failure marks that task failed and moves on;
// it does not abort the run.
func (e *run) spawnReady(ctx context.Context) (int, error) {
	slots := e.opts.MaxParallel - e.runningCount()
	spawned := 0

	for _, t := range e.project.Plan.Tasks {
		if slots <= 0 {
			break
		}
		exec := e.project.Tasks[t.ID]
		if exec.Status != project.TaskPending || !e.depsCompleted(t) {
			continue
		}

		if err := e.spawn(ctx, t, exec); err != nil {
			if ctx.Err() != nil {
				return spawned, ctx.Err()
			}
			e.logger.Warn("task spawn failed", "task", t.ID, "error", err)
			now := e.now()
			exec.Status = project.TaskFailed
			exec.Error = fmt.Sprintf("spawn failed: %v", err)
			exec.CompletedAt = &now
			if saveErr := e.store.Save(e.project); saveErr != nil {
				return spawned, saveErr
			}
			continue
		}

		spawned++
		slots--
	}
	return spawned, nil
}

// spawn creates the worker session, persists the handle, then prompts.
// The ordering matters for crash recovery: a persisted sessionID with a
// pending status means the prompt may not have been delivered yet, and the
// session is reused rather than recreated on resume.
func (e *run) spawn(ctx context.Context, t plan.TaskNode, exec *project.TaskExecution) error {
	branch := BranchName(t.ID, t.Title)

	if exec.SessionID == "" {
		sessionID, err := e.client.CreateSession(ctx, session.CreateRequest{
			RepoOwner:    e.project.Repo.Owner,
			RepoName:     e.project.Repo.Name,
			Title:        fmt.Sprintf("task %s: %s", t.ID, t.Title),
			Model:        e.opts.Model,
			GitUserName:  e.opts.GitUserName,
			GitUserEmail: e.opts.GitUserEmail,
		})
		if err != nil {
			return err
		}
		exec.SessionID = sessionID
		exec.BranchName = branch
		if err := e.store.Save(e.project); err != nil {
			return err
		}
	}

	prompt, err := buildTaskPrompt(e.project, t, branch)
	if err != nil {
		return err
	}
	if err := e.client.SendPrompt(ctx, exec.SessionID, prompt, session.PromptOptions{
		Model:  e.opts.Model,
		Source: "executor",
	}); err != nil {
		return err
	}

	now := e.now()
	exec.Status = project.TaskRunning
	exec.StartedAt = &now
	e.watchers[t.ID] = session.NewWatcher()
	if err := e.store.Save(e.project); err != nil {
		return err
	}

	e.logger.Info("task started", "task", t.ID, "session", exec.SessionID, "branch", branch)
	return nil
}

// pollRunning checks every running task once. Transport failures are
// ignored for this cycle; the task stays running and is polled again.
func (e *run) pollRunning(ctx context.Context) error {
	for _, t := range e.project.Plan.Tasks {
		exec := e.project.Tasks[t.ID]
		if exec.Status != project.TaskRunning {
			continue
		}
		w := e.watchers[t.ID]
		if w == nil {
			w = session.NewWatcher()
			e.watchers[t.ID] = w
		}

		sess, err := e.client.GetSession(ctx, exec.SessionID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Debug("task poll failed, will retry", "task", t.ID, "error", err)
			continue
		}
		w.ObserveSession(sess)

		if sess.SandboxStatus.IsStartingUp() {
			continue
		}

		events, err := e.client.GetEvents(ctx, exec.SessionID, session.EventWindow)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Debug("task event poll failed, will retry", "task", t.ID, "error", err)
			continue
		}
		w.ObserveEvents(events)

		if !w.Done() {
			continue
		}

		// Prefer the branch the session actually reports; fall back to
		// the deterministic name computed at spawn time.
		if sess.BranchName != "" {
			exec.BranchName = sess.BranchName
		}
		exec.Summary = w.Tail(SummaryLength)
		now := e.now()
		exec.CompletedAt = &now
		if w.Failed() {
			exec.Status = project.TaskFailed
			exec.Error = w.FailureMessage()
			e.logger.Warn("task failed", "task", t.ID, "error", exec.Error)
		} else {
			exec.Status = project.TaskCompleted
			e.logger.Info("task completed", "task", t.ID, "branch", exec.BranchName)
		}
		delete(e.watchers, t.ID)
		if err := e.store.Save(e.project); err != nil {
			return err
		}
	}
	return nil
}

// skipBlocked marks every remaining pending task skipped. Only called at
// quiescence, when their upstream dependency chains can no longer complete.
func (e *run) skipBlocked() error {
	changed := false
	for _, t := range e.project.Plan.Tasks {
		exec := e.project.Tasks[t.ID]
		if exec.Status != project.TaskPending {
			continue
		}
		now := e.now()
		exec.Status = project.TaskSkipped
		exec.Error = fmt.Sprintf("skipped: dependency %s did not complete", e.firstUnmetDep(t))
		exec.CompletedAt = &now
		changed = true
		e.logger.Info("task skipped", "task", t.ID, "reason", exec.Error)
	}
	if !changed {
		return nil
	}
	return e.store.Save(e.project)
}

func (e *run) depsCompleted(t plan.TaskNode) bool {
	for _, dep := range t.DependsOn {
		exec, ok := e.project.Tasks[dep]
		if !ok || exec.Status != project.TaskCompleted {
			return false
		}
	}
	return true
}

func (e *run) firstUnmetDep(t plan.TaskNode) string {
	for _, dep := range t.DependsOn {
		if exec, ok := e.project.Tasks[dep]; !ok || exec.Status != project.TaskCompleted {
			return dep
		}
	}
	return "unknown"
}

func (e *run) runningCount() int {
	count := 0
	for _, exec := range e.project.Tasks {
		if exec.Status == project.TaskRunning {
			count++
		}
	}
	return count
}

func (e *run) now() time.Time {
	return e.opts.Now()
}
