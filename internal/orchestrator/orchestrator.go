// Package orchestrator runs a project through its phases: planning, approval,
// execution, and integration. It owns no scheduling or protocol logic of its
// own; each phase package does the work and the orchestrator sequences them,
// resuming from whatever phase a reloaded project is in.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oi-sh/oi/internal/executor"
	"github.com/oi-sh/oi/internal/integrator"
	"github.com/oi-sh/oi/internal/plan"
	"github.com/oi-sh/oi/internal/planner"
	"github.com/oi-sh/oi/internal/project"
	"github.com/oi-sh/oi/internal/session"
)

// ErrPlanRejected indicates the approver declined the generated plan.
var ErrPlanRejected = errors.New("plan rejected")

// Config holds orchestrator configuration.
type Config struct {
	Model        string
	PlannerModel string
	MaxParallel  int
	PollInterval time.Duration
	GitUserName  string
	GitUserEmail string
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallel:  4,
		PollInterval: 5 * time.Second,
	}
}

// Approver reviews a generated plan before execution. It may return an
// edited plan (or the input unchanged) and whether to proceed. The returned
// plan is re-validated; an invalid edit aborts the run without executing.
type Approver func(p *plan.Plan) (*plan.Plan, bool, error)

// Orchestrator drives one project at a time through the pipeline.
type Orchestrator struct {
	client   session.Client
	store    *project.Store
	approver Approver
	cfg      Config
	sleep    session.Sleeper
	logger   *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithApprover installs a plan approver. Without one, plans are
// auto-approved.
func WithApprover(a Approver) Option {
	return func(o *Orchestrator) { o.approver = a }
}

// WithSleeper overrides the poll sleep, used by tests.
func WithSleeper(s session.Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator bound to a control-plane client and a project
// store.
func New(client session.Client, store *project.Store, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = DefaultConfig().MaxParallel
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	o := &Orchestrator{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run takes the project from its current phase to completion. A completed
// project returns its recorded result; a failed one returns an error without
// touching remote state.
func (o *Orchestrator) Run(ctx context.Context, p *project.Project) (*integrator.Result, error) {
	switch p.Phase {
	case project.PhaseCompleted:
		return &integrator.Result{
			BranchName: p.Integration.MergedBranch,
			PRURL:      p.Integration.PRURL,
		}, nil
	case project.PhaseFailed:
		return nil, fmt.Errorf("project %s is in the failed phase; start a new project", p.ID)
	}

	if p.Phase == project.PhasePlanning {
		if _, err := o.Plan(ctx, p); err != nil {
			return nil, err
		}
	}
	if p.Phase == project.PhaseApproval {
		if err := o.approve(p); err != nil {
			return nil, err
		}
	}
	if p.Phase == project.PhaseExecuting {
		err := executor.Run(ctx, o.client, o.store, p, executor.Options{
			MaxParallel:  o.cfg.MaxParallel,
			Model:        o.cfg.Model,
			GitUserName:  o.cfg.GitUserName,
			GitUserEmail: o.cfg.GitUserEmail,
			PollInterval: o.cfg.PollInterval,
			Sleep:        o.sleep,
			Logger:       o.logger,
		})
		if err != nil {
			return nil, err
		}
	}
	return integrator.Run(ctx, o.client, o.store, p, integrator.Options{
		Model:        o.cfg.Model,
		GitUserName:  o.cfg.GitUserName,
		GitUserEmail: o.cfg.GitUserEmail,
		PollInterval: o.cfg.PollInterval,
		Sleep:        o.sleep,
		Logger:       o.logger,
	})
}

// Plan runs the planning phase only, leaving the project awaiting approval.
func (o *Orchestrator) Plan(ctx context.Context, p *project.Project) (*plan.Plan, error) {
	model := o.cfg.PlannerModel
	if model == "" {
		model = o.cfg.Model
	}
	return planner.Run(ctx, o.client, o.store, p, planner.Options{
		Model:        model,
		GitUserName:  o.cfg.GitUserName,
		GitUserEmail: o.cfg.GitUserEmail,
		PollInterval: o.cfg.PollInterval,
		Sleep:        o.sleep,
		Logger:       o.logger,
	})
}

func (o *Orchestrator) approve(p *project.Project) error {
	if o.approver == nil {
		o.logger.Info("no approver configured, auto-approving plan", "project", p.ID)
		return o.markApproved(p)
	}

	edited, approved, err := o.approver(p.Plan)
	if err != nil {
		return fmt.Errorf("approve plan: %w", err)
	}
	if !approved {
		p.Phase = project.PhaseFailed
		p.Planning.Error = ErrPlanRejected.Error()
		if saveErr := o.store.Save(p); saveErr != nil {
			return saveErr
		}
		return ErrPlanRejected
	}
	if edited != nil {
		if result := planner.Revalidate(edited); !result.Valid {
			return fmt.Errorf("%w: edited plan is invalid: %v", planner.ErrPlanInvalid, result.Errors)
		}
		p.Plan = edited
	}
	return o.markApproved(p)
}

func (o *Orchestrator) markApproved(p *project.Project) error {
	p.Phase = project.PhaseExecuting
	return o.store.Save(p)
}
