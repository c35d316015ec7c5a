package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oi-sh/oi/internal/plan"
	"github.com/oi-sh/oi/internal/project"
	"github.com/oi-sh/oi/internal/session"
)

// taskOutcome scripts what the fake control plane does with one task's
// worker session.
type taskOutcome struct {
	success bool
	failMsg string
	output  string
	branch  string // branch reported by the session; "" means none reported
}

type fakeWorker struct {
	taskID   string
	outcome  taskOutcome
	finished bool
}

// fakeControlPlane simulates worker sessions that complete on their first
// poll. It records peak concurrency so tests can assert the parallelism cap.
type fakeControlPlane struct {
	outcomes  map[string]taskOutcome
	createErr map[string]error

	sessions map[string]*fakeWorker
	nextID   int
	live     int
	maxLive  int
	prompts  map[string]string
}

func newFakeControlPlane(outcomes map[string]taskOutcome) *fakeControlPlane {
	return &fakeControlPlane{
		outcomes:  outcomes,
		createErr: make(map[string]error),
		sessions:  make(map[string]*fakeWorker),
		prompts:   make(map[string]string),
	}
}

func (f *fakeControlPlane) CreateSession(ctx context.Context, req session.CreateRequest) (string, error) {
	// Worker titles look like "task t1: Do the thing".
	taskID := strings.TrimPrefix(req.Title, "task ")
	if i := strings.Index(taskID, ":"); i >= 0 {
		taskID = taskID[:i]
	}
	if err := f.createErr[taskID]; err != nil {
		return "", err
	}

	f.nextID++
	id := fmt.Sprintf("sess-%d", f.nextID)
	f.sessions[id] = &fakeWorker{taskID: taskID, outcome: f.outcomes[taskID]}
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	return id, nil
}

func (f *fakeControlPlane) GetSession(ctx context.Context, id string) (*session.Session, error) {
	w, ok := f.sessions[id]
	if !ok {
		return nil, &session.APIError{StatusCode: 404, Message: "unknown session"}
	}
	return &session.Session{
		ID:            id,
		SandboxStatus: session.SandboxRunning,
		IsProcessing:  !w.finished,
		BranchName:    w.outcome.branch,
	}, nil
}

func (f *fakeControlPlane) SendPrompt(ctx context.Context, id, content string, opts session.PromptOptions) error {
	if w, ok := f.sessions[id]; ok {
		f.prompts[w.taskID] = content
	}
	return nil
}

func (f *fakeControlPlane) GetEvents(ctx context.Context, id string, limit int) ([]session.Event, error) {
	w, ok := f.sessions[id]
	if !ok {
		return nil, &session.APIError{StatusCode: 404, Message: "unknown session"}
	}
	if !w.finished {
		w.finished = true
		f.live--
	}

	tokenData, _ := json.Marshal(map[string]string{"content": w.outcome.output})
	completeData, _ := json.Marshal(map[string]any{"success": w.outcome.success, "error": w.outcome.failMsg})
	return []session.Event{
		{ID: id + "-token", Type: session.EventToken, Data: tokenData},
		{ID: id + "-done", Type: session.EventExecutionComplete, Data: completeData},
	}, nil
}

func (f *fakeControlPlane) GetArtifacts(ctx context.Context, id string) ([]session.Artifact, error) {
	return nil, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func testOptions(maxParallel int) Options {
	return Options{
		MaxParallel:  maxParallel,
		PollInterval: time.Millisecond,
		Sleep:        noSleep,
		Now:          func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func executingProject(t *testing.T, tasks ...plan.TaskNode) (*project.Store, *project.Project) {
	t.Helper()
	store := project.NewStore(t.TempDir())
	p, err := store.Create("ship it", project.Repo{Owner: "acme", Name: "api"}, "")
	require.NoError(t, err)
	p.Plan = &plan.Plan{Summary: "test plan", Tasks: tasks}
	p.Phase = project.PhaseApproval
	require.NoError(t, store.Save(p))
	return store, p
}

func node(id, title string, deps ...string) plan.TaskNode {
	return plan.TaskNode{ID: id, Title: title, Description: "desc " + id, DependsOn: deps}
}

func TestRun_DiamondCompletes(t *testing.T) {
	store, p := executingProject(t,
		node("t1", "Base"),
		node("t2", "Left", "t1"),
		node("t3", "Right", "t1"),
		node("t4", "Join", "t2", "t3"),
	)
	cp := newFakeControlPlane(map[string]taskOutcome{
		"t1": {success: true, output: "base done"},
		"t2": {success: true, output: "left done"},
		"t3": {success: true, output: "right done"},
		"t4": {success: true, output: "join done"},
	})

	require.NoError(t, Run(context.Background(), cp, store, p, testOptions(4)))

	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		exec := p.Tasks[id]
		assert.Equal(t, project.TaskCompleted, exec.Status, id)
		assert.NotEmpty(t, exec.SessionID, id)
		assert.NotNil(t, exec.StartedAt, id)
		assert.NotNil(t, exec.CompletedAt, id)
	}
	assert.Equal(t, "oi/t1-base", p.Tasks["t1"].BranchName)
	assert.Equal(t, "base done", p.Tasks["t1"].Summary)

	// Join's prompt carries its dependencies' summaries and branches.
	joinPrompt := cp.prompts["t4"]
	assert.Contains(t, joinPrompt, "left done")
	assert.Contains(t, joinPrompt, "oi/t2-left")
}

func TestRun_MaxParallelBoundsConcurrency(t *testing.T) {
	store, p := executingProject(t,
		node("t1", "One"),
		node("t2", "Two"),
	)
	cp := newFakeControlPlane(map[string]taskOutcome{
		"t1": {success: true},
		"t2": {success: true},
	})

	require.NoError(t, Run(context.Background(), cp, store, p, testOptions(1)))

	assert.Equal(t, 1, cp.maxLive)
	assert.Equal(t, project.TaskCompleted, p.Tasks["t1"].Status)
	assert.Equal(t, project.TaskCompleted, p.Tasks["t2"].Status)
}

func TestRun_FailureCascadesAsSkip(t *testing.T) {
	store, p := executingProject(t,
		node("t1", "Breaks"),
		node("t2", "Depends", "t1"),
		node("t3", "Independent"),
	)
	cp := newFakeControlPlane(map[string]taskOutcome{
		"t1": {success: false, failMsg: "compile error"},
		"t3": {success: true, output: "fine"},
	})

	// Partial failure is not fatal: t3 completed.
	require.NoError(t, Run(context.Background(), cp, store, p, testOptions(4)))

	assert.Equal(t, project.TaskFailed, p.Tasks["t1"].Status)
	assert.Equal(t, "compile error", p.Tasks["t1"].Error)

	assert.Equal(t, project.TaskSkipped, p.Tasks["t2"].Status)
	assert.Contains(t, p.Tasks["t2"].Error, "t1")

	assert.Equal(t, project.TaskCompleted, p.Tasks["t3"].Status)
}

func TestRun_TransitiveSkip(t *testing.T) {
	store, p := executingProject(t,
		node("t1", "Breaks"),
		node("t2", "Mid", "t1"),
		node("t3", "Leaf", "t2"),
	)
	cp := newFakeControlPlane(map[string]taskOutcome{
		"t1": {success: false, failMsg: "boom"},
	})

	err := Run(context.Background(), cp, store, p, testOptions(4))
	assert.ErrorIs(t, err, ErrNoTasksCompleted)

	assert.Equal(t, project.TaskFailed, p.Tasks["t1"].Status)
	assert.Equal(t, project.TaskSkipped, p.Tasks["t2"].Status)
	assert.Equal(t, project.TaskSkipped, p.Tasks["t3"].Status)
	assert.Equal(t, project.PhaseFailed, p.Phase)
}

func TestRun_SpawnFailureDoesNotAbortRun(t *testing.T) {
	store, p := executingProject(t,
		node("t1", "Unlucky"),
		node("t2", "Lucky"),
	)
	cp := newFakeControlPlane(map[string]taskOutcome{
		"t2": {success: true, output: "ok"},
	})
	cp.createErr["t1"] = errors.New("quota exceeded")

	require.NoError(t, Run(context.Background(), cp, store, p, testOptions(4)))

	assert.Equal(t, project.TaskFailed, p.Tasks["t1"].Status)
	assert.Contains(t, p.Tasks["t1"].Error, "spawn failed")
	assert.Equal(t, project.TaskCompleted, p.Tasks["t2"].Status)
}

func TestRun_BranchReportedBySessionWins(t *testing.T) {
	store, p := executingProject(t, node("t1", "Renamed"))
	cp := newFakeControlPlane(map[string]taskOutcome{
		"t1": {success: true, branch: "oi/t1-custom-branch"},
	})

	require.NoError(t, Run(context.Background(), cp, store, p, testOptions(4)))
	assert.Equal(t, "oi/t1-custom-branch", p.Tasks["t1"].BranchName)
}

func TestRun_SummaryTruncatedToTail(t *testing.T) {
	long := strings.Repeat("x", 600) + "THE END"
	store, p := executingProject(t, node("t1", "Talkative"))
	cp := newFakeControlPlane(map[string]taskOutcome{
		"t1": {success: true, output: long},
	})

	require.NoError(t, Run(context.Background(), cp, store, p, testOptions(4)))

	summary := p.Tasks["t1"].Summary
	assert.Len(t, summary, SummaryLength)
	assert.True(t, strings.HasSuffix(summary, "THE END"))
}

func TestRun_PersistedStateSurvives(t *testing.T) {
	store, p := executingProject(t, node("t1", "Only"))
	cp := newFakeControlPlane(map[string]taskOutcome{
		"t1": {success: true, output: "done"},
	})

	require.NoError(t, Run(context.Background(), cp, store, p, testOptions(4)))

	loaded, err := store.Load(p.ID)
	require.NoError(t, err)
	assert.Equal(t, project.TaskCompleted, loaded.Tasks["t1"].Status)
	assert.Equal(t, project.PhaseExecuting, loaded.Phase)
}

func TestRun_ResumeReusesRunningSession(t *testing.T) {
	store, p := executingProject(t, node("t1", "Resumed"))
	cp := newFakeControlPlane(map[string]taskOutcome{
		"t1": {success: true, output: "picked up"},
	})

	// Simulate a previous process that spawned the session, persisted it
	// as running, then died.
	id, err := cp.CreateSession(context.Background(), session.CreateRequest{Title: "task t1: Resumed"})
	require.NoError(t, err)
	started := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	p.InitTasks()
	p.Tasks["t1"].Status = project.TaskRunning
	p.Tasks["t1"].SessionID = id
	p.Tasks["t1"].BranchName = "oi/t1-resumed"
	p.Tasks["t1"].StartedAt = &started
	require.NoError(t, store.Save(p))

	require.NoError(t, Run(context.Background(), cp, store, p, testOptions(4)))

	// No second session was created for the task.
	assert.Equal(t, 1, cp.nextID)
	assert.Equal(t, project.TaskCompleted, p.Tasks["t1"].Status)
	assert.Equal(t, "picked up", p.Tasks["t1"].Summary)
}

func TestRun_NoPlanIsAnError(t *testing.T) {
	store := project.NewStore(t.TempDir())
	p, err := store.Create("goal", project.Repo{Owner: "a", Name: "b"}, "")
	require.NoError(t, err)

	assert.Error(t, Run(context.Background(), newFakeControlPlane(nil), store, p, testOptions(1)))
}
