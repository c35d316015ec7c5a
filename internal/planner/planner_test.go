package planner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oi-sh/oi/internal/plan"
	"github.com/oi-sh/oi/internal/project"
	"github.com/oi-sh/oi/internal/session"
)

// fakeClient completes its single session after one poll, emitting the
// configured output as token events followed by execution_complete.
type fakeClient struct {
	output        string
	completeOK    bool
	failMsg       string
	createErr     error
	promptErr     error
	created       []session.CreateRequest
	prompts       []string
	promptOptions []session.PromptOptions
}

func (f *fakeClient) CreateSession(ctx context.Context, req session.CreateRequest) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	return "sess-plan", nil
}

func (f *fakeClient) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return &session.Session{ID: id, SandboxStatus: session.SandboxRunning, IsProcessing: true}, nil
}

func (f *fakeClient) SendPrompt(ctx context.Context, id, content string, opts session.PromptOptions) error {
	if f.promptErr != nil {
		return f.promptErr
	}
	f.prompts = append(f.prompts, content)
	f.promptOptions = append(f.promptOptions, opts)
	return nil
}

func (f *fakeClient) GetEvents(ctx context.Context, id string, limit int) ([]session.Event, error) {
	tokenData, _ := json.Marshal(map[string]string{"content": f.output})
	completeData, _ := json.Marshal(map[string]any{"success": f.completeOK, "error": f.failMsg})
	return []session.Event{
		{ID: "e1", Type: session.EventToken, Data: tokenData},
		{ID: "e2", Type: session.EventExecutionComplete, Data: completeData},
	}, nil
}

func (f *fakeClient) GetArtifacts(ctx context.Context, id string) ([]session.Artifact, error) {
	return nil, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func testOptions() Options {
	return Options{Model: "sonnet", PollInterval: time.Millisecond, Sleep: noSleep}
}

func newProject(t *testing.T) (*project.Store, *project.Project) {
	t.Helper()
	store := project.NewStore(t.TempDir())
	p, err := store.Create("add rate limiting", project.Repo{Owner: "acme", Name: "api"}, "sonnet")
	require.NoError(t, err)
	return store, p
}

const validPlanOutput = "I explored the repo.\n```json\n" + `{
  "summary": "two-step plan",
  "tasks": [
    {"id": "t1", "title": "Define config", "description": "Add limiter config.", "complexity": "small"},
    {"id": "t2", "title": "Wire middleware", "description": "Use the config.", "depends_on": ["t1"], "complexity": "medium"}
  ]
}` + "\n```\n"

func TestRun_GeneratesAndValidatesPlan(t *testing.T) {
	store, p := newProject(t)
	client := &fakeClient{output: validPlanOutput, completeOK: true}

	generated, err := Run(context.Background(), client, store, p, testOptions())
	require.NoError(t, err)

	require.Len(t, generated.Tasks, 2)
	assert.Equal(t, "two-step plan", generated.Summary)
	assert.Equal(t, project.PhaseApproval, p.Phase)
	assert.Equal(t, project.SubCompleted, p.Planning.Status)
	assert.Equal(t, "sess-plan", p.Planning.SessionID)

	// Session scoped to the project repo, prompt carries the goal.
	require.Len(t, client.created, 1)
	assert.Equal(t, "acme", client.created[0].RepoOwner)
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "add rate limiting")

	// State survived each persist point.
	loaded, err := store.Load(p.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Plan)
	assert.Equal(t, generated.Tasks, loaded.Plan.Tasks)
}

func TestRun_AlreadyPlannedIsNoOp(t *testing.T) {
	store, p := newProject(t)
	p.Plan = &plan.Plan{Summary: "done", Tasks: []plan.TaskNode{{ID: "t1"}}}
	p.Phase = project.PhaseApproval
	require.NoError(t, store.Save(p))

	client := &fakeClient{}
	got, err := Run(context.Background(), client, store, p, testOptions())
	require.NoError(t, err)
	assert.Equal(t, "done", got.Summary)
	assert.Empty(t, client.created)
}

func TestRun_SessionCreateFailureFailsPhase(t *testing.T) {
	store, p := newProject(t)
	client := &fakeClient{createErr: &session.APIError{StatusCode: 403, Message: "no access"}}

	_, err := Run(context.Background(), client, store, p, testOptions())
	require.Error(t, err)
	assert.Equal(t, project.PhaseFailed, p.Phase)
	assert.Equal(t, project.SubFailed, p.Planning.Status)
	assert.Contains(t, p.Planning.Error, "no access")
}

func TestRun_FailedSessionSurfaces(t *testing.T) {
	store, p := newProject(t)
	client := &fakeClient{output: "partial", completeOK: false, failMsg: "agent crashed"}

	_, err := Run(context.Background(), client, store, p, testOptions())
	require.ErrorContains(t, err, "agent crashed")
	assert.Equal(t, project.PhaseFailed, p.Phase)
}

func TestRun_EmptyOutputIsHardFailure(t *testing.T) {
	store, p := newProject(t)
	client := &fakeClient{output: "", completeOK: true}

	_, err := Run(context.Background(), client, store, p, testOptions())
	require.ErrorContains(t, err, "no output")
	assert.Equal(t, project.PhaseFailed, p.Phase)
}

func TestRun_UnparseableOutputFailsWithNoPlan(t *testing.T) {
	store, p := newProject(t)
	client := &fakeClient{output: "I could not decide on a plan, sorry.", completeOK: true}

	_, err := Run(context.Background(), client, store, p, testOptions())
	assert.ErrorIs(t, err, ErrNoPlan)
	assert.Equal(t, project.PhaseFailed, p.Phase)
}

func TestRun_InvalidPlanFailsValidation(t *testing.T) {
	store, p := newProject(t)
	client := &fakeClient{completeOK: true, output: "```json\n" + `{
  "summary": "cyclic",
  "tasks": [
    {"id": "t1", "title": "a", "description": "x", "depends_on": ["t2"]},
    {"id": "t2", "title": "b", "description": "y", "depends_on": ["t1"]}
  ]
}` + "\n```"}

	_, err := Run(context.Background(), client, store, p, testOptions())
	assert.ErrorIs(t, err, ErrPlanInvalid)
	assert.Contains(t, p.Planning.Error, "cycle")
}

func TestRevalidate(t *testing.T) {
	valid := &plan.Plan{Tasks: []plan.TaskNode{{ID: "t1"}, {ID: "t2", DependsOn: []string{"t1"}}}}
	assert.True(t, Revalidate(valid).Valid)

	edited := &plan.Plan{Tasks: []plan.TaskNode{{ID: "t1", DependsOn: []string{"ghost"}}}}
	result := Revalidate(edited)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)

	assert.False(t, Revalidate(nil).Valid)
	assert.False(t, Revalidate(&plan.Plan{}).Valid)
}
