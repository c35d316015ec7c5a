// Package session talks to the remote control plane that hosts agent
// sessions. The orchestration core only ever sees the Client interface; the
// HTTP implementation is an I/O shim with no scheduling logic.
package session

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// SandboxStatus is the lifecycle state of a session's sandbox.
type SandboxStatus string

const (
	SandboxPending SandboxStatus = "pending"
	SandboxWarming SandboxStatus = "warming"
	SandboxSyncing SandboxStatus = "syncing"
	SandboxRunning SandboxStatus = "running"
	// SandboxReady means idle between prompts, not finished.
	SandboxReady   SandboxStatus = "ready"
	SandboxStopped SandboxStatus = "stopped"
)

// IsStartingUp reports whether the sandbox has not yet begun executing.
func (s SandboxStatus) IsStartingUp() bool {
	return s == SandboxPending || s == SandboxWarming || s == SandboxSyncing
}

// Session is the remote view of one agent session.
type Session struct {
	ID            string        `json:"id"`
	Status        string        `json:"status"`
	SandboxStatus SandboxStatus `json:"sandbox_status"`
	BranchName    string        `json:"branch_name,omitempty"`
	IsProcessing  bool          `json:"is_processing"`
}

// EventType identifies a session event.
type EventType string

const (
	EventToken             EventType = "token"
	EventReady             EventType = "ready"
	EventExecutionComplete EventType = "execution_complete"
	EventError             EventType = "error"
)

// Event is one entry in a session's event stream. The stream is a recent
// window, not a cursor: polls re-observe events, and callers deduplicate by
// event id.
type Event struct {
	ID   string          `json:"id"`
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TokenContent returns the text payload of a token event.
func (e Event) TokenContent() string {
	return gjson.GetBytes(e.Data, "content").String()
}

// CompletionResult reports the success flag and error message carried by an
// execution_complete event.
func (e Event) CompletionResult() (success bool, errMsg string) {
	return gjson.GetBytes(e.Data, "success").Bool(), gjson.GetBytes(e.Data, "error").String()
}

// ErrorMessage returns the message carried by an error event.
func (e Event) ErrorMessage() string {
	if msg := gjson.GetBytes(e.Data, "message").String(); msg != "" {
		return msg
	}
	return gjson.GetBytes(e.Data, "error").String()
}

// Artifact is an output the remote session published.
type Artifact struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// ArtifactTypePullRequest marks the pull request artifact integration looks for.
const ArtifactTypePullRequest = "pull request"

// CreateRequest holds the parameters for creating a session.
type CreateRequest struct {
	RepoOwner    string `json:"repo_owner"`
	RepoName     string `json:"repo_name"`
	Title        string `json:"title"`
	Model        string `json:"model,omitempty"`
	GitUserName  string `json:"git_user_name,omitempty"`
	GitUserEmail string `json:"git_user_email,omitempty"`
}

// PromptOptions configures prompt delivery.
type PromptOptions struct {
	Model  string `json:"model,omitempty"`
	Source string `json:"source,omitempty"`
}

// Client is the abstract control-plane contract the orchestration core
// depends on. Implementations must be safe for sequential reuse; the core
// never calls concurrently.
type Client interface {
	CreateSession(ctx context.Context, req CreateRequest) (string, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	SendPrompt(ctx context.Context, sessionID, content string, opts PromptOptions) error
	GetEvents(ctx context.Context, sessionID string, limit int) ([]Event, error)
	GetArtifacts(ctx context.Context, sessionID string) ([]Artifact, error)
}
