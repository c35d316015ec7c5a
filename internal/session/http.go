package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the control plane.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("control plane: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("control plane: status %d", e.StatusCode)
}

// IsRetryable reports whether an error is worth retrying: transport failures
// and server-side errors are, client-side rejections are not.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	// Anything that never produced a response (DNS, reset, timeout).
	return err != nil
}

// HTTPClient implements Client against the control plane's REST API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client for the given base URL. The token is sent
// as a bearer credential on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// CreateSession creates a remote session scoped to a repository.
func (c *HTTPClient) CreateSession(ctx context.Context, req CreateRequest) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &resp); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create session: empty session id in response")
	}
	return resp.ID, nil
}

// GetSession fetches a session's current state.
func (c *HTTPClient) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	path := "/v1/sessions/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &sess); err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// SendPrompt delivers a prompt to a session.
func (c *HTTPClient) SendPrompt(ctx context.Context, sessionID, content string, opts PromptOptions) error {
	body := struct {
		Content string `json:"content"`
		PromptOptions
	}{Content: content, PromptOptions: opts}

	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/prompt"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("send prompt to %s: %w", sessionID, err)
	}
	return nil
}

// GetEvents fetches a recent window of the session's event stream.
func (c *HTTPClient) GetEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/events?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get events for %s: %w", sessionID, err)
	}
	return resp.Events, nil
}

// GetArtifacts fetches the artifacts a session has published.
func (c *HTTPClient) GetArtifacts(ctx context.Context, sessionID string) ([]Artifact, error) {
	var resp struct {
		Artifacts []Artifact `json:"artifacts"`
	}
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/artifacts"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get artifacts for %s: %w", sessionID, err)
	}
	return resp.Artifacts, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}
