package missioncontrolsdk

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

// Client is a minimal Mission Control HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Agent represents the API agent model (partial).
type Agent struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	Enabled     bool       `json:"enabled"`
	SkillsAllow []string   `json:"skills_allow"`
	WorkState   *WorkState `json:"work_state,omitempty"`
	Version     int64      `json:"version"`
}

// WorkState is what an agent reports it is doing.
type WorkState struct {
	TaskID   string `json:"task_id,omitempty"`
	Status   string `json:"status,omitempty"`
	NextStep string `json:"next_step,omitempty"`
	Blockers string `json:"blockers,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Status       string  `json:"status"`
	Priority     int     `json:"priority"`
	OwnerAgentID *string `json:"owner_agent_id,omitempty"`
	Version      int64   `json:"version"`
}

type BoardColumn struct {
	Status string `json:"status"`
	Tasks  []Task `json:"tasks"`
}

type Turn struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	Seq            int64   `json:"seq"`
	SpeakerType    string  `json:"speaker_type"`
	SpeakerID      *string `json:"speaker_id,omitempty"`
	Content        string  `json:"content"`
	ToolEvents     any     `json:"tool_events,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

type Conversation struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	TaskID *string `json:"task_id,omitempty"`
	Turns  []Turn  `json:"turns"`
}

// Run is one war-room meeting.
type Run struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	Slot           *string `json:"slot,omitempty"`
	State          string  `json:"state"`
	FinalAnswer    string  `json:"final_answer"`
	DeliveryError  *string `json:"delivery_error,omitempty"`
	DeliveredAt    *string `json:"delivered_at,omitempty"`
}

// AuditEvent represents an audit log entry.
type AuditEvent struct {
	ID         int64          `json:"id"`
	Actor      string         `json:"actor"`
	Role       string         `json:"role"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  string         `json:"created_at"`
}

// APIError wraps non-2xx responses. Code is the error envelope's code when present.
type APIError struct {
	StatusCode int
	Code       string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// IsConflict reports a stale expected_version.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

type PaginatedRuns struct {
	Items      []Run  `json:"items"`
	NextCursor string `json:"next_cursor"`
}

type PaginatedAudit struct {
	Items      []AuditEvent `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// ListAgents returns the roster in order.
func (c *Client) ListAgents(ctx context.Context, enabledOnly bool) ([]Agent, error) {
	endpoint := "agents"
	if enabledOnly {
		endpoint += "?enabled_only=true"
	}
	var resp []Agent
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ReportWorkState sets the calling agent's own work state.
func (c *Client) ReportWorkState(ctx context.Context, agentID string, ws WorkState) (Agent, error) {
	var resp Agent
	err := c.do(ctx, http.MethodPatch, "agents/"+url.PathEscape(agentID), map[string]any{"work_state": ws}, &resp)
	return resp, err
}

// CreateTask creates a task in BACKLOG.
func (c *Client) CreateTask(ctx context.Context, title string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", map[string]any{"title": title}, &resp)
	return resp, err
}

// MoveTask moves a task to status. A non-zero expectedVersion guards against concurrent edits.
func (c *Client) MoveTask(ctx context.Context, id, status string, expectedVersion int64) (Task, error) {
	body := map[string]any{"status": status}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id), body, &resp)
	return resp, err
}

func (c *Client) Board(ctx context.Context) ([]BoardColumn, error) {
	var resp []BoardColumn
	err := c.do(ctx, http.MethodGet, "board", nil, &resp)
	return resp, err
}

func (c *Client) Conversation(ctx context.Context, id string) (Conversation, error) {
	var resp Conversation
	err := c.do(ctx, http.MethodGet, "conversations/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// AppendTurn appends a turn spoken by the authenticated caller.
func (c *Client) AppendTurn(ctx context.Context, conversationID, speakerType, content string, toolEvents any) (Turn, error) {
	body := map[string]any{"content": content}
	if speakerType != "" {
		body["speaker_type"] = speakerType
	}
	if toolEvents != nil {
		body["tool_events"] = toolEvents
	}
	var resp Turn
	err := c.do(ctx, http.MethodPost, "conversations/"+url.PathEscape(conversationID)+"/turns", body, &resp)
	return resp, err
}

// RunMeeting triggers a war-room run. On a delivery failure the error is an *APIError
// whose Details carry run_id.
func (c *Client) RunMeeting(ctx context.Context, slot string) (Run, error) {
	var body any
	if slot != "" {
		body = map[string]any{"slot": slot}
	}
	var resp Run
	err := c.do(ctx, http.MethodPost, "war-room/runs", body, &resp)
	return resp, err
}

func (c *Client) RunsPage(ctx context.Context, limit int, cursor string) (PaginatedRuns, error) {
	var resp PaginatedRuns
	err := c.do(ctx, http.MethodGet, withPage("war-room/runs", limit, cursor), nil, &resp)
	return resp, err
}

// AuditPage returns a page of audit events, most recent first.
func (c *Client) AuditPage(ctx context.Context, limit int, cursor string) (PaginatedAudit, error) {
	var resp PaginatedAudit
	err := c.do(ctx, http.MethodGet, withPage("audit", limit, cursor), nil, &resp)
	return resp, err
}

func withPage(endpoint string, limit int, cursor string) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
