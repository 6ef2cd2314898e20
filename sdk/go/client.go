package eventlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal eventline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Turns wait on the language
// model, so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Timeout:    5 * time.Minute,
	}
}

type Turn struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Run is the planning document of one run. The plan fields are left raw.
type Run struct {
	RunID                   string          `json:"run_id"`
	Version                 int64           `json:"version"`
	Conversation            []Turn          `json:"conversation"`
	Requirements            json.RawMessage `json:"requirements,omitempty"`
	ApprovedTimeline        json.RawMessage `json:"approved_timeline,omitempty"`
	FinalDraft              json.RawMessage `json:"final_draft,omitempty"`
	FinalDraftWithSuppliers json.RawMessage `json:"final_draft_with_suppliers,omitempty"`
	CreatedAt               string          `json:"created_at"`
	UpdatedAt               string          `json:"updated_at"`
}

type RunSummary struct {
	ID        string `json:"id"`
	Version   int64  `json:"version"`
	Phase     string `json:"phase"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type TurnResult struct {
	RunID     string   `json:"run_id"`
	Version   int64    `json:"version"`
	Phase     string   `json:"phase"`
	NextPhase string   `json:"next_phase"`
	Reply     string   `json:"reply"`
	Committed []string `json:"committed"`
	Warnings  []string `json:"warnings,omitempty"`
}

type UnitResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type ContentResult struct {
	Name      string       `json:"name"`
	RequestID string       `json:"request_id,omitempty"`
	Error     string       `json:"error,omitempty"`
	Parts     []UnitResult `json:"parts"`
	Suppliers *UnitResult  `json:"suppliers,omitempty"`
	Send      *UnitResult  `json:"send,omitempty"`
}

type ReconcileResult struct {
	EventID  string          `json:"event_id,omitempty"`
	Status   string          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Contents []ContentResult `json:"contents"`
}

// Event represents a log entry.
type Event struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	RunID   string         `json:"run_id"`
	Phase   string         `json:"phase"`
	Payload map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the envelope's error code when
// the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRun starts a run; an empty id lets the server pick one.
func (c *Client) CreateRun(ctx context.Context, id string) (Run, error) {
	body := map[string]any{}
	if id != "" {
		body["id"] = id
	}
	var resp Run
	err := c.do(ctx, http.MethodPost, "runs", body, &resp)
	return resp, err
}

func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodGet, c.runPath(runID, ""), nil, &resp)
	return resp, err
}

func (c *Client) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	endpoint := "runs"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []RunSummary `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// SendTurn posts a user message and returns the assistant's reply.
func (c *Client) SendTurn(ctx context.Context, runID, message string) (TurnResult, error) {
	var resp TurnResult
	err := c.do(ctx, http.MethodPost, c.runPath(runID, "turns"), map[string]any{"message": message}, &resp)
	return resp, err
}

// Reconcile creates the run's event in the booking system.
func (c *Client) Reconcile(ctx context.Context, runID, email, mode string) (ReconcileResult, error) {
	body := map[string]any{"email": email}
	if mode != "" {
		body["mode"] = mode
	}
	var resp ReconcileResult
	err := c.do(ctx, http.MethodPost, c.runPath(runID, "reconcile"), body, &resp)
	return resp, err
}

// EventsPage returns a run's events newest first.
func (c *Client) EventsPage(ctx context.Context, runID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery(c.runPath(runID, "events"), q), nil, &resp)
	return resp, err
}

// EventsAfter returns a run's events newer than after, oldest first.
func (c *Client) EventsAfter(ctx context.Context, runID string, after int64, limit int) ([]Event, error) {
	q := url.Values{}
	q.Set("after", fmt.Sprint(after))
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery(c.runPath(runID, "events"), q), nil, &resp)
	return resp.Items, err
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) runPath(runID, sub string) string {
	p := "runs/" + url.PathEscape(runID)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
