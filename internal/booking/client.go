package booking

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

	"go.uber.org/zap"

	"eventline/internal/config"
	"eventline/internal/logging"
)

// Client talks to the booking system's JSON API. Transient failures are
// retried with exponential backoff up to Retries extra attempts.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	Logger     *zap.Logger
}

func New(cfg config.Booking, logger *zap.Logger) *Client {
	return &Client{
		BaseURL:    cfg.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Timeout:    cfg.Timeout,
		Retries:    cfg.Retries,
		Backoff:    cfg.RetryBackoff,
		Logger:     logging.OrNop(logger),
	}
}

// SupplierRef is one supplier attached to a content request.
type SupplierRef struct {
	ID   string `json:"id"`
	Send bool   `json:"send"`
}

// MarshalJSON sends numeric ids as numbers.
func (s SupplierRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID   any  `json:"id"`
		Send bool `json:"send"`
	}{numericOrString(s.ID), s.Send})
}

type SupplierQuery struct {
	Name        string
	Location    string
	MinRating   float64
	MaxRating   float64
	CategoryIDs []int64
	MatchStatus string
	Limit       int
	Offset      int
	SortBy      string
	SortOrder   string
	Fields      string
}

type SupplierPage struct {
	Total     int              `json:"total"`
	Suppliers []map[string]any `json:"suppliers"`
}

type Boundaries struct {
	North, South, East, West float64
}

// CreateEvent posts a create payload and returns the new event id.
func (c *Client) CreateEvent(ctx context.Context, payload map[string]any) (string, map[string]any, error) {
	var resp map[string]any
	if err := c.call(ctx, "create_event", http.MethodPost, "/api/create_event", nil, payload, &resp); err != nil {
		return "", nil, err
	}
	id, ok := resp["id"]
	if !ok || id == nil {
		return "", resp, fmt.Errorf("create_event: response has no id")
	}
	return idString(id), resp, nil
}

// UpsertContent adds a content request to an event, or renames the one
// with contentID when it is set.
func (c *Client) UpsertContent(ctx context.Context, eventID, name, contentID string) error {
	request := map[string]any{"name": name}
	if contentID != "" {
		request["id"] = numericOrString(contentID)
	}
	body := map[string]any{"requests": []any{map[string]any{"request": request}}}
	return c.call(ctx, "add_or_update_content", http.MethodPost, "/api/add_or_update_content/"+url.PathEscape(eventID), nil, body, nil)
}

// EventDetail returns the raw event detail document.
func (c *Client) EventDetail(ctx context.Context, eventID string) (map[string]any, error) {
	var resp map[string]any
	err := c.call(ctx, "get_event_detail", http.MethodGet, "/api/get_event_detail/"+url.PathEscape(eventID), nil, nil, &resp)
	return resp, err
}

func (c *Client) AddPart(ctx context.Context, requestID string, payload map[string]any) (map[string]any, error) {
	var resp map[string]any
	err := c.call(ctx, "add_request_offer_part", http.MethodPost, "/api/add_request_offer_part/"+url.PathEscape(requestID), nil, payload, &resp)
	return resp, err
}

func (c *Client) AddSuppliers(ctx context.Context, requestID string, suppliers []SupplierRef) error {
	body := map[string]any{"suppliers": suppliers}
	return c.call(ctx, "add_supplier_to_request", http.MethodPost, "/api/add_supplier_to_request/"+url.PathEscape(requestID), nil, body, nil)
}

// AddSuppliersAndSend attaches suppliers and dispatches the request to them.
func (c *Client) AddSuppliersAndSend(ctx context.Context, requestID string, suppliers []SupplierRef) error {
	body := map[string]any{"suppliers": suppliers}
	return c.call(ctx, "add_supplier_to_request_and_send", http.MethodPost, "/api/add_supplier_to_request_and_send/"+url.PathEscape(requestID), nil, body, nil)
}

// Boundaries resolves a free-text location to a bounding box. ok is false
// when the booking system knows no boundaries for it.
func (c *Client) Boundaries(ctx context.Context, location string) (Boundaries, bool, error) {
	var resp struct {
		Boundaries *struct {
			North struct{ Latitude float64 } `json:"north"`
			South struct{ Latitude float64 } `json:"south"`
			East  struct{ Longitude float64 } `json:"east"`
			West  struct{ Longitude float64 } `json:"west"`
		} `json:"boundaries"`
	}
	q := url.Values{"location": {location}}
	if err := c.call(ctx, "get_bounderies", http.MethodGet, "/api/get_bounderies", q, nil, &resp); err != nil {
		return Boundaries{}, false, err
	}
	if resp.Boundaries == nil {
		return Boundaries{}, false, nil
	}
	b := resp.Boundaries
	return Boundaries{North: b.North.Latitude, South: b.South.Latitude, East: b.East.Longitude, West: b.West.Longitude}, true, nil
}

func (c *Client) SearchSuppliers(ctx context.Context, q SupplierQuery, box *Boundaries) (SupplierPage, error) {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("fields", q.Fields)
	set("name", q.Name)
	set("matchStatus", q.MatchStatus)
	set("sort_by", q.SortBy)
	set("sort_order", q.SortOrder)
	v.Set("minRating", strconv.FormatFloat(q.MinRating, 'f', -1, 64))
	v.Set("maxRating", strconv.FormatFloat(q.MaxRating, 'f', -1, 64))
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("offset", strconv.Itoa(q.Offset))
	if len(q.CategoryIDs) > 0 {
		ids := make([]string, len(q.CategoryIDs))
		for i, id := range q.CategoryIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		v.Set("categories", strings.Join(ids, ","))
	}
	if box != nil {
		v.Set("north", strconv.FormatFloat(box.North, 'f', -1, 64))
		v.Set("south", strconv.FormatFloat(box.South, 'f', -1, 64))
		v.Set("east", strconv.FormatFloat(box.East, 'f', -1, 64))
		v.Set("west", strconv.FormatFloat(box.West, 'f', -1, 64))
	}
	var page SupplierPage
	err := c.call(ctx, "agent_filter", http.MethodGet, "/api/suppliers/agent_filter", v, nil, &page)
	return page, err
}

func (c *Client) call(ctx context.Context, op, method, endpoint string, query url.Values, body, out any) error {
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	var err error
	for attempt := 0; ; attempt++ {
		err = c.do(ctx, op, method, endpoint, query, body, out)
		if err == nil || !errors.Is(err, ErrTransient) || attempt >= c.Retries {
			return err
		}
		wait := backoff << attempt
		c.logger().Warn("booking call failed, retrying",
			zap.String("op", op), zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// httpClient never writes back to c; one Client is shared by every run.
func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, query url.Values, body, out any) error {
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(data)))}
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) logger() *zap.Logger {
	return logging.OrNop(c.Logger)
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

func numericOrString(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
