// Package reconcile replays a supplier-augmented final draft into the
// booking system. Steps run strictly in order; there is no rollback.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"eventline/internal/booking"
	"eventline/internal/config"
	"eventline/internal/domain"
	"eventline/internal/logging"
	"eventline/internal/mapper"
)

var (
	ErrCreateEvent  = errors.New("create event failed")
	ErrInvalidMode  = errors.New("invalid reconcile mode")
	ErrNotVisible   = errors.New("content not visible after write")
	ErrNothingToRun = errors.New("no supplier-augmented draft")
)

type Mode string

const (
	ModeCreate Mode = "create"
	ModeAttach Mode = "attach"
	ModeSend   Mode = "send"
)

// ParseMode accepts the short names and the long action names.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "create":
		return ModeCreate, nil
	case "attach", "create_and_add_suppliers":
		return ModeAttach, nil
	case "send", "create_add_suppliers_and_send_requests":
		return ModeSend, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
)

// Backend is the subset of the booking system the engine drives.
type Backend interface {
	CreateEvent(ctx context.Context, payload map[string]any) (string, map[string]any, error)
	UpsertContent(ctx context.Context, eventID, name, contentID string) error
	Event(ctx context.Context, eventID string) (booking.EventView, error)
	AddPart(ctx context.Context, requestID string, payload map[string]any) (map[string]any, error)
	AddSuppliers(ctx context.Context, requestID string, suppliers []booking.SupplierRef) error
	AddSuppliersAndSend(ctx context.Context, requestID string, suppliers []booking.SupplierRef) error
}

type Request struct {
	Draft domain.Draft
	Email string
	Mode  Mode
	// EventID resumes an event created by an earlier reconciliation instead
	// of creating a new one. Units that Previous reports as done for the
	// same event are not sent again.
	EventID  string
	Previous *Result
}

// FromDocument builds a request from a run's supplier-augmented draft.
func FromDocument(doc *domain.Document, email string, mode Mode) (Request, error) {
	if doc == nil || !doc.HasFinalDraftWithSuppliers() {
		return Request{}, ErrNothingToRun
	}
	return Request{Draft: *doc.FinalDraftWithSuppliers, Email: email, Mode: mode}, nil
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

// done reports whether the unit went through on an earlier attempt.
func (u *UnitResult) done() bool { return u != nil && u.OK }

type Result struct {
	EventID  string          `json:"event_id,omitempty"`
	Status   Status          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Contents []ContentResult `json:"contents"`
}

// Failures lists the failed units as "content" or "content/unit".
func (r Result) Failures() []string {
	var out []string
	for _, c := range r.Contents {
		if c.Error != "" {
			out = append(out, c.Name)
		}
		for _, p := range c.Parts {
			if !p.OK {
				out = append(out, c.Name+"/"+p.Name)
			}
		}
		for _, u := range []*UnitResult{c.Suppliers, c.Send} {
			if u != nil && !u.OK {
				out = append(out, c.Name+"/"+u.Name)
			}
		}
	}
	return out
}

type Engine struct {
	Backend  Backend
	Booking  config.Booking
	Location *time.Location
	Logger   *zap.Logger
	Sleep    func(ctx context.Context, d time.Duration) error

	flight singleflight.Group
}

func New(backend Backend, cfg config.Booking, logger *zap.Logger) *Engine {
	return &Engine{Backend: backend, Booking: cfg, Location: time.Local, Logger: logging.OrNop(logger)}
}

// ReconcileRun reconciles at most once at a time per run. Callers that
// arrive while a reconciliation for runID is in flight share its result;
// shared reports whether that happened.
func (e *Engine) ReconcileRun(ctx context.Context, runID string, req Request) (res Result, shared bool, err error) {
	v, err, shared := e.flight.Do(runID, func() (any, error) {
		return e.Reconcile(ctx, req)
	})
	if r, ok := v.(Result); ok {
		res = r
	}
	return res, shared, err
}

// Reconcile creates the event, its contents, their parts and, depending on
// the mode, attaches suppliers. Only a failed event creation is returned as
// an error; later failures are reported in the result. With req.EventID set
// the event is reused and only the units still missing are driven.
func (e *Engine) Reconcile(ctx context.Context, req Request) (Result, error) {
	log := logging.OrNop(e.Logger)
	if req.Mode == "" {
		req.Mode = ModeCreate
	}
	if _, err := ParseMode(string(req.Mode)); err != nil {
		return Result{Status: StatusFailed, Error: err.Error()}, err
	}
	if err := req.Draft.Validate(); err != nil {
		return Result{Status: StatusFailed, Error: err.Error()}, err
	}
	rq := req.Draft.Requirements
	rq.Normalize()

	eventID := req.EventID
	prior := map[string]ContentResult{}
	if eventID != "" {
		if req.Previous != nil && req.Previous.EventID == eventID {
			for _, c := range req.Previous.Contents {
				prior[c.Name] = c
			}
		}
		log = log.With(zap.String("event_id", eventID))
		log.Info("resuming event", zap.Int("known_contents", len(prior)))
	} else {
		payload, err := e.createPayload(rq, req.Email)
		if err != nil {
			return Result{Status: StatusFailed, Error: err.Error()}, fmt.Errorf("%w: %v", ErrCreateEvent, err)
		}
		eventID, _, err = e.Backend.CreateEvent(ctx, payload)
		if err != nil {
			return Result{Status: StatusFailed, Error: err.Error()}, fmt.Errorf("%w: %w", ErrCreateEvent, err)
		}
		log = log.With(zap.String("event_id", eventID))
		log.Info("event created")
	}
	res := Result{EventID: eventID, Status: StatusSucceeded}

	for _, c := range rq.EventContents {
		cr := ContentResult{Name: c.Name}
		if p := prior[c.Name]; p.RequestID != "" {
			cr.RequestID = p.RequestID
			res.Contents = append(res.Contents, cr)
			continue
		}
		requestID, err := e.upsertContent(ctx, eventID, c.Name)
		if err != nil {
			cr.Error = err.Error()
			log.Warn("content failed", zap.String("content", c.Name), zap.Error(err))
		}
		cr.RequestID = requestID
		res.Contents = append(res.Contents, cr)
		if ctx.Err() != nil {
			return e.finish(res), ctx.Err()
		}
	}

	for i, c := range rq.EventContents {
		cr := &res.Contents[i]
		if cr.RequestID == "" {
			continue
		}
		added := map[string]bool{}
		if p := prior[c.Name]; p.RequestID == cr.RequestID {
			for _, u := range p.Parts {
				added[u.Name] = added[u.Name] || u.OK
			}
		}
		for _, p := range c.Parts {
			if added[p.Name] {
				cr.Parts = append(cr.Parts, UnitResult{Name: p.Name, OK: true})
				continue
			}
			pr := UnitResult{Name: p.Name, OK: true}
			if err := e.addPart(ctx, cr.RequestID, p); err != nil {
				pr.OK = false
				pr.Error = err.Error()
				log.Warn("part failed", zap.String("content", c.Name), zap.String("part", p.Name), zap.Error(err))
			}
			cr.Parts = append(cr.Parts, pr)
			if err := e.pause(ctx, e.Booking.StepDelay); err != nil {
				return e.finish(res), err
			}
		}
	}

	if req.Mode == ModeAttach || req.Mode == ModeSend {
		for i, c := range rq.EventContents {
			cr := &res.Contents[i]
			eligible := c.Eligible()
			if cr.RequestID == "" || c.IsInternal() || len(eligible) == 0 {
				continue
			}
			refs := make([]booking.SupplierRef, 0, len(eligible))
			for _, s := range eligible {
				refs = append(refs, booking.SupplierRef{ID: string(s.ExternalID)})
			}
			var earlier ContentResult
			if p := prior[c.Name]; p.RequestID == cr.RequestID {
				earlier = p
			}
			called := false
			if earlier.Suppliers.done() {
				cr.Suppliers = earlier.Suppliers
			} else {
				cr.Suppliers = unit("suppliers", e.Backend.AddSuppliers(ctx, cr.RequestID, refs))
				called = true
			}
			if req.Mode == ModeSend && cr.Suppliers.OK {
				if earlier.Send.done() {
					cr.Send = earlier.Send
				} else {
					for j := range refs {
						refs[j].Send = true
					}
					cr.Send = unit("send", e.Backend.AddSuppliersAndSend(ctx, cr.RequestID, refs))
					called = true
				}
			}
			if !called {
				continue
			}
			if err := e.pause(ctx, e.Booking.StepDelay); err != nil {
				return e.finish(res), err
			}
		}
	}
	res = e.finish(res)
	log.Info("reconciliation finished", zap.String("status", string(res.Status)), zap.Strings("failures", res.Failures()))
	return res, nil
}

func (e *Engine) finish(res Result) Result {
	if len(res.Failures()) > 0 {
		res.Status = StatusPartialFailure
	}
	return res
}

// upsertContent writes the content and polls the event detail until the
// content exposes its request id.
func (e *Engine) upsertContent(ctx context.Context, eventID, name string) (string, error) {
	if err := e.Backend.UpsertContent(ctx, eventID, name, ""); err != nil {
		return "", err
	}
	attempts := e.Booking.PollAttempts
	if attempts <= 0 {
		attempts = 1
	}
	if err := e.pause(ctx, e.Booking.StepDelay); err != nil {
		return "", err
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := e.pause(ctx, e.Booking.PollInterval); err != nil {
				return "", err
			}
		}
		view, err := e.Backend.Event(ctx, eventID)
		if err != nil {
			lastErr = err
			continue
		}
		if c, ok := view.Content(name); ok {
			if id, ok := c.RequestID(); ok {
				return id, nil
			}
		}
		lastErr = ErrNotVisible
	}
	return "", fmt.Errorf("fetch request id for %s: %w", name, lastErr)
}

func (e *Engine) addPart(ctx context.Context, requestID string, p domain.Part) error {
	payload, err := PartPayload(p, e.location())
	if err != nil {
		return err
	}
	_, err = e.Backend.AddPart(ctx, requestID, payload)
	return err
}

func (e *Engine) createPayload(rq domain.Requirements, email string) (map[string]any, error) {
	loc := e.location()
	start, err := time.ParseInLocation(domain.DateLayout, rq.StartDate, loc)
	if err != nil {
		return nil, fmt.Errorf("start_date: %w", err)
	}
	end, err := time.ParseInLocation(domain.DateLayout, rq.EndDate, loc)
	if err != nil {
		return nil, fmt.Errorf("end_date: %w", err)
	}
	in := map[string]any{
		"template_id":             e.Booking.TemplateFor(rq.Days()),
		"start_ms":                start.UnixMilli(),
		"end_ms":                  end.UnixMilli(),
		"event_type":              rq.EventType,
		"participants":            strconv.Itoa(int(rq.Participants)),
		"country":                 e.Booking.Country,
		"location":                rq.Location,
		"additional_requirements": rq.AdditionalRequirements,
		"email":                   email,
		"escape_accommodation":    rq.OvernightGuests == "",
		"event_coach":             false,
		"other_dates":             false,
		"julbord":                 false,
		"onboarding":              false,
		"add_accommodation_parts": false,
	}
	return mapper.Project(in, mapper.EventCreateSpec), nil
}

// PartPayload builds the booking payload for a part. Timed parts carry
// their window as milliseconds since midnight plus the day itself.
func PartPayload(p domain.Part, loc *time.Location) (map[string]any, error) {
	in := map[string]any{
		"name":        p.Name,
		"timeless":    p.Timeless,
		"amount_type": string(p.AmountType),
		"amount":      p.Amount.Int(),
		"comment":     "",
	}
	if !p.Timeless {
		start, end, err := p.Window(loc)
		if err != nil {
			return nil, err
		}
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, end.Location())
		in["start_ms"] = start.Sub(day).Milliseconds()
		in["end_ms"] = end.Sub(endDay).Milliseconds()
		in["event_from_date"] = day.UnixMilli()
	}
	return mapper.Project(in, mapper.PartSpec), nil
}

func (e *Engine) location() *time.Location {
	if e.Location == nil {
		return time.Local
	}
	return e.Location
}

func (e *Engine) pause(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func unit(name string, err error) *UnitResult {
	if err != nil {
		return &UnitResult{Name: name, Error: err.Error()}
	}
	return &UnitResult{Name: name, OK: true}
}
