package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"eventline/internal/app"
	eventlinesdk "eventline/sdk/go"
)

// backend is what the run-facing commands need. *eventlinesdk.Client
// satisfies it for --server; local adapts the workspace engine.
type backend interface {
	CreateRun(ctx context.Context, id string) (eventlinesdk.Run, error)
	GetRun(ctx context.Context, runID string) (eventlinesdk.Run, error)
	ListRuns(ctx context.Context, limit int) ([]eventlinesdk.RunSummary, error)
	SendTurn(ctx context.Context, runID, message string) (eventlinesdk.TurnResult, error)
	Reconcile(ctx context.Context, runID, email, mode string) (eventlinesdk.ReconcileResult, error)
	EventsPage(ctx context.Context, runID string, limit int, cursor string) (eventlinesdk.PaginatedEvents, error)
	EventsAfter(ctx context.Context, runID string, after int64, limit int) ([]eventlinesdk.Event, error)
}

var _ backend = (*eventlinesdk.Client)(nil)

type local struct {
	app *app.App
}

// recast moves a value into the API shape through its JSON form, which is
// the same encoding the server would send.
func recast[T any](in any, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	b, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}

func (l local) CreateRun(ctx context.Context, id string) (eventlinesdk.Run, error) {
	doc, err := l.app.Engine.CreateRun(ctx, id)
	return recast[eventlinesdk.Run](doc, err)
}

func (l local) GetRun(ctx context.Context, runID string) (eventlinesdk.Run, error) {
	doc, err := l.app.Engine.GetRun(ctx, runID)
	return recast[eventlinesdk.Run](doc, err)
}

func (l local) ListRuns(ctx context.Context, limit int) ([]eventlinesdk.RunSummary, error) {
	r, err := l.app.Repo(ctx)
	if err != nil {
		return nil, err
	}
	items, err := r.ListRuns(ctx, limit)
	return recast[[]eventlinesdk.RunSummary](items, err)
}

func (l local) SendTurn(ctx context.Context, runID, message string) (eventlinesdk.TurnResult, error) {
	res, err := l.app.Engine.Turn(ctx, runID, message)
	if err != nil {
		return eventlinesdk.TurnResult{}, err
	}
	return eventlinesdk.TurnResult{
		RunID:     res.RunID,
		Version:   res.Version,
		Phase:     string(res.Phase),
		NextPhase: string(res.Next),
		Reply:     res.Reply,
		Committed: res.Committed,
		Warnings:  res.Warnings,
	}, nil
}

func (l local) Reconcile(ctx context.Context, runID, email, mode string) (eventlinesdk.ReconcileResult, error) {
	res, err := l.app.Engine.Reconcile(ctx, runID, email, mode)
	return recast[eventlinesdk.ReconcileResult](res, err)
}

func (l local) EventsPage(ctx context.Context, runID string, limit int, cursor string) (eventlinesdk.PaginatedEvents, error) {
	if limit <= 0 {
		limit = 50
	}
	var before int64
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return eventlinesdk.PaginatedEvents{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		before = n
	}
	r, err := l.app.Repo(ctx)
	if err != nil {
		return eventlinesdk.PaginatedEvents{}, err
	}
	items, err := r.LatestEventsFrom(ctx, limit+1, before, runID, "")
	if err != nil {
		return eventlinesdk.PaginatedEvents{}, err
	}
	var page eventlinesdk.PaginatedEvents
	if len(items) > limit {
		page.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		items = items[:limit]
	}
	page.Items, err = toEvents(items)
	return page, err
}

func (l local) EventsAfter(ctx context.Context, runID string, after int64, limit int) ([]eventlinesdk.Event, error) {
	r, err := l.app.Repo(ctx)
	if err != nil {
		return nil, err
	}
	items, err := r.EventsAfter(ctx, limit, after, runID)
	if err != nil {
		return nil, err
	}
	return toEvents(items)
}
