package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	RunCreated      = "run.created"
	TurnCompleted   = "turn.completed"
	PhaseCommitted  = "phase.committed"
	LogCompacted    = "log.compacted"
	Reconciled      = "run.reconciled"
	CatalogImported = "catalog.imported"
)

// Execer is satisfied by *sql.Tx and *sql.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, ex Execer, evtType, runID, phase string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,run_id,phase,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(runID), nullable(phase), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
