package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"eventline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanDocument(row *sql.Row) (*domain.Document, error) {
	var (
		version int64
		data    string
	)
	err := row.Scan(&version, &data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc domain.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	doc.Version = version
	return &doc, nil
}

// GetCheckpoint reads the current snapshot of a run.
func (r Repo) GetCheckpoint(ctx context.Context, runID string) (*domain.Document, error) {
	return getCheckpoint(ctx, r.DB, runID)
}

func (r Repo) GetCheckpointTx(ctx context.Context, tx *sql.Tx, runID string) (*domain.Document, error) {
	return getCheckpoint(ctx, tx, runID)
}

func getCheckpoint(ctx context.Context, q Querier, runID string) (*domain.Document, error) {
	return scanDocument(q.QueryRowContext(ctx, `SELECT version,document_json FROM runs WHERE id=?`, runID))
}

// InsertRun stores the first snapshot of a run.
func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, doc *domain.Document, phase string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO runs(id,version,phase,document_json,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		doc.RunID, doc.Version, phase, string(data), doc.CreatedAt, doc.UpdatedAt)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return fmt.Errorf("run %s: %w", doc.RunID, ErrExists)
	}
	return err
}

// PutCheckpoint replaces the snapshot of a run (last writer wins).
func (r Repo) PutCheckpoint(ctx context.Context, doc *domain.Document, phase string) error {
	return putCheckpoint(ctx, r.DB, doc, phase)
}

func (r Repo) PutCheckpointTx(ctx context.Context, tx *sql.Tx, doc *domain.Document, phase string) error {
	return putCheckpoint(ctx, tx, doc, phase)
}

func putCheckpoint(ctx context.Context, q Querier, doc *domain.Document, phase string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO runs(id,version,phase,document_json,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET version=excluded.version, phase=excluded.phase, document_json=excluded.document_json, updated_at=excluded.updated_at`,
		doc.RunID, doc.Version, phase, string(data), doc.CreatedAt, doc.UpdatedAt)
	return err
}

func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,version,phase,created_at,updated_at FROM runs ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RunSummary
	for rows.Next() {
		var s domain.RunSummary
		if err := rows.Scan(&s.ID, &s.Version, &s.Phase, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, runID, evtType string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, runID, evtType)
}

// LatestEventsFrom returns events older than cursor, newest first.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, runID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if runID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, runID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(run_id,''),COALESCE(phase,''),payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	return r.queryEvents(ctx, query, append(args, limit)...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, runID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if runID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, runID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(run_id,''),COALESCE(phase,''),payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	return r.queryEvents(ctx, query, append(args, limit)...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &e.Phase, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
