package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventline/internal/actions"
	"eventline/internal/config"
	"eventline/internal/db"
	"eventline/internal/domain"
	"eventline/internal/events"
	"eventline/internal/oracle"
	"eventline/internal/reconcile"
	"eventline/internal/repo"
)

// Reconciler turns a supplier-augmented draft into remote booking state.
type Reconciler interface {
	ReconcileRun(ctx context.Context, runID string, req reconcile.Request) (reconcile.Result, bool, error)
}

type Engine struct {
	Session    *db.Session
	Events     events.Writer
	Oracle     oracle.Oracle
	Registry   *actions.Registry
	Reconciler Reconciler
	Config     *config.Config
	Logger     *zap.Logger
	Now        func() time.Time

	locks runLocks
}

func New(session *db.Session, cfg *config.Config, orc oracle.Oracle, reg *actions.Registry, rec Reconciler, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Session:    session,
		Events:     events.Writer{Now: time.Now},
		Oracle:     orc,
		Registry:   reg,
		Reconciler: rec,
		Config:     cfg,
		Logger:     logger,
		Now:        time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Store returns a repo bound to the current database handle.
func (e *Engine) Store(ctx context.Context) (repo.Repo, error) {
	conn, err := e.Session.Acquire(ctx)
	if err != nil {
		return repo.Repo{}, err
	}
	return repo.Repo{DB: conn}, nil
}

// CreateRun stores an empty document. A blank runID gets a generated one.
func (e *Engine) CreateRun(ctx context.Context, runID string) (*domain.Document, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		runID = uuid.NewString()
	}
	r, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}
	doc := domain.NewDocument(runID, e.timestamp())
	phase := string(Route(doc))

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := r.InsertRunTx(ctx, tx, doc, phase); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, events.RunCreated, runID, phase, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.logger().Info("run created", zap.String("run_id", runID))
	return doc, nil
}

func (e *Engine) GetRun(ctx context.Context, runID string) (*domain.Document, error) {
	r, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}
	return r.GetCheckpoint(ctx, runID)
}

type TurnResult struct {
	RunID     string   `json:"run_id"`
	Version   int64    `json:"version"`
	Phase     Phase    `json:"phase"`
	Next      Phase    `json:"next_phase"`
	Reply     string   `json:"reply"`
	Committed []string `json:"committed,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Turn feeds one user message into a run. Turns on the same run are
// serialized; the document is only written if nobody else moved it since it
// was read.
func (e *Engine) Turn(ctx context.Context, runID, message string) (TurnResult, error) {
	if strings.TrimSpace(message) == "" {
		return TurnResult{}, &domain.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	unlock := e.locks.lock(runID)
	defer unlock()

	log := e.logger().With(zap.String("run_id", runID))
	r, err := e.Store(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	stored, err := r.GetCheckpoint(ctx, runID)
	if err != nil {
		return TurnResult{}, err
	}
	base := stored.Version
	doc, err := stored.Clone()
	if err != nil {
		return TurnResult{}, err
	}
	doc.Append(domain.Turn{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   message,
		CreatedAt: e.timestamp(),
	})

	res := TurnResult{RunID: runID}
	for {
		phase := Route(doc)
		plog := log.With(zap.String("phase", string(phase)))
		out, err := e.runPhase(ctx, phases[phase], doc, plog)
		if err != nil {
			plog.Warn("turn aborted", zap.Error(err))
			return TurnResult{}, err
		}
		res.Phase = phase
		res.Reply = out.Reply
		if out.Warning != "" {
			res.Warnings = append(res.Warnings, out.Warning)
		}
		if !out.Committed {
			break
		}
		res.Committed = append(res.Committed, phase.Field())
		if !Advanced(phase, doc) {
			break
		}
	}
	res.Next = Route(doc)

	doc.Version = base + 1
	doc.UpdatedAt = e.timestamp()
	if err := e.persist(ctx, r, doc, base, res); err != nil {
		return TurnResult{}, err
	}
	res.Version = doc.Version
	log.Info("turn completed", zap.String("phase", string(res.Phase)), zap.Strings("committed", res.Committed), zap.Int64("version", doc.Version))
	return res, nil
}

func (e *Engine) persist(ctx context.Context, r repo.Repo, doc *domain.Document, base int64, res TurnResult) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := r.GetCheckpointTx(ctx, tx, doc.RunID)
	if err != nil {
		return err
	}
	if current.Version != base {
		return fmt.Errorf("%w: run %s is at version %d, turn started from %d", domain.ErrStaleTransition, doc.RunID, current.Version, base)
	}
	next := string(res.Next)
	if err := r.PutCheckpointTx(ctx, tx, doc, next); err != nil {
		return err
	}
	for _, field := range res.Committed {
		if err := e.Events.Append(ctx, tx, events.PhaseCommitted, doc.RunID, next, events.EventPayload{"field": field}); err != nil {
			return err
		}
	}
	if len(res.Committed) > 0 {
		if err := e.Events.Append(ctx, tx, events.LogCompacted, doc.RunID, next, events.EventPayload{"turns": len(doc.Conversation)}); err != nil {
			return err
		}
	}
	payload := events.EventPayload{"phase": string(res.Phase), "version": doc.Version}
	if len(res.Warnings) > 0 {
		payload["warnings"] = res.Warnings
	}
	if err := e.Events.Append(ctx, tx, events.TurnCompleted, doc.RunID, next, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// Reconcile pushes the run's supplier-augmented draft to the booking
// backend. Concurrent calls for the same run share one execution.
func (e *Engine) Reconcile(ctx context.Context, runID, email, mode string) (reconcile.Result, error) {
	if e.Reconciler == nil {
		return reconcile.Result{}, errors.New("reconcile: booking backend not configured")
	}
	m, err := reconcile.ParseMode(mode)
	if err != nil {
		return reconcile.Result{}, err
	}
	r, err := e.Store(ctx)
	if err != nil {
		return reconcile.Result{}, err
	}
	doc, err := r.GetCheckpoint(ctx, runID)
	if err != nil {
		return reconcile.Result{}, err
	}
	req, err := reconcile.FromDocument(doc, email, m)
	if err != nil {
		return reconcile.Result{}, err
	}
	if prev, ok := e.lastReconciliation(ctx, r, runID); ok {
		req.EventID = prev.EventID
		req.Previous = &prev
	}
	res, shared, err := e.Reconciler.ReconcileRun(ctx, runID, req)
	if !shared && res.EventID != "" {
		payload := events.EventPayload{"mode": string(m), "status": string(res.Status), "event_id": res.EventID, "result": res}
		if failures := res.Failures(); len(failures) > 0 {
			payload["failures"] = failures
		}
		// Recorded even when interrupted so the next call resumes this event.
		if err := e.Events.Append(context.WithoutCancel(ctx), r.DB, events.Reconciled, runID, string(Route(doc)), payload); err != nil {
			e.logger().Warn("record reconcile event", zap.String("run_id", runID), zap.Error(err))
		}
	}
	return res, err
}

// lastReconciliation returns the most recent recorded result for runID that
// got as far as creating the remote event.
func (e *Engine) lastReconciliation(ctx context.Context, r repo.Repo, runID string) (reconcile.Result, bool) {
	evs, err := r.LatestEvents(ctx, 1, runID, events.Reconciled)
	if err != nil || len(evs) == 0 {
		return reconcile.Result{}, false
	}
	var recorded struct {
		EventID string            `json:"event_id"`
		Result  *reconcile.Result `json:"result"`
	}
	if err := json.Unmarshal([]byte(evs[0].Payload), &recorded); err != nil {
		e.logger().Warn("decode reconcile event", zap.String("run_id", runID), zap.Error(err))
		return reconcile.Result{}, false
	}
	if recorded.Result != nil && recorded.Result.EventID != "" {
		return *recorded.Result, true
	}
	if recorded.EventID != "" {
		return reconcile.Result{EventID: recorded.EventID}, true
	}
	return reconcile.Result{}, false
}
