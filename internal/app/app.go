package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"eventline/internal/actions"
	"eventline/internal/booking"
	"eventline/internal/config"
	"eventline/internal/db"
	"eventline/internal/domain"
	"eventline/internal/engine"
	"eventline/internal/events"
	"eventline/internal/migrate"
	"eventline/internal/oracle"
	"eventline/internal/reconcile"
	"eventline/internal/repo"
)

// App holds the wired components for one workspace.
type App struct {
	Workspace string
	Config    *config.Config
	Logger    *zap.Logger
	Session   *db.Session
	Booking   *booking.Client
	Reconcile *reconcile.Engine
	Registry  *actions.Registry
	Engine    *engine.Engine
}

// ResolveConfig loads path when given, otherwise eventline.yml from the
// workspace, otherwise defaults.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	return config.Load(workspace)
}

// Open prepares the workspace database and wires the engine. The oracle is
// only built on first use so read-only commands work without credentials.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	dbCfg := db.Config{Workspace: workspace}
	session := db.NewSession(dbCfg)
	conn, err := session.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		session.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	client := booking.New(cfg.Booking, logger.Named("booking"))
	rec := reconcile.New(client, cfg.Booking, logger.Named("reconcile"))
	reg := actions.NewRegistry()
	deps := actions.Deps{
		Booking:    client,
		Reconciler: rec,
		Catalog:    catalog{session: session},
		Allowed:    cfg.Catalog.Allowed,
		Location:   time.Local,
		Logger:     logger.Named("actions"),
	}
	if err := actions.Register(reg, deps); err != nil {
		session.Close()
		return nil, err
	}
	orc := &lazyOracle{cfg: cfg.Oracle, logger: logger.Named("oracle")}
	eng := engine.New(session, cfg, orc, reg, rec, logger.Named("engine"))

	return &App{
		Workspace: workspace,
		Config:    cfg,
		Logger:    logger,
		Session:   session,
		Booking:   client,
		Reconcile: rec,
		Registry:  reg,
		Engine:    eng,
	}, nil
}

func (a *App) Close() error {
	return a.Session.Close()
}

// Repo returns a repo on the live database handle.
func (a *App) Repo(ctx context.Context) (repo.Repo, error) {
	return a.Engine.Store(ctx)
}

// ImportCatalog replaces the supplier category catalog.
func (a *App) ImportCatalog(ctx context.Context, cats []domain.Category) error {
	r, err := a.Repo(ctx)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.ReplaceCategoriesTx(ctx, tx, cats); err != nil {
		return err
	}
	if err := a.Engine.Events.Append(ctx, tx, events.CatalogImported, "", "", events.EventPayload{"categories": len(cats)}); err != nil {
		return err
	}
	return tx.Commit()
}

// catalog resolves the database handle per call so a reopened session is
// picked up.
type catalog struct {
	session *db.Session
}

func (c catalog) MatchCategories(ctx context.Context, name string, allowed []string) ([]int64, error) {
	conn, err := c.session.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return repo.Repo{DB: conn}.MatchCategories(ctx, name, allowed)
}

type lazyOracle struct {
	cfg    config.Oracle
	logger *zap.Logger

	mu  sync.Mutex
	orc oracle.Oracle
}

func (l *lazyOracle) Invoke(ctx context.Context, req oracle.Request) (oracle.Response, error) {
	l.mu.Lock()
	if l.orc == nil {
		orc, err := oracle.New(ctx, l.cfg, l.logger)
		if err != nil {
			l.mu.Unlock()
			return oracle.Response{}, err
		}
		l.orc = orc
	}
	orc := l.orc
	l.mu.Unlock()
	return orc.Invoke(ctx, req)
}
