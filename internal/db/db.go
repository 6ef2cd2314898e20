package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

const defaultDBName = "eventline.db"

type Config struct {
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".eventline", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".eventline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Session owns a database handle for its caller. Acquire checks the
// handle and reopens it when the check fails.
type Session struct {
	cfg    Config
	opener func(Config) (*sql.DB, error)

	mu   sync.Mutex
	conn *sql.DB
}

func NewSession(cfg Config) *Session {
	return &Session{cfg: cfg, opener: Open}
}

// NewSessionWith wraps an already-open handle; reconnects use opener.
func NewSessionWith(conn *sql.DB, cfg Config, opener func(Config) (*sql.DB, error)) *Session {
	if opener == nil {
		opener = Open
	}
	return &Session{cfg: cfg, opener: opener, conn: conn}
}

// Acquire returns a live handle, opening or reopening as needed.
func (s *Session) Acquire(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		if err := s.conn.PingContext(ctx); err == nil {
			return s.conn, nil
		}
		_ = s.conn.Close()
		s.conn = nil
	}
	conn, err := s.opener(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s.conn = conn
	return conn, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
