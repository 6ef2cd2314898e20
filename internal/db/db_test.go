package db_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventline/internal/db"
)

func TestSessionReopensClosedHandle(t *testing.T) {
	ctx := context.Background()
	cfg := db.Config{Workspace: t.TempDir()}
	opens := 0
	s := db.NewSessionWith(nil, cfg, func(c db.Config) (*sql.DB, error) {
		opens++
		return db.Open(c)
	})
	defer s.Close()

	first, err := s.Acquire(ctx)
	require.NoError(t, err)
	again, err := s.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, opens)

	require.NoError(t, first.Close())
	reopened, err := s.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, reopened)
	assert.Equal(t, 2, opens)
	assert.NoError(t, reopened.PingContext(ctx))
}
