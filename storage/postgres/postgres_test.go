package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/budgetkeeper/storage"
	"github.com/jmcleod/budgetkeeper/storage/storagetest"
)

func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("BUDGETKEEPER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BUDGETKEEPER_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, dsn))
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	// Clean tables for test isolation.
	pool.Exec(ctx, "DELETE FROM users") //nolint:errcheck
	return NewStore(pool)
}

func TestPostgresStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.CredentialStore {
		return newTestStore(t)
	})
}

func TestPostgresMigrationsAreIdempotent(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, dsn))
	require.NoError(t, Migrate(ctx, dsn))

	version, err := SchemaVersion(ctx, dsn)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, version, int64(1))
}

func TestPostgresFindByIDRejectsMalformedID(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	_, err := s.FindByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
