// Package sessiontest connects tests to a live PostgreSQL instance.
package sessiontest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// DSNEnv names the environment variable holding the connection string of a
// disposable database. Tests that need a server are skipped without it.
// Packages share the fixture table, so run them with `go test -p 1`.
const DSNEnv = "HEAPPROBE_TEST_DSN"

// Pool returns a pool connected to the test database, closed when t ends.
func Pool(t testing.TB) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("%s not set, skipping test against a live database", DSNEnv)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS pageinspect")
	require.NoError(t, err)
	return pool
}
