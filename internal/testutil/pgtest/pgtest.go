// Package pgtest connects integration tests to the database named by the
// TEST_DATABASE environment variable.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

const EnvDatabase = "TEST_DATABASE"

// SkipIfNoDatabase skips t when TEST_DATABASE is unset.
func SkipIfNoDatabase(t testing.TB) {
	t.Helper()
	if os.Getenv(EnvDatabase) == "" {
		t.Skipf("%s not set", EnvDatabase)
	}
}

// Connect creates a new database connection for testing
func Connect(ctx context.Context, t testing.TB) *pgx.Conn {
	conn, err := pgx.ConnectConfig(ctx, ParseConfig(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		Close(t, conn)
	})

	return conn
}

// Close safely closes a database connection
func Close(t testing.TB, conn *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Close(ctx))
}

// ParseConfig returns a test connection config that logs server notices
func ParseConfig(t testing.TB) *pgx.ConnConfig {
	config, err := pgx.ParseConfig(os.Getenv(EnvDatabase))
	require.NoError(t, err)

	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}

	return config
}

// ConnString returns TEST_DATABASE, skipping t when it is unset.
func ConnString(t testing.TB) string {
	t.Helper()
	SkipIfNoDatabase(t)
	return os.Getenv(EnvDatabase)
}

// DropTables removes tables left behind by an earlier run.
func DropTables(ctx context.Context, t testing.TB, conn *pgx.Conn, tables ...string) {
	t.Helper()
	for _, table := range tables {
		_, err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{table}.Sanitize())
		require.NoError(t, err)
	}
}
