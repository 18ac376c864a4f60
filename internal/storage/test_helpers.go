package storage

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestConn wraps a pooled connection for use in integration tests.
type TestConn struct {
	Conn *pgxpool.Conn
}

// SetupTestDB initializes a database connection for integration tests
// and runs migrations. Requires DARKAUTH_TEST_DATABASE_URL; tests are
// skipped if it is unset, so this package's unit tests still run
// without a live Postgres instance.
func SetupTestDB(t *testing.T) (*TestConn, func()) {
	t.Helper()

	url := os.Getenv("DARKAUTH_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DARKAUTH_TEST_DATABASE_URL not set - skipping integration test")
	}

	ctx := context.Background()

	if DB == nil {
		if err := InitDB(ctx, url); err != nil {
			t.Fatalf("SetupTestDB: failed to initialize database: %v", err)
		}
		if err := RunMigrations(ctx); err != nil {
			t.Fatalf("SetupTestDB: failed to run migrations: %v", err)
		}
	}

	conn, err := DB.Acquire(ctx)
	if err != nil {
		t.Fatalf("SetupTestDB: failed to acquire connection: %v", err)
	}

	cleanup := func() {
		conn.Release()
	}

	return &TestConn{Conn: conn}, cleanup
}
