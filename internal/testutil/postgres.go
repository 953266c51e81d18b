// Package testutil provides shared testing utilities for the firsthand
// project: a Postgres test container helper and an SSE event parser.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/firsthand-ai/firsthand/db"
)

// SetupPostgres starts a pgvector-enabled PostgreSQL container, runs the
// embedded migrations and returns a ready connection pool. The container and
// pool are cleaned up via t.Cleanup.
//
// Tests calling this are skipped when Docker is unavailable (or when
// TESTUTIL_SKIP_DOCKER is set), so the unit suite stays runnable everywhere.
func SetupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TESTUTIL_SKIP_DOCKER") != "" {
		t.Skip("skipping container test: TESTUTIL_SKIP_DOCKER set")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("firsthand_test"),
		postgres.WithUsername("firsthand_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("skipping container test: failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	if err := db.Migrate(connStr); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return pool
}
