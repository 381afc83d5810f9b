package postgres

import (
	"context"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schemaDir holds the same files the migrations package embeds. They are read
// from disk because migrations imports this package.
const schemaDir = "../migrations/postgres"

// setupTestDB starts a PostgreSQL container with the engine schema applied.
// The returned cleanup closes the pool and terminates the container.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("engine"),
		postgres.WithUsername("engine"),
		postgres.WithPassword("engine"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "create pool")

	applySchema(ctx, t, pool)

	return pool, func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}
}

func applySchema(ctx context.Context, t *testing.T, pool *Pool) {
	t.Helper()

	// Glob returns matches in lexical order, which is migration order.
	files, err := fs.Glob(os.DirFS(schemaDir), "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files, "no schema files under %s", schemaDir)

	for _, name := range files {
		sql, err := fs.ReadFile(os.DirFS(schemaDir), name)
		require.NoError(t, err, "read %s", name)

		_, err = pool.Exec(ctx, string(sql))
		require.NoError(t, err, "apply %s", name)
	}
}
