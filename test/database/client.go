// Package database provides shared database helpers for store and service
// tests.
package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/worldloom/loom/pkg/database"
)

// NewTestClient opens a throwaway database and applies migrations.
// By default each test gets a private SQLite file under t.TempDir().
// Set TEST_DATABASE_URL to a postgres URL to run the same tests against
// PostgreSQL; each test then works in its own schema.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()

	if base := os.Getenv("TEST_DATABASE_URL"); base != "" {
		return newPostgresTestClient(t, base)
	}

	url := "sqlite://" + filepath.Join(t.TempDir(), "test.db")
	client, err := database.NewClient(context.Background(), database.Config{URL: url})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

// newPostgresTestClient creates a dedicated schema on the shared server,
// points the client at it via search_path, and drops it on cleanup.
func newPostgresTestClient(t *testing.T, baseURL string) *database.Client {
	t.Helper()
	ctx := context.Background()

	schema := generateSchemaName(t)

	admin, err := stdsql.Open("pgx", baseURL)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)
	_ = admin.Close()

	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	url := baseURL + sep + "search_path=" + schema

	client, err := database.NewClient(ctx, database.Config{
		URL:          url,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		cleanDB, err := stdsql.Open("pgx", baseURL)
		if err != nil {
			t.Logf("warning: could not connect to drop schema %s: %v", schema, err)
			return
		}
		defer func() { _ = cleanDB.Close() }()
		if _, err := cleanDB.ExecContext(context.Background(),
			fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})
	return client
}

// generateSchemaName derives a unique, postgres-safe schema name from the
// test name.
func generateSchemaName(t *testing.T) string {
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, name)
	if len(name) > 30 {
		name = name[:30]
	}
	return fmt.Sprintf("loom_%s_%d", name, time.Now().UnixNano()%1_000_000)
}
