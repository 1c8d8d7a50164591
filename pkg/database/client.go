// Package database provides the SQL client, migrations, and health checks.
// Two dialects are supported: SQLite for single-binary deployments (the
// default) and PostgreSQL when DB_URL carries a postgres scheme.
package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
	_ "github.com/mattn/go-sqlite3"    // Register sqlite3 driver for database/sql
)

// Client wraps the database handle together with its resolved dialect.
// Query builders pick placeholder style from Dialect().
type Client struct {
	db      *stdsql.DB
	drv     *entsql.Driver
	dialect string
}

// DB returns the underlying database connection for health checks and raw queries.
func (c *Client) DB() *stdsql.DB {
	return c.db
}

// Driver returns the dialect-aware driver.
func (c *Client) Driver() *entsql.Driver {
	return c.drv
}

// Dialect returns dialect.SQLite or dialect.Postgres.
func (c *Client) Dialect() string {
	return c.dialect
}

// Builder returns a query builder bound to the client's dialect, so the
// same store code renders ? placeholders on SQLite and $n on Postgres.
func (c *Client) Builder() *entsql.DialectBuilder {
	return entsql.Dialect(c.dialect)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// NewClientFromDB wraps an existing connection (useful for testing).
func NewClientFromDB(db *stdsql.DB, dialectName string) *Client {
	return &Client{
		db:      db,
		drv:     entsql.OpenDB(dialectName, db),
		dialect: dialectName,
	}
}

// NewClient opens the database named by cfg.URL, configures pooling,
// verifies connectivity, and applies pending migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	driverName, dsn, dialectName, err := resolveURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := stdsql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialectName == dialect.SQLite {
		// SQLite serializes writers; a small pool avoids busy churn.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, dialectName); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{
		db:      db,
		drv:     entsql.OpenDB(dialectName, db),
		dialect: dialectName,
	}, nil
}

// resolveURL maps a DB_URL into a database/sql driver name, its DSN, and
// the matching dialect. Supported schemes: sqlite, postgres, postgresql.
func resolveURL(rawURL string) (driverName, dsn, dialectName string, err error) {
	switch {
	case strings.HasPrefix(rawURL, "sqlite://"):
		path := strings.TrimPrefix(rawURL, "sqlite://")
		if path == "" {
			return "", "", "", fmt.Errorf("sqlite DB_URL has no path: %q", rawURL)
		}
		if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, ":memory:") {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return "", "", "", fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		// _txlock=immediate takes the write lock at BEGIN so concurrent
		// writers queue instead of failing mid-transaction.
		dsn = fmt.Sprintf("file:%s?_fk=1&_txlock=immediate&_busy_timeout=5000", path)
		return "sqlite3", dsn, dialect.SQLite, nil

	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		if _, err := url.Parse(rawURL); err != nil {
			return "", "", "", fmt.Errorf("invalid postgres DB_URL: %w", err)
		}
		return "pgx", rawURL, dialect.Postgres, nil

	default:
		return "", "", "", fmt.Errorf("unsupported DB_URL scheme: %q", rawURL)
	}
}
