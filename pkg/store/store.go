// Package store implements the narrow transactional operations the
// services and the runner build on. Every mutating operation runs inside
// a single transaction; readers are plain queries. SQL is rendered through
// the dialect-aware builder so the same code serves SQLite and PostgreSQL.
package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/worldloom/loom/pkg/crypto"
	"github.com/worldloom/loom/pkg/database"
)

// Store carries the database client, the key-sealing cipher, and the
// clock. Tests may pin the clock.
type Store struct {
	client *database.Client
	cipher *crypto.Cipher
	now    func() time.Time
}

// New creates a store on top of an opened database client. The cipher
// seals provider API keys before they touch a row.
func New(client *database.Client, cipher *crypto.Cipher) *Store {
	return &Store{
		client: client,
		cipher: cipher,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the store clock. Test helper.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// builder returns a query builder bound to the client's dialect.
func (s *Store) builder() *entsql.DialectBuilder {
	return s.client.Builder()
}

// postgres reports whether row-level lock clauses are available.
func (s *Store) postgres() bool {
	return s.client.Dialect() == dialect.Postgres
}

// withTx runs fn inside a transaction and commits, rolling back when fn
// returns an error.
func (s *Store) withTx(ctx context.Context, fn func(tx *stdsql.Tx) error) error {
	tx, err := s.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, stdsql.ErrTxDone) {
			slog.Error("Transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// lockBranchRow takes the branch row lock that serializes appends and
// deletes on one branch. On SQLite the immediate write transaction already
// serializes writers, so the SELECT only confirms the branch exists.
func (s *Store) lockBranchRow(ctx context.Context, tx *stdsql.Tx, branchID string) error {
	sel := s.builder().
		Select("branch_id").
		From(entsql.Table("branches")).
		Where(entsql.EQ("branch_id", branchID))
	if s.postgres() {
		sel.ForUpdate()
	}
	query, args := sel.Query()

	var id string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return fmt.Errorf("branch %s: %w", branchID, ErrNotFound)
		}
		return fmt.Errorf("lock branch row: %w", err)
	}
	return nil
}
