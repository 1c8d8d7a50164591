package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/worldloom/loom/pkg/models"
)

// appendRetries bounds how often a lost seq race is retried before the
// append surfaces Conflict.
const appendRetries = 3

var messageColumns = []string{
	"message_id", "session_id", "branch_id", "seq", "role", "content",
	"time_jump_label", "report_snapshot", "is_user_edited", "edited_at",
	"model_provider", "model_name", "token_in", "token_out",
	"gen_duration_ms", "created_at",
}

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	var (
		msg      models.Message
		snapshot stdsql.NullString
		editedAt stdsql.NullTime
	)
	err := row.Scan(
		&msg.ID, &msg.SessionID, &msg.BranchID, &msg.Seq, &msg.Role, &msg.Content,
		&msg.TimeJumpLabel, &snapshot, &msg.IsUserEdited, &editedAt,
		&msg.ProviderName, &msg.ModelName, &msg.TokenIn, &msg.TokenOut,
		&msg.GenDurationMS, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if snapshot.Valid && snapshot.String != "" {
		msg.ReportSnapshot = json.RawMessage(snapshot.String)
	}
	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}
	return &msg, nil
}

func collectMessages(rows *stdsql.Rows) ([]*models.Message, error) {
	defer rows.Close()
	var msgs []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func snapshotValue(snapshot json.RawMessage) any {
	if len(snapshot) == 0 {
		return nil
	}
	return string(snapshot)
}

func (s *Store) insertMessageTx(ctx context.Context, tx *stdsql.Tx, msg *models.Message) error {
	var editedAt any
	if msg.EditedAt != nil {
		editedAt = *msg.EditedAt
	}
	query, args := s.builder().
		Insert("timeline_messages").
		Columns(messageColumns...).
		Values(
			msg.ID, msg.SessionID, msg.BranchID, msg.Seq, msg.Role, msg.Content,
			msg.TimeJumpLabel, snapshotValue(msg.ReportSnapshot), msg.IsUserEdited, editedAt,
			msg.ProviderName, msg.ModelName, msg.TokenIn, msg.TokenOut,
			msg.GenDurationMS, msg.CreatedAt,
		).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// maxSeqTx returns the branch's highest seq, 0 for an empty branch.
func (s *Store) maxSeqTx(ctx context.Context, tx *stdsql.Tx, branchID string) (int, error) {
	query, args := s.builder().
		Select("COALESCE(MAX(seq), 0)").
		From(entsql.Table("timeline_messages")).
		Where(entsql.EQ("branch_id", branchID)).
		Query()

	var maxSeq int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return maxSeq, nil
}

// AppendMessage assigns the next dense seq under the branch row lock and
// inserts. A lost race against a concurrent append shows up as a unique
// violation on (branch_id, seq) and is retried a bounded number of times
// before surfacing Conflict.
func (s *Store) AppendMessage(ctx context.Context, params models.AppendMessageParams) (*models.Message, error) {
	return s.appendWithRetry(ctx, params, nil)
}

func (s *Store) appendWithRetry(ctx context.Context, params models.AppendMessageParams, consumeIDs []string) (*models.Message, error) {
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		msg, err := s.appendOnce(ctx, params, consumeIDs)
		if err == nil {
			return msg, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("append lost seq race %d times: %v: %w", appendRetries, lastErr, ErrConflict)
}

func (s *Store) appendOnce(ctx context.Context, params models.AppendMessageParams, consumeIDs []string) (*models.Message, error) {
	msg := &models.Message{
		ID:             uuid.New().String(),
		SessionID:      params.SessionID,
		BranchID:       params.BranchID,
		Role:           params.Role,
		Content:        params.Content,
		TimeJumpLabel:  params.TimeJumpLabel,
		ReportSnapshot: params.ReportSnapshot,
		ProviderName:   params.ProviderName,
		ModelName:      params.ModelName,
		TokenIn:        params.TokenIn,
		TokenOut:       params.TokenOut,
		GenDurationMS:  params.GenDurationMS,
		CreatedAt:      s.now(),
	}
	err := s.withTx(ctx, func(tx *stdsql.Tx) error {
		if err := s.lockBranchRow(ctx, tx, params.BranchID); err != nil {
			return err
		}
		maxSeq, err := s.maxSeqTx(ctx, tx, params.BranchID)
		if err != nil {
			return err
		}
		msg.Seq = maxSeq + 1
		if err := s.insertMessageTx(ctx, tx, msg); err != nil {
			return err
		}
		return s.markInterventionsConsumedTx(ctx, tx, consumeIDs)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the most recent limit messages of a branch in
// ascending seq order, plus the branch's total message count.
func (s *Store) ListMessages(ctx context.Context, branchID string, limit int) ([]*models.Message, int, error) {
	query, args := s.builder().
		Select(messageColumns...).
		From(entsql.Table("timeline_messages")).
		Where(entsql.EQ("branch_id", branchID)).
		OrderBy(entsql.Desc("seq")).
		Limit(limit).
		Query()

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	// Newest-first page flipped back to timeline order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	countQuery, countArgs := s.builder().
		Select(entsql.Count("*")).
		From(entsql.Table("timeline_messages")).
		Where(entsql.EQ("branch_id", branchID)).
		Query()

	var total int
	if err := s.client.DB().QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	return msgs, total, nil
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	query, args := s.builder().
		Select(messageColumns...).
		From(entsql.Table("timeline_messages")).
		Where(entsql.EQ("message_id", messageID)).
		Query()

	msg, err := scanMessage(s.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// DeleteLastMessage removes the branch's highest-seq message and returns
// it so callers can invalidate memory and notify subscribers. Returns
// (nil, nil) when the branch is empty. Surfaces Busy when a concurrent
// writer holds the branch lock.
func (s *Store) DeleteLastMessage(ctx context.Context, branchID string) (*models.Message, error) {
	var deleted *models.Message
	err := s.withTx(ctx, func(tx *stdsql.Tx) error {
		if err := s.lockBranchRowNoWait(ctx, tx, branchID); err != nil {
			return err
		}

		query, args := s.builder().
			Select(messageColumns...).
			From(entsql.Table("timeline_messages")).
			Where(entsql.EQ("branch_id", branchID)).
			OrderBy(entsql.Desc("seq")).
			Limit(1).
			Query()

		msg, err := scanMessage(tx.QueryRowContext(ctx, query, args...))
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find last message: %w", err)
		}

		query, args = s.builder().
			Delete("timeline_messages").
			Where(entsql.EQ("message_id", msg.ID)).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete last message: %w", err)
		}
		deleted = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// lockBranchRowNoWait is the delete-side counterpart of lockBranchRow: it
// refuses to queue behind an in-flight append and surfaces Busy instead,
// so the caller can tell the user to pause first.
func (s *Store) lockBranchRowNoWait(ctx context.Context, tx *stdsql.Tx, branchID string) error {
	sel := s.builder().
		Select("branch_id").
		From(entsql.Table("branches")).
		Where(entsql.EQ("branch_id", branchID))
	if s.postgres() {
		sel.ForUpdate(entsql.WithLockAction(entsql.NoWait))
	}
	query, args := sel.Query()

	var id string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return fmt.Errorf("branch %s: %w", branchID, ErrNotFound)
		}
		if isLockContention(err) {
			return fmt.Errorf("branch %s has a writer in flight: %w", branchID, ErrBusy)
		}
		return fmt.Errorf("lock branch row: %w", err)
	}
	return nil
}

// pgLockNotAvailable is the PostgreSQL error code returned by NOWAIT when
// the row lock is already held.
const pgLockNotAvailable = "55P03"

func isLockContention(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailable
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// EditMessage replaces content and snapshot in place, marking the row as
// user-edited. Seq never changes; a nil snapshot clears the stored one.
func (s *Store) EditMessage(ctx context.Context, messageID, content string, snapshot json.RawMessage) (*models.Message, error) {
	upd := s.builder().
		Update("timeline_messages").
		Set("content", content).
		Set("is_user_edited", true).
		Set("edited_at", s.now())
	if len(snapshot) == 0 {
		upd.SetNull("report_snapshot")
	} else {
		upd.Set("report_snapshot", string(snapshot))
	}
	query, args := upd.Where(entsql.EQ("message_id", messageID)).Query()

	res, err := s.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return s.GetMessage(ctx, messageID)
}
