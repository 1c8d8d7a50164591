package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/worldloom/loom/pkg/models"
)

var sessionColumns = []string{
	"session_id", "title", "world_preset", "running", "tick_label",
	"post_gen_delay_sec", "active_branch_id", "output_language",
	"timeline_start_iso", "timeline_step_value", "timeline_step_unit",
	"created_at", "updated_at",
}

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var sess models.Session
	err := row.Scan(
		&sess.ID, &sess.Title, &sess.WorldPreset, &sess.Running, &sess.TickLabel,
		&sess.PostGenDelaySec, &sess.ActiveBranchID, &sess.OutputLanguage,
		&sess.TimelineStartISO, &sess.TimelineStepValue, &sess.TimelineStepUnit,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateSession inserts the session together with its main branch in one
// transaction. The session's ActiveBranchID must already point at branch.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session, branch *models.Branch) error {
	now := s.now()
	sess.CreatedAt, sess.UpdatedAt = now, now
	branch.CreatedAt = now

	return s.withTx(ctx, func(tx *stdsql.Tx) error {
		query, args := s.builder().
			Insert("world_sessions").
			Columns(sessionColumns...).
			Values(
				sess.ID, sess.Title, sess.WorldPreset, sess.Running, sess.TickLabel,
				sess.PostGenDelaySec, sess.ActiveBranchID, sess.OutputLanguage,
				sess.TimelineStartISO, sess.TimelineStepValue, sess.TimelineStepUnit,
				sess.CreatedAt, sess.UpdatedAt,
			).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return s.insertBranchTx(ctx, tx, branch)
	})
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	query, args := s.builder().
		Select(sessionColumns...).
		From(entsql.Table("world_sessions")).
		Where(entsql.EQ("session_id", sessionID)).
		Query()

	sess, err := scanSession(s.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns up to limit sessions, most recently touched first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*models.SessionHistoryItem, error) {
	query, args := s.builder().
		Select("session_id", "title", "active_branch_id", "running", "created_at", "updated_at").
		From(entsql.Table("world_sessions")).
		OrderBy(entsql.Desc("updated_at")).
		Limit(limit).
		Query()

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	items := make([]*models.SessionHistoryItem, 0, limit)
	for rows.Next() {
		var it models.SessionHistoryItem
		if err := rows.Scan(&it.SessionID, &it.Title, &it.ActiveBranchID,
			&it.Running, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// UpdateSessionSettings applies the non-nil fields of patch and returns the
// updated session.
func (s *Store) UpdateSessionSettings(ctx context.Context, sessionID string, patch models.SessionSettingsPatch) (*models.Session, error) {
	upd := s.builder().Update("world_sessions")
	if patch.Title != nil {
		upd.Set("title", *patch.Title)
	}
	if patch.TickLabel != nil {
		upd.Set("tick_label", *patch.TickLabel)
	}
	if patch.PostGenDelaySec != nil {
		upd.Set("post_gen_delay_sec", *patch.PostGenDelaySec)
	}
	if patch.OutputLanguage != nil {
		upd.Set("output_language", *patch.OutputLanguage)
	}
	if patch.TimelineStartISO != nil {
		upd.Set("timeline_start_iso", *patch.TimelineStartISO)
	}
	if patch.TimelineStepValue != nil {
		upd.Set("timeline_step_value", *patch.TimelineStepValue)
	}
	if patch.TimelineStepUnit != nil {
		upd.Set("timeline_step_unit", *patch.TimelineStepUnit)
	}
	upd.Set("updated_at", s.now()).Where(entsql.EQ("session_id", sessionID))

	query, args := upd.Query()
	res, err := s.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update session settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return s.GetSession(ctx, sessionID)
}

// SetRunning flips the persistent running flag.
func (s *Store) SetRunning(ctx context.Context, sessionID string, running bool) error {
	query, args := s.builder().
		Update("world_sessions").
		Set("running", running).
		Set("updated_at", s.now()).
		Where(entsql.EQ("session_id", sessionID)).
		Query()

	res, err := s.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// SetActiveBranch points the session at branchID after confirming the
// branch belongs to it and has not been archived.
func (s *Store) SetActiveBranch(ctx context.Context, sessionID, branchID string) error {
	return s.withTx(ctx, func(tx *stdsql.Tx) error {
		query, args := s.builder().
			Select("session_id", "is_archived").
			From(entsql.Table("branches")).
			Where(entsql.EQ("branch_id", branchID)).
			Query()

		var (
			owner    string
			archived bool
		)
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&owner, &archived); err != nil {
			if errors.Is(err, stdsql.ErrNoRows) {
				return fmt.Errorf("branch %s: %w", branchID, ErrNotFound)
			}
			return fmt.Errorf("load branch owner: %w", err)
		}
		if owner != sessionID {
			return fmt.Errorf("branch %s does not belong to session %s: %w",
				branchID, sessionID, ErrNotFound)
		}
		if archived {
			return fmt.Errorf("branch %s is archived: %w", branchID, ErrConflict)
		}

		query, args = s.builder().
			Update("world_sessions").
			Set("active_branch_id", branchID).
			Set("updated_at", s.now()).
			Where(entsql.EQ("session_id", sessionID)).
			Query()

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("set active branch: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil
	})
}

// ResetRunningFlags clears stale running flags at startup so sessions left
// running by an unclean shutdown come back paused.
func (s *Store) ResetRunningFlags(ctx context.Context) (int64, error) {
	query, args := s.builder().
		Update("world_sessions").
		Set("running", false).
		Where(entsql.EQ("running", true)).
		Query()

	res, err := s.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset running flags: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
