package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/worldloom/loom/pkg/models"
)

var interventionColumns = []string{
	"intervention_id", "session_id", "branch_id", "content",
	"status", "consumed_at", "created_at",
}

func scanIntervention(row interface{ Scan(...any) error }) (*models.Intervention, error) {
	var (
		iv         models.Intervention
		consumedAt stdsql.NullTime
	)
	err := row.Scan(&iv.ID, &iv.SessionID, &iv.BranchID, &iv.Content,
		&iv.Status, &consumedAt, &iv.CreatedAt)
	if err != nil {
		return nil, err
	}
	if consumedAt.Valid {
		t := consumedAt.Time
		iv.ConsumedAt = &t
	}
	return &iv, nil
}

// AddIntervention enqueues a pending directive against a branch.
func (s *Store) AddIntervention(ctx context.Context, sessionID, branchID, content string) (*models.Intervention, error) {
	iv := &models.Intervention{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		BranchID:  branchID,
		Content:   content,
		Status:    models.InterventionPending,
		CreatedAt: s.now(),
	}
	query, args := s.builder().
		Insert("user_interventions").
		Columns(interventionColumns...).
		Values(iv.ID, iv.SessionID, iv.BranchID, iv.Content, iv.Status, nil, iv.CreatedAt).
		Query()

	if _, err := s.client.DB().ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert intervention: %w", err)
	}
	return iv, nil
}

// ListPendingInterventions returns up to limit pending directives for a
// branch, oldest first, so the prompt folds them in arrival order.
func (s *Store) ListPendingInterventions(ctx context.Context, branchID string, limit int) ([]*models.Intervention, error) {
	query, args := s.builder().
		Select(interventionColumns...).
		From(entsql.Table("user_interventions")).
		Where(entsql.And(
			entsql.EQ("branch_id", branchID),
			entsql.EQ("status", models.InterventionPending),
		)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("intervention_id")).
		Limit(limit).
		Query()

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending interventions: %w", err)
	}
	defer rows.Close()

	var pending []*models.Intervention
	for rows.Next() {
		iv, err := scanIntervention(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intervention row: %w", err)
		}
		pending = append(pending, iv)
	}
	return pending, rows.Err()
}

// GetIntervention loads one directive by id.
func (s *Store) GetIntervention(ctx context.Context, interventionID string) (*models.Intervention, error) {
	query, args := s.builder().
		Select(interventionColumns...).
		From(entsql.Table("user_interventions")).
		Where(entsql.EQ("intervention_id", interventionID)).
		Query()

	iv, err := scanIntervention(s.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("intervention %s: %w", interventionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get intervention: %w", err)
	}
	return iv, nil
}

// PersistReport appends the round's report and marks its consumed
// interventions in one transaction, so a failed persist leaves every
// directive pending for the next attempt.
func (s *Store) PersistReport(ctx context.Context, params models.AppendMessageParams, consumedIDs []string) (*models.Message, error) {
	return s.appendWithRetry(ctx, params, consumedIDs)
}

// EnqueueIntervention inserts the pending directive together with its
// timeline mirror in one transaction. The mirror takes the branch's next
// seq like any other append; the pending row is what a round consumes.
func (s *Store) EnqueueIntervention(ctx context.Context, sessionID, branchID, content, tickLabel string) (*models.Intervention, *models.Message, error) {
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		iv, msg, err := s.enqueueOnce(ctx, sessionID, branchID, content, tickLabel)
		if err == nil {
			return iv, msg, nil
		}
		if !isUniqueViolation(err) {
			return nil, nil, err
		}
		lastErr = err
	}
	return nil, nil, fmt.Errorf("enqueue lost seq race %d times: %v: %w", appendRetries, lastErr, ErrConflict)
}

func (s *Store) enqueueOnce(ctx context.Context, sessionID, branchID, content, tickLabel string) (*models.Intervention, *models.Message, error) {
	now := s.now()
	iv := &models.Intervention{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		BranchID:  branchID,
		Content:   content,
		Status:    models.InterventionPending,
		CreatedAt: now,
	}
	msg := &models.Message{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		BranchID:      branchID,
		Role:          models.RoleUserIntervention,
		Content:       content,
		TimeJumpLabel: tickLabel,
		CreatedAt:     now,
	}
	err := s.withTx(ctx, func(tx *stdsql.Tx) error {
		if err := s.lockBranchRow(ctx, tx, branchID); err != nil {
			return err
		}
		maxSeq, err := s.maxSeqTx(ctx, tx, branchID)
		if err != nil {
			return err
		}
		msg.Seq = maxSeq + 1
		if err := s.insertMessageTx(ctx, tx, msg); err != nil {
			return err
		}
		query, args := s.builder().
			Insert("user_interventions").
			Columns(interventionColumns...).
			Values(iv.ID, iv.SessionID, iv.BranchID, iv.Content, iv.Status, nil, iv.CreatedAt).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert intervention: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return iv, msg, nil
}

// markInterventionsConsumedTx transitions the given pending rows to
// consumed within the caller's transaction. A no-op for empty ids.
func (s *Store) markInterventionsConsumedTx(ctx context.Context, tx *stdsql.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	query, args := s.builder().
		Update("user_interventions").
		Set("status", models.InterventionConsumed).
		Set("consumed_at", s.now()).
		Where(entsql.And(
			entsql.In("intervention_id", vals...),
			entsql.EQ("status", models.InterventionPending),
		)).
		Query()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark interventions consumed: %w", err)
	}
	return nil
}

// CancelPendingByContent cancels the most recent pending directive on the
// branch whose text matches content. Used when the timeline mirror of an
// intervention is rolled back, so the orphaned directive never reaches a
// prompt. Returns the canceled row id, or "" when nothing matched.
func (s *Store) CancelPendingByContent(ctx context.Context, branchID, content string) (string, error) {
	var canceled string
	err := s.withTx(ctx, func(tx *stdsql.Tx) error {
		query, args := s.builder().
			Select("intervention_id").
			From(entsql.Table("user_interventions")).
			Where(entsql.And(
				entsql.EQ("branch_id", branchID),
				entsql.EQ("content", content),
				entsql.EQ("status", models.InterventionPending),
			)).
			OrderBy(entsql.Desc("created_at"), entsql.Desc("intervention_id")).
			Limit(1).
			Query()

		var id string
		err := tx.QueryRowContext(ctx, query, args...).Scan(&id)
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find pending intervention: %w", err)
		}

		query, args = s.builder().
			Update("user_interventions").
			Set("status", models.InterventionCanceled).
			Where(entsql.EQ("intervention_id", id)).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("cancel intervention: %w", err)
		}
		canceled = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return canceled, nil
}
