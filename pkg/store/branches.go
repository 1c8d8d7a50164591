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

var branchColumns = []string{
	"branch_id", "session_id", "name", "parent_branch_id",
	"fork_from_message_id", "is_archived", "created_at",
}

func scanBranch(row interface{ Scan(...any) error }) (*models.Branch, error) {
	var b models.Branch
	err := row.Scan(&b.ID, &b.SessionID, &b.Name, &b.ParentBranchID,
		&b.ForkFromMessageID, &b.IsArchived, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) insertBranchTx(ctx context.Context, tx *stdsql.Tx, branch *models.Branch) error {
	query, args := s.builder().
		Insert("branches").
		Columns(branchColumns...).
		Values(branch.ID, branch.SessionID, branch.Name, branch.ParentBranchID,
			branch.ForkFromMessageID, branch.IsArchived, branch.CreatedAt).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("branch name %q already taken: %w", branch.Name, ErrConflict)
		}
		return fmt.Errorf("insert branch: %w", err)
	}
	return nil
}

// GetBranch loads one branch by id.
func (s *Store) GetBranch(ctx context.Context, branchID string) (*models.Branch, error) {
	query, args := s.builder().
		Select(branchColumns...).
		From(entsql.Table("branches")).
		Where(entsql.EQ("branch_id", branchID)).
		Query()

	b, err := scanBranch(s.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("branch %s: %w", branchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get branch: %w", err)
	}
	return b, nil
}

// ListBranches returns all branches of a session in creation order.
func (s *Store) ListBranches(ctx context.Context, sessionID string) ([]*models.Branch, error) {
	query, args := s.builder().
		Select(branchColumns...).
		From(entsql.Table("branches")).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("branch_id")).
		Query()

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var branches []*models.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch row: %w", err)
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// CountBranches returns the number of branches a session owns.
func (s *Store) CountBranches(ctx context.Context, sessionID string) (int, error) {
	query, args := s.builder().
		Select(entsql.Count("*")).
		From(entsql.Table("branches")).
		Where(entsql.EQ("session_id", sessionID)).
		Query()

	var n int
	if err := s.client.DB().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count branches: %w", err)
	}
	return n, nil
}

// ForkBranch creates a new branch carrying a copy of the source history up
// to the cut point. fromMessageID selects the cut; empty means the source's
// current last message. Memory items up to the cut are inherited so recall
// stays branch-consistent. The source branch is never modified.
func (s *Store) ForkBranch(ctx context.Context, sourceBranchID, fromMessageID, name string) (*models.Branch, error) {
	var forked *models.Branch
	err := s.withTx(ctx, func(tx *stdsql.Tx) error {
		if err := s.lockBranchRow(ctx, tx, sourceBranchID); err != nil {
			return err
		}
		src, err := s.getBranchTx(ctx, tx, sourceBranchID)
		if err != nil {
			return err
		}

		cutSeq, cutMessageID, err := s.resolveCut(ctx, tx, sourceBranchID, fromMessageID)
		if err != nil {
			return err
		}

		forked = &models.Branch{
			ID:                uuid.New().String(),
			SessionID:         src.SessionID,
			Name:              name,
			ParentBranchID:    src.ID,
			ForkFromMessageID: cutMessageID,
			CreatedAt:         s.now(),
		}
		if err := s.insertBranchTx(ctx, tx, forked); err != nil {
			return err
		}
		idBySeq, err := s.copyMessagesTx(ctx, tx, src.ID, forked.ID, cutSeq)
		if err != nil {
			return err
		}
		return s.copyMemoryTx(ctx, tx, src.ID, forked.ID, cutSeq, idBySeq)
	})
	if err != nil {
		return nil, err
	}
	return forked, nil
}

// ArchiveBranch flags a branch so it can no longer be activated or receive
// interventions. The active branch of a session must never be archived;
// callers enforce that precondition.
func (s *Store) ArchiveBranch(ctx context.Context, branchID string) error {
	query, args := s.builder().
		Update("branches").
		Set("is_archived", true).
		Where(entsql.EQ("branch_id", branchID)).
		Query()

	res, err := s.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("archive branch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("branch %s: %w", branchID, ErrNotFound)
	}
	return nil
}

func (s *Store) getBranchTx(ctx context.Context, tx *stdsql.Tx, branchID string) (*models.Branch, error) {
	query, args := s.builder().
		Select(branchColumns...).
		From(entsql.Table("branches")).
		Where(entsql.EQ("branch_id", branchID)).
		Query()

	b, err := scanBranch(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("branch %s: %w", branchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get branch: %w", err)
	}
	return b, nil
}

// resolveCut maps fromMessageID to its seq within the source branch, or
// finds the branch's last message when none is named. A message id that
// belongs to another branch is NotFound. An empty branch cuts at seq 0.
func (s *Store) resolveCut(ctx context.Context, tx *stdsql.Tx, branchID, fromMessageID string) (int, string, error) {
	if fromMessageID != "" {
		query, args := s.builder().
			Select("seq").
			From(entsql.Table("timeline_messages")).
			Where(entsql.And(
				entsql.EQ("message_id", fromMessageID),
				entsql.EQ("branch_id", branchID),
			)).
			Query()

		var seq int
		err := tx.QueryRowContext(ctx, query, args...).Scan(&seq)
		if errors.Is(err, stdsql.ErrNoRows) {
			return 0, "", fmt.Errorf("message %s not in branch %s: %w",
				fromMessageID, branchID, ErrNotFound)
		}
		if err != nil {
			return 0, "", fmt.Errorf("resolve cut: %w", err)
		}
		return seq, fromMessageID, nil
	}

	query, args := s.builder().
		Select("message_id", "seq").
		From(entsql.Table("timeline_messages")).
		Where(entsql.EQ("branch_id", branchID)).
		OrderBy(entsql.Desc("seq")).
		Limit(1).
		Query()

	var (
		id  string
		seq int
	)
	err := tx.QueryRowContext(ctx, query, args...).Scan(&id, &seq)
	if errors.Is(err, stdsql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("resolve cut: %w", err)
	}
	return seq, id, nil
}

// copyMessagesTx duplicates the source rows with seq <= cutSeq into the new
// branch under fresh message ids, preserving seq so the copy stays dense.
// Returns the seq -> new message id mapping so inherited memory can point
// at the copies instead of the originals.
func (s *Store) copyMessagesTx(ctx context.Context, tx *stdsql.Tx, srcBranchID, dstBranchID string, cutSeq int) (map[int]string, error) {
	if cutSeq == 0 {
		return nil, nil
	}
	query, args := s.builder().
		Select(messageColumns...).
		From(entsql.Table("timeline_messages")).
		Where(entsql.And(
			entsql.EQ("branch_id", srcBranchID),
			entsql.LTE("seq", cutSeq),
		)).
		OrderBy(entsql.Asc("seq")).
		Query()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read source messages: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	idBySeq := make(map[int]string, len(msgs))
	for _, msg := range msgs {
		msg.ID = uuid.New().String()
		msg.BranchID = dstBranchID
		if err := s.insertMessageTx(ctx, tx, msg); err != nil {
			return nil, err
		}
		idBySeq[msg.Seq] = msg.ID
	}
	return idBySeq, nil
}
