package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/worldloom/loom/pkg/models"
)

var memoryColumns = []string{
	"memory_id", "session_id", "branch_id", "message_id", "seq",
	"content", "content_hash", "tombstoned", "created_at",
}

// MemoryVector pairs a live memory item with its stored embedding.
type MemoryVector struct {
	Item   *models.MemoryItem
	Vector []float64
	Norm   float64
}

// UpsertMemory stores one remembered fragment with its embedding. A live
// item already indexed for the same message is refreshed in place when the
// content hash changed and left alone when it matches.
func (s *Store) UpsertMemory(ctx context.Context, item *models.MemoryItem, vector []float64, norm float64) error {
	vecJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}

	return s.withTx(ctx, func(tx *stdsql.Tx) error {
		query, args := s.builder().
			Select("memory_id", "content_hash").
			From(entsql.Table("memory_items")).
			Where(entsql.And(
				entsql.EQ("branch_id", item.BranchID),
				entsql.EQ("message_id", item.MessageID),
				entsql.EQ("tombstoned", false),
			)).
			Query()

		var existingID, existingHash string
		err := tx.QueryRowContext(ctx, query, args...).Scan(&existingID, &existingHash)
		switch {
		case errors.Is(err, stdsql.ErrNoRows):
			item.ID = uuid.New().String()
			item.CreatedAt = s.now()
			insQuery, insArgs := s.builder().
				Insert("memory_items").
				Columns(memoryColumns...).
				Values(item.ID, item.SessionID, item.BranchID, item.MessageID, item.Seq,
					item.Text, item.ContentHash, item.Tombstoned, item.CreatedAt).
				Query()
			if _, err := tx.ExecContext(ctx, insQuery, insArgs...); err != nil {
				return fmt.Errorf("insert memory item: %w", err)
			}
			return s.upsertEmbeddingTx(ctx, tx, item.ID, string(vecJSON), norm, true)

		case err != nil:
			return fmt.Errorf("find memory item: %w", err)

		case existingHash == item.ContentHash:
			item.ID = existingID
			return nil

		default:
			item.ID = existingID
			updQuery, updArgs := s.builder().
				Update("memory_items").
				Set("content", item.Text).
				Set("content_hash", item.ContentHash).
				Set("seq", item.Seq).
				Where(entsql.EQ("memory_id", existingID)).
				Query()
			if _, err := tx.ExecContext(ctx, updQuery, updArgs...); err != nil {
				return fmt.Errorf("update memory item: %w", err)
			}
			return s.upsertEmbeddingTx(ctx, tx, existingID, string(vecJSON), norm, false)
		}
	})
}

func (s *Store) upsertEmbeddingTx(ctx context.Context, tx *stdsql.Tx, memoryID, vecJSON string, norm float64, fresh bool) error {
	if fresh {
		query, args := s.builder().
			Insert("memory_embeddings").
			Columns("memory_id", "vector_json", "vector_norm").
			Values(memoryID, vecJSON, norm).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
		return nil
	}
	query, args := s.builder().
		Update("memory_embeddings").
		Set("vector_json", vecJSON).
		Set("vector_norm", norm).
		Where(entsql.EQ("memory_id", memoryID)).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	return nil
}

// ListMemoryVectors returns the most recent live vectors of a branch for
// in-process similarity scoring, newest first.
func (s *Store) ListMemoryVectors(ctx context.Context, sessionID, branchID string, limit int) ([]*MemoryVector, error) {
	items := entsql.Table("memory_items").As("i")
	embeds := entsql.Table("memory_embeddings").As("e")
	cols := []string{
		items.C("memory_id"), items.C("session_id"), items.C("branch_id"),
		items.C("message_id"), items.C("seq"), items.C("content"),
		items.C("content_hash"), items.C("tombstoned"), items.C("created_at"),
		embeds.C("vector_json"), embeds.C("vector_norm"),
	}
	query, args := s.builder().
		Select(cols...).
		From(items).
		Join(embeds).
		On(items.C("memory_id"), embeds.C("memory_id")).
		Where(entsql.And(
			entsql.EQ(items.C("session_id"), sessionID),
			entsql.EQ(items.C("branch_id"), branchID),
			entsql.EQ(items.C("tombstoned"), false),
		)).
		OrderBy(entsql.Desc(items.C("seq"))).
		Limit(limit).
		Query()

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memory vectors: %w", err)
	}
	defer rows.Close()

	var out []*MemoryVector
	for rows.Next() {
		var (
			it      models.MemoryItem
			vecJSON string
			norm    float64
		)
		if err := rows.Scan(&it.ID, &it.SessionID, &it.BranchID, &it.MessageID, &it.Seq,
			&it.Text, &it.ContentHash, &it.Tombstoned, &it.CreatedAt,
			&vecJSON, &norm); err != nil {
			return nil, fmt.Errorf("scan memory vector: %w", err)
		}
		var vec []float64
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			return nil, fmt.Errorf("decode vector for %s: %w", it.ID, err)
		}
		out = append(out, &MemoryVector{Item: &it, Vector: vec, Norm: norm})
	}
	return out, rows.Err()
}

// TombstoneMemoryByMessage retires every live fragment indexed for one
// message. Tombstoned rows stay on disk but never match again.
func (s *Store) TombstoneMemoryByMessage(ctx context.Context, messageID string) (int64, error) {
	query, args := s.builder().
		Update("memory_items").
		Set("tombstoned", true).
		Where(entsql.And(
			entsql.EQ("message_id", messageID),
			entsql.EQ("tombstoned", false),
		)).
		Query()

	res, err := s.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("tombstone memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// copyMemoryTx duplicates the live fragments with seq <= cutSeq into the
// forked branch so recall stays consistent with the copied history. Each
// copy is re-pointed at the fork's own message for that seq, so deleting
// on one branch never tombstones the other.
func (s *Store) copyMemoryTx(ctx context.Context, tx *stdsql.Tx, srcBranchID, dstBranchID string, cutSeq int, idBySeq map[int]string) error {
	if cutSeq == 0 {
		return nil
	}
	items := entsql.Table("memory_items").As("i")
	embeds := entsql.Table("memory_embeddings").As("e")
	cols := []string{
		items.C("memory_id"), items.C("session_id"), items.C("branch_id"),
		items.C("message_id"), items.C("seq"), items.C("content"),
		items.C("content_hash"), items.C("tombstoned"), items.C("created_at"),
		embeds.C("vector_json"), embeds.C("vector_norm"),
	}
	query, args := s.builder().
		Select(cols...).
		From(items).
		Join(embeds).
		On(items.C("memory_id"), embeds.C("memory_id")).
		Where(entsql.And(
			entsql.EQ(items.C("branch_id"), srcBranchID),
			entsql.EQ(items.C("tombstoned"), false),
			entsql.LTE(items.C("seq"), cutSeq),
		)).
		OrderBy(entsql.Asc(items.C("seq"))).
		Query()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("read source memory: %w", err)
	}
	defer rows.Close()

	type copied struct {
		item    models.MemoryItem
		vecJSON string
		norm    float64
	}
	var fragments []copied
	for rows.Next() {
		var c copied
		if err := rows.Scan(&c.item.ID, &c.item.SessionID, &c.item.BranchID,
			&c.item.MessageID, &c.item.Seq, &c.item.Text, &c.item.ContentHash,
			&c.item.Tombstoned, &c.item.CreatedAt, &c.vecJSON, &c.norm); err != nil {
			return fmt.Errorf("scan source memory: %w", err)
		}
		fragments = append(fragments, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range fragments {
		messageID, ok := idBySeq[c.item.Seq]
		if !ok {
			// No copied message for this seq, nothing for recall to cite.
			continue
		}
		newID := uuid.New().String()
		insQuery, insArgs := s.builder().
			Insert("memory_items").
			Columns(memoryColumns...).
			Values(newID, c.item.SessionID, dstBranchID, messageID, c.item.Seq,
				c.item.Text, c.item.ContentHash, false, c.item.CreatedAt).
			Query()
		if _, err := tx.ExecContext(ctx, insQuery, insArgs...); err != nil {
			return fmt.Errorf("copy memory item: %w", err)
		}
		if err := s.upsertEmbeddingTx(ctx, tx, newID, c.vecJSON, c.norm, true); err != nil {
			return err
		}
	}
	return nil
}
