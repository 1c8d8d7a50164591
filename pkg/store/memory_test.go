package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldloom/loom/pkg/models"
)

func rememberFragment(t *testing.T, s *Store, msg *models.Message, hash string, vec []float64) *models.MemoryItem {
	t.Helper()
	item := &models.MemoryItem{
		SessionID:   msg.SessionID,
		BranchID:    msg.BranchID,
		MessageID:   msg.ID,
		Seq:         msg.Seq,
		Text:        msg.Content,
		ContentHash: hash,
	}
	require.NoError(t, s.UpsertMemory(context.Background(), item, vec, 1.0))
	return item
}

func TestUpsertMemoryInsertThenRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, branch := newTestSession(t, s)
	msg := appendReport(t, s, sess, branch.ID, "the city floods")

	item := rememberFragment(t, s, msg, "hash-1", []float64{1, 0, 0})

	vectors, err := s.ListMemoryVectors(ctx, sess.ID, branch.ID, 64)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, item.ID, vectors[0].Item.ID)
	assert.Equal(t, []float64{1, 0, 0}, vectors[0].Vector)

	// Same hash: untouched. New hash: refreshed in place, same row.
	again := rememberFragment(t, s, msg, "hash-1", []float64{0, 1, 0})
	assert.Equal(t, item.ID, again.ID)
	vectors, err = s.ListMemoryVectors(ctx, sess.ID, branch.ID, 64)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, []float64{1, 0, 0}, vectors[0].Vector)

	msg.Content = "the city floods, edited"
	refreshed := rememberFragment(t, s, msg, "hash-2", []float64{0, 0, 1})
	assert.Equal(t, item.ID, refreshed.ID)
	vectors, err = s.ListMemoryVectors(ctx, sess.ID, branch.ID, 64)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, []float64{0, 0, 1}, vectors[0].Vector)
	assert.Equal(t, "the city floods, edited", vectors[0].Item.Text)
}

func TestTombstoneMemoryByMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, branch := newTestSession(t, s)
	msg := appendReport(t, s, sess, branch.ID, "remember me")

	rememberFragment(t, s, msg, "hash-1", []float64{1, 0})

	n, err := s.TombstoneMemoryByMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	vectors, err := s.ListMemoryVectors(ctx, sess.ID, branch.ID, 64)
	require.NoError(t, err)
	assert.Empty(t, vectors)

	// Tombstoning twice is a no-op.
	n, err = s.TombstoneMemoryByMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestForkInheritsMemoryUpToCut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, main := newTestSession(t, s)

	one := appendReport(t, s, sess, main.ID, "seq one")
	two := appendReport(t, s, sess, main.ID, "seq two")
	three := appendReport(t, s, sess, main.ID, "seq three")
	rememberFragment(t, s, one, "h1", []float64{1, 0})
	rememberFragment(t, s, two, "h2", []float64{0, 1})
	rememberFragment(t, s, three, "h3", []float64{1, 1})

	forked, err := s.ForkBranch(ctx, main.ID, two.ID, "branch-2")
	require.NoError(t, err)

	inherited, err := s.ListMemoryVectors(ctx, sess.ID, forked.ID, 64)
	require.NoError(t, err)
	require.Len(t, inherited, 2)
	// Newest first; nothing beyond the cut.
	assert.Equal(t, 2, inherited[0].Item.Seq)
	assert.Equal(t, 1, inherited[1].Item.Seq)
	// Inherited items cite the fork's own message copies.
	assert.NotEqual(t, two.ID, inherited[0].Item.MessageID)
	assert.NotEqual(t, one.ID, inherited[1].Item.MessageID)

	// Tombstoning on the fork leaves the source untouched.
	n, err := s.TombstoneMemoryByMessage(ctx, inherited[0].Item.MessageID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sourceVectors, err := s.ListMemoryVectors(ctx, sess.ID, main.ID, 64)
	require.NoError(t, err)
	assert.Len(t, sourceVectors, 3)
}

func TestListMemoryVectorsSkipsTombstoned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, branch := newTestSession(t, s)

	one := appendReport(t, s, sess, branch.ID, "alpha")
	two := appendReport(t, s, sess, branch.ID, "beta")
	rememberFragment(t, s, one, "h1", []float64{1})
	rememberFragment(t, s, two, "h2", []float64{1})

	_, err := s.TombstoneMemoryByMessage(ctx, one.ID)
	require.NoError(t, err)

	vectors, err := s.ListMemoryVectors(ctx, sess.ID, branch.ID, 10)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, "beta", vectors[0].Item.Text)
}
