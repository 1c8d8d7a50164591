package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForkBranchCopiesPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, main := newTestSession(t, s)

	appendReport(t, s, sess, main.ID, "one")
	cut := appendReport(t, s, sess, main.ID, "two")
	appendReport(t, s, sess, main.ID, "three")

	forked, err := s.ForkBranch(ctx, main.ID, cut.ID, "branch-2")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, forked.SessionID)
	assert.Equal(t, main.ID, forked.ParentBranchID)
	assert.Equal(t, cut.ID, forked.ForkFromMessageID)

	msgs, total, err := s.ListMessages(ctx, forked.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	// Copies get fresh ids but keep their seq.
	assert.NotEqual(t, cut.ID, msgs[1].ID)
	assert.Equal(t, 2, msgs[1].Seq)
}

func TestForkBranchIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, main := newTestSession(t, s)

	for i := 0; i < 3; i++ {
		appendReport(t, s, sess, main.ID, "report")
	}

	forked, err := s.ForkBranch(ctx, main.ID, "", "branch-2")
	require.NoError(t, err)

	// Appends continue from the cut on the fork without touching the source.
	next := appendReport(t, s, sess, forked.ID, "fork only")
	assert.Equal(t, 4, next.Seq)

	_, mainTotal, err := s.ListMessages(ctx, main.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, 3, mainTotal)

	// And the other direction.
	appendReport(t, s, sess, main.ID, "main only")
	_, forkTotal, err := s.ListMessages(ctx, forked.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, 4, forkTotal)
}

func TestForkBranchFromTip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, main := newTestSession(t, s)

	appendReport(t, s, sess, main.ID, "one")
	tip := appendReport(t, s, sess, main.ID, "two")

	forked, err := s.ForkBranch(ctx, main.ID, "", "branch-2")
	require.NoError(t, err)
	assert.Equal(t, tip.ID, forked.ForkFromMessageID)

	_, total, err := s.ListMessages(ctx, forked.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestForkBranchEmptySource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, main := newTestSession(t, s)

	forked, err := s.ForkBranch(ctx, main.ID, "", "branch-2")
	require.NoError(t, err)
	assert.Empty(t, forked.ForkFromMessageID)

	_, total, err := s.ListMessages(ctx, forked.ID, 200)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestForkBranchForeignMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, main := newTestSession(t, s)
	otherSess, otherMain := newTestSession(t, s)

	appendReport(t, s, sess, main.ID, "mine")
	foreign := appendReport(t, s, otherSess, otherMain.ID, "theirs")

	_, err := s.ForkBranch(ctx, main.ID, foreign.ID, "branch-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestForkBranchDuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, main := newTestSession(t, s)

	_, err := s.ForkBranch(ctx, main.ID, "", "branch-2")
	require.NoError(t, err)

	_, err = s.ForkBranch(ctx, main.ID, "", "branch-2")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestForkBranchUnknownSource(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s)

	_, err := s.ForkBranch(context.Background(), uuid.New().String(), "", "branch-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountBranches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, main := newTestSession(t, s)

	n, err := s.CountBranches(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.ForkBranch(ctx, main.ID, "", "branch-2")
	require.NoError(t, err)

	n, err = s.CountBranches(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
