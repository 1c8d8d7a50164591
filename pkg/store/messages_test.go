package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldloom/loom/pkg/models"
)

func TestAppendMessageAssignsDenseSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, branch := newTestSession(t, s)

	for i := 1; i <= 3; i++ {
		msg := appendReport(t, s, sess, branch.ID, "report")
		assert.Equal(t, i, msg.Seq)
	}

	msgs, total, err := s.ListMessages(ctx, branch.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, msgs, 3)
	for i, msg := range msgs {
		assert.Equal(t, i+1, msg.Seq)
		assert.Equal(t, models.RoleSystemReport, msg.Role)
	}
}

func TestListMessagesReturnsRecentWindowInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, branch := newTestSession(t, s)

	for i := 0; i < 5; i++ {
		appendReport(t, s, sess, branch.ID, "report")
	}

	msgs, total, err := s.ListMessages(ctx, branch.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, msgs, 2)
	// The most recent page, still in ascending seq order.
	assert.Equal(t, 4, msgs[0].Seq)
	assert.Equal(t, 5, msgs[1].Seq)
}

func TestAppendMessagePersistsSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, branch := newTestSession(t, s)

	snapshot := json.RawMessage(`{"title":"World Report","tension_percent":42}`)
	msg, err := s.AppendMessage(ctx, models.AppendMessageParams{
		SessionID:      sess.ID,
		BranchID:       branch.ID,
		Role:           models.RoleSystemReport,
		Content:        `{"title":"World Report"}`,
		TimeJumpLabel:  "1 month",
		ReportSnapshot: snapshot,
		ProviderName:   "mock",
		ModelName:      "fixture-v1",
		TokenIn:        12,
		TokenOut:       34,
	})
	require.NoError(t, err)

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(snapshot), string(got.ReportSnapshot))
	assert.Equal(t, "mock", got.ProviderName)
	assert.Equal(t, "fixture-v1", got.ModelName)
	assert.Equal(t, 12, got.TokenIn)
	assert.Equal(t, 34, got.TokenOut)
	assert.Equal(t, "1 month", got.TimeJumpLabel)
}

func TestAppendMessageUnknownBranch(t *testing.T) {
	s := newTestStore(t)
	sess, _ := newTestSession(t, s)

	_, err := s.AppendMessage(context.Background(), models.AppendMessageParams{
		SessionID: sess.ID,
		BranchID:  uuid.New().String(),
		Role:      models.RoleSystemReport,
		Content:   "report",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteLastMessagePreservesDensity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, branch := newTestSession(t, s)

	for i := 0; i < 3; i++ {
		appendReport(t, s, sess, branch.ID, "report")
	}

	deleted, err := s.DeleteLastMessage(ctx, branch.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, 3, deleted.Seq)

	msgs, total, err := s.ListMessages(ctx, branch.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for i, msg := range msgs {
		assert.Equal(t, i+1, msg.Seq)
	}

	// The next append continues from the new tip.
	next := appendReport(t, s, sess, branch.ID, "report")
	assert.Equal(t, 3, next.Seq)
}

func TestDeleteLastMessageEmptyBranch(t *testing.T) {
	s := newTestStore(t)
	_, branch := newTestSession(t, s)

	deleted, err := s.DeleteLastMessage(context.Background(), branch.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted)
}

func TestDeleteLastMessageUnknownBranch(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s)

	_, err := s.DeleteLastMessage(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditMessageInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, branch := newTestSession(t, s)

	appendReport(t, s, sess, branch.ID, "first")
	msg := appendReport(t, s, sess, branch.ID, "second")
	appendReport(t, s, sess, branch.ID, "third")

	snapshot := json.RawMessage(`{"title":"Edited"}`)
	edited, err := s.EditMessage(ctx, msg.ID, `{"title":"Edited"}`, snapshot)
	require.NoError(t, err)
	assert.Equal(t, msg.Seq, edited.Seq)
	assert.Equal(t, `{"title":"Edited"}`, edited.Content)
	assert.JSONEq(t, string(snapshot), string(edited.ReportSnapshot))
	assert.True(t, edited.IsUserEdited)
	require.NotNil(t, edited.EditedAt)

	// Editing never reorders the branch.
	msgs, _, err := s.ListMessages(ctx, branch.ID, 200)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{msgs[0].Seq, msgs[1].Seq, msgs[2].Seq})
}

func TestEditMessageClearsSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, branch := newTestSession(t, s)

	msg, err := s.AppendMessage(ctx, models.AppendMessageParams{
		SessionID:      sess.ID,
		BranchID:       branch.ID,
		Role:           models.RoleSystemReport,
		Content:        "structured",
		ReportSnapshot: json.RawMessage(`{"title":"A"}`),
	})
	require.NoError(t, err)

	edited, err := s.EditMessage(ctx, msg.ID, "plain text now", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text now", edited.Content)
	assert.Nil(t, edited.ReportSnapshot)
}

func TestEditMessageNotFound(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s)

	_, err := s.EditMessage(context.Background(), uuid.New().String(), "content", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
