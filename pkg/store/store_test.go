package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldloom/loom/pkg/crypto"
	"github.com/worldloom/loom/pkg/database"
	"github.com/worldloom/loom/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.Config{
		URL: "sqlite://" + filepath.Join(t.TempDir(), "store.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cipher, err := crypto.NewCipher(crypto.NewSecret("store-test-secret"))
	require.NoError(t, err)
	return New(client, cipher)
}

func newTestSession(t *testing.T, s *Store) (*models.Session, *models.Branch) {
	t.Helper()
	branchID := uuid.New().String()
	sess := &models.Session{
		ID:                uuid.New().String(),
		Title:             "test world",
		WorldPreset:       "a steampunk city",
		TickLabel:         "1 month",
		ActiveBranchID:    branchID,
		OutputLanguage:    "en",
		TimelineStartISO:  "2030-01-01T00:00:00+00:00",
		TimelineStepValue: 1,
		TimelineStepUnit:  models.StepUnitMonth,
	}
	branch := &models.Branch{
		ID:        branchID,
		SessionID: sess.ID,
		Name:      "main",
	}
	require.NoError(t, s.CreateSession(context.Background(), sess, branch))
	return sess, branch
}

func appendReport(t *testing.T, s *Store, sess *models.Session, branchID, content string) *models.Message {
	t.Helper()
	msg, err := s.AppendMessage(context.Background(), models.AppendMessageParams{
		SessionID:     sess.ID,
		BranchID:      branchID,
		Role:          models.RoleSystemReport,
		Content:       content,
		TimeJumpLabel: sess.TickLabel,
	})
	require.NoError(t, err)
	return msg
}

func TestCreateSessionWithMainBranch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, branch := newTestSession(t, s)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Title, got.Title)
	assert.Equal(t, branch.ID, got.ActiveBranchID)
	assert.False(t, got.Running)

	branches, err := s.ListBranches(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "main", branches[0].Name)
	assert.False(t, branches[0].IsArchived)
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessionsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, _ := newTestSession(t, s)
	second, _ := newTestSession(t, s)

	// Touch the first session so it becomes the most recently updated.
	_, err := s.UpdateSessionSettings(ctx, first.ID, models.SessionSettingsPatch{
		TickLabel: ptr("1 week"),
	})
	require.NoError(t, err)

	items, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].SessionID)
	assert.Equal(t, second.ID, items[1].SessionID)
}

func TestUpdateSessionSettingsPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := newTestSession(t, s)

	updated, err := s.UpdateSessionSettings(ctx, sess.ID, models.SessionSettingsPatch{
		PostGenDelaySec:  ptr(2),
		OutputLanguage:   ptr("zh-cn"),
		TimelineStepUnit: ptr(models.StepUnitWeek),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.PostGenDelaySec)
	assert.Equal(t, "zh-cn", updated.OutputLanguage)
	assert.Equal(t, models.StepUnitWeek, updated.TimelineStepUnit)
	// Untouched fields survive.
	assert.Equal(t, sess.TickLabel, updated.TickLabel)
	assert.Equal(t, sess.WorldPreset, updated.WorldPreset)
}

func TestSetRunningAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := newTestSession(t, s)

	require.NoError(t, s.SetRunning(ctx, sess.ID, true))
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.Running)

	n, err := s.ResetRunningFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.Running)
}

func TestSetActiveBranchValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := newTestSession(t, s)
	other, otherBranch := newTestSession(t, s)
	_ = other

	t.Run("unknown branch", func(t *testing.T) {
		err := s.SetActiveBranch(ctx, sess.ID, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("branch of another session", func(t *testing.T) {
		err := s.SetActiveBranch(ctx, sess.ID, otherBranch.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("archived branch", func(t *testing.T) {
		forked, err := s.ForkBranch(ctx, sess.ActiveBranchID, "", "branch-2")
		require.NoError(t, err)
		require.NoError(t, s.ArchiveBranch(ctx, forked.ID))

		err = s.SetActiveBranch(ctx, sess.ID, forked.ID)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("valid switch", func(t *testing.T) {
		forked, err := s.ForkBranch(ctx, sess.ActiveBranchID, "", "branch-3")
		require.NoError(t, err)
		require.NoError(t, s.SetActiveBranch(ctx, sess.ID, forked.ID))

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, forked.ID, got.ActiveBranchID)
	})
}

func ptr[T any](v T) *T { return &v }
