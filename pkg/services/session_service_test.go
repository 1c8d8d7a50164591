package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/store"
)

func TestCreateSessionAppliesDefaults(t *testing.T) {
	f := newFixture(t)
	svc := NewSessionService(f.store, f.runtime)

	sess, err := svc.Create(context.Background(), models.CreateSessionRequest{
		Title:       "  frontier  ",
		WorldPreset: "an ocean world of floating markets",
	})
	require.NoError(t, err)

	assert.Equal(t, "frontier", sess.Title)
	assert.False(t, sess.Running, "new sessions start paused")
	assert.Equal(t, "1 month", sess.TickLabel)
	assert.Equal(t, 5, sess.PostGenDelaySec)
	assert.Equal(t, "zh-cn", sess.OutputLanguage)
	assert.Equal(t, 1, sess.TimelineStepValue)
	assert.Equal(t, models.StepUnitMonth, sess.TimelineStepUnit)
	assert.NotEmpty(t, sess.ActiveBranchID)

	_, err = time.Parse(time.RFC3339, sess.TimelineStartISO)
	assert.NoError(t, err, "default timeline start must be valid RFC 3339")

	branch, err := f.store.GetBranch(context.Background(), sess.ActiveBranchID)
	require.NoError(t, err)
	assert.Equal(t, "main", branch.Name)

	got, err := svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestCreateSessionNormalizesInput(t *testing.T) {
	f := newFixture(t)
	svc := NewSessionService(f.store, f.runtime)
	zero := 0

	sess, err := svc.Create(context.Background(), models.CreateSessionRequest{
		WorldPreset:      "a glacier citadel",
		OutputLanguage:   " EN_us ",
		TimelineStartISO: "2031-05-01T08:00:00+08:00",
		TimelineStepUnit: "Week",
		PostGenDelaySec:  &zero,
	})
	require.NoError(t, err)

	assert.Equal(t, "en-us", sess.OutputLanguage)
	assert.Equal(t, "2031-05-01T00:00:00Z", sess.TimelineStartISO, "offsets are re-anchored to UTC")
	assert.Equal(t, models.StepUnitWeek, sess.TimelineStepUnit)
	assert.Zero(t, sess.PostGenDelaySec, "an explicit zero delay must survive")

	t.Run("invalid start falls back to now", func(t *testing.T) {
		sess, err := svc.Create(context.Background(), models.CreateSessionRequest{
			WorldPreset:      "a glacier citadel",
			TimelineStartISO: "yesterday-ish",
		})
		require.NoError(t, err)
		parsed, err := time.Parse(time.RFC3339, sess.TimelineStartISO)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
	})

	t.Run("date-only start is accepted as UTC midnight", func(t *testing.T) {
		sess, err := svc.Create(context.Background(), models.CreateSessionRequest{
			WorldPreset:      "a glacier citadel",
			TimelineStartISO: "2031-05-01",
		})
		require.NoError(t, err)
		assert.Equal(t, "2031-05-01T00:00:00Z", sess.TimelineStartISO)
	})

	t.Run("unknown step unit falls back to month", func(t *testing.T) {
		sess, err := svc.Create(context.Background(), models.CreateSessionRequest{
			WorldPreset:       "a glacier citadel",
			TimelineStepUnit:  "decade",
			TimelineStepValue: 0,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StepUnitMonth, sess.TimelineStepUnit)
		assert.Equal(t, 1, sess.TimelineStepValue)
	})
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)
	svc := NewSessionService(f.store, f.runtime)
	negative := -1

	cases := []struct {
		name string
		req  models.CreateSessionRequest
	}{
		{"empty preset", models.CreateSessionRequest{Title: "t"}},
		{"blank preset", models.CreateSessionRequest{WorldPreset: "   "}},
		{"title too long", models.CreateSessionRequest{
			Title:       strings.Repeat("x", 201),
			WorldPreset: "w",
		}},
		{"preset too long", models.CreateSessionRequest{
			WorldPreset: strings.Repeat("x", 8001),
		}},
		{"tick label too long", models.CreateSessionRequest{
			WorldPreset: "w",
			TickLabel:   strings.Repeat("x", 51),
		}},
		{"negative delay", models.CreateSessionRequest{
			WorldPreset:     "w",
			PostGenDelaySec: &negative,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.req)
			assert.True(t, IsValidationError(err), "want validation error, got %v", err)
		})
	}
}

func TestSessionHistoryPaging(t *testing.T) {
	f := newFixture(t)
	svc := NewSessionService(f.store, f.runtime)

	var last *models.Session
	for i := 0; i < 3; i++ {
		var err error
		last, err = svc.Create(context.Background(), models.CreateSessionRequest{
			WorldPreset: "w",
		})
		require.NoError(t, err)
	}

	items, err := svc.History(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, last.ID, items[0].SessionID, "newest first")

	items, err = svc.History(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = svc.History(context.Background(), 100000)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestUpdateSessionSettings(t *testing.T) {
	f := newFixture(t)
	svc := NewSessionService(f.store, f.runtime)
	sess := f.createSession(t)

	title := " renamed "
	tick := "2 weeks"
	lang := "EN"
	unit := "year"
	updated, err := svc.UpdateSettings(context.Background(), sess.ID, models.SessionSettingsPatch{
		Title:            &title,
		TickLabel:        &tick,
		OutputLanguage:   &lang,
		TimelineStepUnit: &unit,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, "2 weeks", updated.TickLabel)
	assert.Equal(t, "en", updated.OutputLanguage)
	assert.Equal(t, models.StepUnitYear, updated.TimelineStepUnit)
	assert.Equal(t, sess.WorldPreset, updated.WorldPreset, "untouched fields survive")

	t.Run("empty tick label rejected", func(t *testing.T) {
		empty := "  "
		_, err := svc.UpdateSettings(context.Background(), sess.ID, models.SessionSettingsPatch{TickLabel: &empty})
		assert.True(t, IsValidationError(err))
	})

	t.Run("step value below one rejected", func(t *testing.T) {
		zero := 0
		_, err := svc.UpdateSettings(context.Background(), sess.ID, models.SessionSettingsPatch{TimelineStepValue: &zero})
		assert.True(t, IsValidationError(err))
	})

	t.Run("negative delay rejected", func(t *testing.T) {
		negative := -1
		_, err := svc.UpdateSettings(context.Background(), sess.ID, models.SessionSettingsPatch{PostGenDelaySec: &negative})
		assert.True(t, IsValidationError(err))
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := svc.UpdateSettings(context.Background(), "missing", models.SessionSettingsPatch{Title: &title})
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})
}
