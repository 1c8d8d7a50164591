package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(t *testing.T) *Settings {
	t.Helper()
	t.Setenv("APP_SECRET_KEY", "unit-test-secret")
	s, err := Load()
	require.NoError(t, err)
	return s
}

func TestRuntimePatchAppliesAndReports(t *testing.T) {
	rt := NewRuntime(testSettings(t), "")

	changed, err := rt.Patch(map[string]any{
		"event_dice_enabled":         false,
		"default_post_gen_delay_sec": float64(2),
		"memory_max_snippets":        float64(4),
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"default_post_gen_delay_sec", "event_dice_enabled", "memory_max_snippets"}, changed)

	s := rt.Snapshot()
	assert.False(t, s.Dice.Enabled)
	assert.Equal(t, 2, s.DefaultPostGenDelaySec)
	assert.Equal(t, 4, s.Memory.MaxSnippets)
}

func TestRuntimePatchDelayRequiresWholeSeconds(t *testing.T) {
	rt := NewRuntime(testSettings(t), "")

	_, err := rt.Patch(map[string]any{"default_post_gen_delay_sec": 2.5}, false)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = rt.Patch(map[string]any{"default_post_gen_delay_sec": float64(-1)}, false)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestRuntimePatchRejectsUnknownAndImmutable(t *testing.T) {
	rt := NewRuntime(testSettings(t), "")

	_, err := rt.Patch(map[string]any{"no_such_setting": 1}, false)
	assert.ErrorIs(t, err, ErrUnknownSetting)

	_, err = rt.Patch(map[string]any{"app_secret_key": "sneaky"}, false)
	assert.ErrorIs(t, err, ErrImmutableSetting)
}

func TestRuntimePatchIsAtomic(t *testing.T) {
	rt := NewRuntime(testSettings(t), "")
	before := rt.Snapshot()

	_, err := rt.Patch(map[string]any{
		"default_tick_label": "1 week",
		"memory_mode":        "graph", // invalid, whole patch must roll back
	}, false)
	require.Error(t, err)

	after := rt.Snapshot()
	assert.Equal(t, before.DefaultTickLabel, after.DefaultTickLabel)
	assert.Equal(t, before.Memory.Mode, after.Memory.Mode)
}

func TestRuntimePatchPersistsToEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("APP_SECRET_KEY=keepme\n"), 0o600))

	rt := NewRuntime(testSettings(t), envPath)
	_, err := rt.Patch(map[string]any{"event_max_events": 3}, true)
	require.NoError(t, err)

	saved, err := godotenv.Read(envPath)
	require.NoError(t, err)
	assert.Equal(t, "3", saved["EVENT_MAX_EVENTS"])
	assert.Equal(t, "keepme", saved["APP_SECRET_KEY"], "existing keys must survive")

	_, err = rt.Patch(map[string]any{"event_max_events": 4}, false)
	require.NoError(t, err)

	saved, err = godotenv.Read(envPath)
	require.NoError(t, err)
	assert.Equal(t, "3", saved["EVENT_MAX_EVENTS"], "ephemeral patch must not touch the file")
	assert.Equal(t, 4, rt.Snapshot().Dice.MaxEvents)
}

func TestRuntimeViewExposesPatchableKeys(t *testing.T) {
	rt := NewRuntime(testSettings(t), "")
	view := rt.View()

	assert.Equal(t, true, view["event_dice_enabled"])
	assert.Equal(t, "1 month", view["default_tick_label"])
	assert.NotContains(t, view, "app_secret_key")
}

func TestRuntimePatchLogLevelAndEmbedKey(t *testing.T) {
	rt := NewRuntime(testSettings(t), "")

	_, err := rt.Patch(map[string]any{"log_level": "verbose"}, false)
	require.Error(t, err)

	changed, err := rt.Patch(map[string]any{
		"log_level":            "debug",
		"embed_openai_api_key": "sk-embed-test-key",
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"embed_openai_api_key", "log_level"}, changed)

	s := rt.Snapshot()
	assert.Equal(t, slog.LevelDebug, s.LogLevel)
	assert.Equal(t, "sk-embed-test-key", s.Memory.EmbedAPIKey.Reveal())

	view := rt.View()
	assert.Equal(t, "debug", view["log_level"])
	assert.Equal(t, "***", view["embed_openai_api_key"], "secrets stay redacted in the view")
}
