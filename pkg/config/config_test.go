package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_SECRET_KEY", "unit-test-secret")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", s.AppEnv)
	assert.Equal(t, 8900, s.Port)
	assert.Equal(t, "sqlite://data/loom.db", s.DBURL)
	assert.Equal(t, slog.LevelInfo, s.LogLevel)
	assert.Equal(t, "1 month", s.DefaultTickLabel)
	assert.Equal(t, "zh-CN", s.DefaultOutputLanguage)
	assert.Equal(t, 5, s.DefaultPostGenDelaySec)
	assert.Equal(t, "https://api.openai.com", s.OpenAIBaseURL)
	assert.Equal(t, "http://localhost:11434", s.OllamaBaseURL)
	assert.Equal(t, MemoryModeOff, s.Memory.Mode)
	assert.Equal(t, 64, s.Memory.EmbedDim)
	assert.True(t, s.Dice.Enabled)
	assert.InDelta(t, 0.25, s.Dice.GoodEventProb, 1e-9)
	assert.InDelta(t, 0.15, s.Dice.BadEventProb, 1e-9)
	assert.InDelta(t, 0.10, s.Dice.RebelEventProb, 1e-9)
	assert.Equal(t, 1, s.Dice.MinEvents)
	assert.Equal(t, 5, s.Dice.MaxEvents)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_SECRET_KEY", "unit-test-secret")
	t.Setenv("APP_PORT", "9001")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "http://localhost:5173, https://loom.example")
	t.Setenv("MEMORY_MODE", "vector")
	t.Setenv("EVENT_DICE_ENABLED", "false")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, s.Port)
	assert.Equal(t, slog.LevelDebug, s.LogLevel)
	assert.Equal(t, []string{"http://localhost:5173", "https://loom.example"}, s.CORSOrigins)
	assert.Equal(t, MemoryModeVector, s.Memory.Mode)
	assert.False(t, s.Dice.Enabled)
}

func TestLoadRequiresSecretKey(t *testing.T) {
	t.Setenv("APP_SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "APP_SECRET_KEY", verr.Key)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("APP_SECRET_KEY", "unit-test-secret")

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"memory mode", "MEMORY_MODE", "graph"},
		{"embed provider", "EMBED_PROVIDER", "cohere"},
		{"probability above one", "EVENT_GOOD_EVENT_PROB", "1.5"},
		{"hemisphere", "EVENT_DEFAULT_HEMISPHERE", "equator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.ErrorIs(t, err, ErrInvalidValue)
		})
	}
}

func TestValidateRejectsProbabilitySumPastOne(t *testing.T) {
	t.Setenv("APP_SECRET_KEY", "unit-test-secret")
	t.Setenv("EVENT_GOOD_EVENT_PROB", "0.5")
	t.Setenv("EVENT_BAD_EVENT_PROB", "0.4")
	t.Setenv("EVENT_REBEL_EVENT_PROB", "0.2")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestBadNumbersFallBackToDefaults(t *testing.T) {
	t.Setenv("APP_SECRET_KEY", "unit-test-secret")
	t.Setenv("APP_PORT", "not-a-port")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8900, s.Port)
}
