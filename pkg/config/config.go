// Package config loads application settings from the environment and keeps
// the debug-tunable subset mutable at runtime.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/worldloom/loom/pkg/crypto"
)

// Memory operation modes.
const (
	MemoryModeOff    = "off"
	MemoryModeVector = "vector"
	MemoryModeHybrid = "hybrid"
)

// Embedding providers.
const (
	EmbedDeterministic = "deterministic"
	EmbedOpenAI        = "openai"
)

// Settings is the resolved application configuration. Fields mirror the
// environment keys they are loaded from.
type Settings struct {
	AppEnv      string
	Host        string
	Port        int
	CORSOrigins []string
	DBURL       string
	SecretKey   crypto.Secret
	LogLevel    slog.Level

	DefaultPostGenDelaySec int
	DefaultTickLabel       string
	DefaultOutputLanguage  string

	OpenAIBaseURL   string
	DeepSeekBaseURL string
	OllamaBaseURL   string
	GeminiBaseURL   string

	// ProviderRateLimitRPS throttles outbound provider calls; zero disables.
	ProviderRateLimitRPS float64

	Memory MemorySettings
	Dice   DiceSettings
}

// MemorySettings controls long-range recall.
type MemorySettings struct {
	Mode        string
	MaxSnippets int
	MaxChars    int

	EmbedProvider string
	EmbedModel    string
	EmbedDim      int
	EmbedBaseURL  string
	EmbedAPIKey   crypto.Secret
}

// DiceSettings tunes the pre-rolled random event directives.
type DiceSettings struct {
	Enabled           bool
	GoodEventProb     float64
	BadEventProb      float64
	RebelEventProb    float64
	MinEvents         int
	MaxEvents         int
	DefaultHemisphere string
}

// Load reads every setting from the environment, applying defaults, and
// validates the result.
func Load() (*Settings, error) {
	s := &Settings{
		AppEnv:      getEnvOrDefault("APP_ENV", "development"),
		Host:        getEnvOrDefault("APP_HOST", "0.0.0.0"),
		Port:        getEnvInt("APP_PORT", 8900),
		CORSOrigins: splitCSV(os.Getenv("CORS_ORIGINS")),
		DBURL:       getEnvOrDefault("DB_URL", "sqlite://data/loom.db"),
		SecretKey:   crypto.NewSecret(os.Getenv("APP_SECRET_KEY")),
		LogLevel:    parseLogLevel(getEnvOrDefault("LOG_LEVEL", "info")),

		DefaultPostGenDelaySec: getEnvInt("DEFAULT_POST_GEN_DELAY_SEC", 5),
		DefaultTickLabel:       getEnvOrDefault("DEFAULT_TICK_LABEL", "1 month"),
		DefaultOutputLanguage:  getEnvOrDefault("DEFAULT_OUTPUT_LANGUAGE", "zh-CN"),

		OpenAIBaseURL:   getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
		DeepSeekBaseURL: getEnvOrDefault("DEEPSEEK_BASE_URL", "https://api.deepseek.com"),
		OllamaBaseURL:   getEnvOrDefault("OLLAMA_BASE_URL", "http://localhost:11434"),
		GeminiBaseURL:   getEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),

		ProviderRateLimitRPS: getEnvFloat("PROVIDER_RATE_LIMIT_RPS", 0),

		Memory: MemorySettings{
			Mode:          getEnvOrDefault("MEMORY_MODE", MemoryModeOff),
			MaxSnippets:   getEnvInt("MEMORY_MAX_SNIPPETS", 8),
			MaxChars:      getEnvInt("MEMORY_MAX_CHARS", 4000),
			EmbedProvider: getEnvOrDefault("EMBED_PROVIDER", EmbedDeterministic),
			EmbedModel:    getEnvOrDefault("EMBED_MODEL", "text-embedding-3-small"),
			EmbedDim:      getEnvInt("EMBED_DIM", 64),
			EmbedBaseURL:  getEnvOrDefault("EMBED_OPENAI_BASE_URL", "https://api.openai.com"),
			EmbedAPIKey:   crypto.NewSecret(os.Getenv("EMBED_OPENAI_API_KEY")),
		},

		Dice: DiceSettings{
			Enabled:           getEnvBool("EVENT_DICE_ENABLED", true),
			GoodEventProb:     getEnvFloat("EVENT_GOOD_EVENT_PROB", 0.25),
			BadEventProb:      getEnvFloat("EVENT_BAD_EVENT_PROB", 0.15),
			RebelEventProb:    getEnvFloat("EVENT_REBEL_EVENT_PROB", 0.10),
			MinEvents:         getEnvInt("EVENT_MIN_EVENTS", 1),
			MaxEvents:         getEnvInt("EVENT_MAX_EVENTS", 5),
			DefaultHemisphere: getEnvOrDefault("EVENT_DEFAULT_HEMISPHERE", "north"),
		},
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", val)
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		slog.Warn("Ignoring non-numeric environment value", "key", key, "value", val)
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		slog.Warn("Ignoring non-boolean environment value", "key", key, "value", val)
		return defaultVal
	}
	return b
}

func parseLogLevel(val string) slog.Level {
	level, ok := lookupLogLevel(val)
	if !ok {
		return slog.LevelInfo
	}
	return level
}

func lookupLogLevel(val string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func levelName(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

func splitCSV(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
