package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/joho/godotenv"

	"github.com/worldloom/loom/pkg/crypto"
)

// Runtime holds the debug-tunable subset of settings behind a lock and
// mirrors accepted changes into the .env file so they survive restarts.
// Boot-only settings (port, database, secret key) are rejected.
type Runtime struct {
	mu      sync.RWMutex
	s       Settings
	envPath string
}

// NewRuntime wraps loaded settings. envPath may be empty to disable
// persistence.
func NewRuntime(s *Settings, envPath string) *Runtime {
	return &Runtime{s: *s, envPath: envPath}
}

// Snapshot returns a copy of the current settings. Loop rounds read a
// snapshot so a concurrent patch never changes tunables mid-round.
func (r *Runtime) Snapshot() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s
}

// field describes one patchable setting: its env key, how to parse an
// incoming value, and where it lands in the staged settings copy.
type field struct {
	envKey string
	apply  func(s *Settings, v any) error
}

var immutableAliases = map[string]bool{
	"app_env":        true,
	"app_host":       true,
	"app_port":       true,
	"db_url":         true,
	"app_secret_key": true,
	"cors_origins":   true,
}

var patchableFields = map[string]field{
	"default_post_gen_delay_sec": {"DEFAULT_POST_GEN_DELAY_SEC", func(s *Settings, v any) error {
		n, err := coerceInt(v)
		if err != nil {
			return err
		}
		s.DefaultPostGenDelaySec = n
		return nil
	}},
	"default_tick_label": {"DEFAULT_TICK_LABEL", func(s *Settings, v any) error {
		str, err := coerceString(v)
		if err != nil {
			return err
		}
		s.DefaultTickLabel = str
		return nil
	}},
	"default_output_language": {"DEFAULT_OUTPUT_LANGUAGE", func(s *Settings, v any) error {
		str, err := coerceString(v)
		if err != nil {
			return err
		}
		s.DefaultOutputLanguage = str
		return nil
	}},
	"provider_rate_limit_rps": {"PROVIDER_RATE_LIMIT_RPS", func(s *Settings, v any) error {
		f, err := coerceFloat(v)
		if err != nil {
			return err
		}
		s.ProviderRateLimitRPS = f
		return nil
	}},
	"memory_mode": {"MEMORY_MODE", func(s *Settings, v any) error {
		str, err := coerceString(v)
		if err != nil {
			return err
		}
		s.Memory.Mode = str
		return nil
	}},
	"memory_max_snippets": {"MEMORY_MAX_SNIPPETS", func(s *Settings, v any) error {
		n, err := coerceInt(v)
		if err != nil {
			return err
		}
		s.Memory.MaxSnippets = n
		return nil
	}},
	"memory_max_chars": {"MEMORY_MAX_CHARS", func(s *Settings, v any) error {
		n, err := coerceInt(v)
		if err != nil {
			return err
		}
		s.Memory.MaxChars = n
		return nil
	}},
	"event_dice_enabled": {"EVENT_DICE_ENABLED", func(s *Settings, v any) error {
		b, err := coerceBool(v)
		if err != nil {
			return err
		}
		s.Dice.Enabled = b
		return nil
	}},
	"event_good_event_prob": {"EVENT_GOOD_EVENT_PROB", func(s *Settings, v any) error {
		f, err := coerceFloat(v)
		if err != nil {
			return err
		}
		s.Dice.GoodEventProb = f
		return nil
	}},
	"event_bad_event_prob": {"EVENT_BAD_EVENT_PROB", func(s *Settings, v any) error {
		f, err := coerceFloat(v)
		if err != nil {
			return err
		}
		s.Dice.BadEventProb = f
		return nil
	}},
	"event_rebel_event_prob": {"EVENT_REBEL_EVENT_PROB", func(s *Settings, v any) error {
		f, err := coerceFloat(v)
		if err != nil {
			return err
		}
		s.Dice.RebelEventProb = f
		return nil
	}},
	"event_min_events": {"EVENT_MIN_EVENTS", func(s *Settings, v any) error {
		n, err := coerceInt(v)
		if err != nil {
			return err
		}
		s.Dice.MinEvents = n
		return nil
	}},
	"event_max_events": {"EVENT_MAX_EVENTS", func(s *Settings, v any) error {
		n, err := coerceInt(v)
		if err != nil {
			return err
		}
		s.Dice.MaxEvents = n
		return nil
	}},
	"event_default_hemisphere": {"EVENT_DEFAULT_HEMISPHERE", func(s *Settings, v any) error {
		str, err := coerceString(v)
		if err != nil {
			return err
		}
		s.Dice.DefaultHemisphere = str
		return nil
	}},
	"log_level": {"LOG_LEVEL", func(s *Settings, v any) error {
		str, err := coerceString(v)
		if err != nil {
			return err
		}
		level, ok := lookupLogLevel(str)
		if !ok {
			return fmt.Errorf("unknown log level %q", str)
		}
		s.LogLevel = level
		return nil
	}},
	"embed_provider": {"EMBED_PROVIDER", func(s *Settings, v any) error {
		str, err := coerceString(v)
		if err != nil {
			return err
		}
		s.Memory.EmbedProvider = str
		return nil
	}},
	"embed_model": {"EMBED_MODEL", func(s *Settings, v any) error {
		str, err := coerceString(v)
		if err != nil {
			return err
		}
		s.Memory.EmbedModel = str
		return nil
	}},
	"embed_dim": {"EMBED_DIM", func(s *Settings, v any) error {
		n, err := coerceInt(v)
		if err != nil {
			return err
		}
		s.Memory.EmbedDim = n
		return nil
	}},
	"embed_openai_base_url": {"EMBED_OPENAI_BASE_URL", func(s *Settings, v any) error {
		str, err := coerceString(v)
		if err != nil {
			return err
		}
		s.Memory.EmbedBaseURL = str
		return nil
	}},
	"embed_openai_api_key": {"EMBED_OPENAI_API_KEY", func(s *Settings, v any) error {
		str, err := coerceString(v)
		if err != nil {
			return err
		}
		s.Memory.EmbedAPIKey = crypto.NewSecret(str)
		return nil
	}},
}

// Patch applies updates keyed by setting alias. The whole patch is staged
// and validated before any of it becomes visible; with persist the changed
// keys are also written back to the .env file. Returns the aliases that
// changed.
func (r *Runtime) Patch(updates map[string]any, persist bool) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := r.s
	envUpdates := make(map[string]string, len(updates))
	changed := make([]string, 0, len(updates))

	for alias, value := range updates {
		if immutableAliases[alias] {
			return nil, fmt.Errorf("%w: %s", ErrImmutableSetting, alias)
		}
		f, ok := patchableFields[alias]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSetting, alias)
		}
		if err := f.apply(&staged, value); err != nil {
			return nil, NewValidationError(f.envKey, fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
		envUpdates[f.envKey] = fmt.Sprint(value)
		changed = append(changed, alias)
	}

	if err := staged.Validate(); err != nil {
		return nil, err
	}

	r.s = staged
	sort.Strings(changed)
	if persist {
		r.persist(envUpdates)
	}

	slog.Info("Runtime settings updated", "changed", changed, "persist", persist)
	return changed, nil
}

// View serializes the patchable settings for the debug API.
func (r *Runtime) View() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	embedKey := ""
	if !r.s.Memory.EmbedAPIKey.IsZero() {
		embedKey = "***"
	}
	return map[string]any{
		"log_level":                  levelName(r.s.LogLevel),
		"default_post_gen_delay_sec": r.s.DefaultPostGenDelaySec,
		"default_tick_label":         r.s.DefaultTickLabel,
		"default_output_language":    r.s.DefaultOutputLanguage,
		"provider_rate_limit_rps":    r.s.ProviderRateLimitRPS,
		"memory_mode":                r.s.Memory.Mode,
		"memory_max_snippets":        r.s.Memory.MaxSnippets,
		"memory_max_chars":           r.s.Memory.MaxChars,
		"embed_provider":             r.s.Memory.EmbedProvider,
		"embed_model":                r.s.Memory.EmbedModel,
		"embed_dim":                  r.s.Memory.EmbedDim,
		"embed_openai_base_url":      r.s.Memory.EmbedBaseURL,
		"embed_openai_api_key":       embedKey,
		"event_dice_enabled":         r.s.Dice.Enabled,
		"event_good_event_prob":      r.s.Dice.GoodEventProb,
		"event_bad_event_prob":       r.s.Dice.BadEventProb,
		"event_rebel_event_prob":     r.s.Dice.RebelEventProb,
		"event_min_events":           r.s.Dice.MinEvents,
		"event_max_events":           r.s.Dice.MaxEvents,
		"event_default_hemisphere":   r.s.Dice.DefaultHemisphere,
	}
}

// persist merges the accepted env updates into the .env file, preserving
// keys it does not own. Failure to persist is logged, not fatal; the
// in-memory settings already changed.
func (r *Runtime) persist(envUpdates map[string]string) {
	if r.envPath == "" || len(envUpdates) == 0 {
		return
	}
	existing, err := godotenv.Read(r.envPath)
	if err != nil {
		existing = map[string]string{}
	}
	for k, v := range envUpdates {
		existing[k] = v
	}
	if err := godotenv.Write(existing, r.envPath); err != nil {
		slog.Warn("Could not persist runtime settings to env file",
			"path", r.envPath, "error", err)
	}
}

func coerceString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func coerceBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(t)
	default:
		return false, fmt.Errorf("expected bool, got %T", v)
	}
}

func coerceFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func coerceInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("expected integer, got %v", t)
		}
		return int(t), nil
	case string:
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
