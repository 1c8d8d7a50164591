package config

import "fmt"

// Validate checks the settings for internal consistency. It returns the
// first violation found.
func (s *Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("APP_PORT", fmt.Errorf("%w: %d", ErrInvalidValue, s.Port))
	}
	if s.SecretKey.IsZero() {
		return NewValidationError("APP_SECRET_KEY", ErrMissingRequiredField)
	}
	if s.DBURL == "" {
		return NewValidationError("DB_URL", ErrMissingRequiredField)
	}
	if s.ProviderRateLimitRPS < 0 {
		return NewValidationError("PROVIDER_RATE_LIMIT_RPS", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	if s.DefaultPostGenDelaySec < 0 {
		return NewValidationError("DEFAULT_POST_GEN_DELAY_SEC", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}

	switch s.Memory.Mode {
	case MemoryModeOff, MemoryModeVector, MemoryModeHybrid:
	default:
		return NewValidationError("MEMORY_MODE", fmt.Errorf("%w: %q", ErrInvalidValue, s.Memory.Mode))
	}
	switch s.Memory.EmbedProvider {
	case EmbedDeterministic, EmbedOpenAI:
	default:
		return NewValidationError("EMBED_PROVIDER", fmt.Errorf("%w: %q", ErrInvalidValue, s.Memory.EmbedProvider))
	}
	if s.Memory.EmbedDim < 1 {
		return NewValidationError("EMBED_DIM", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if s.Memory.MaxSnippets < 0 || s.Memory.MaxChars < 0 {
		return NewValidationError("MEMORY_MAX_SNIPPETS", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}

	return s.Dice.validate()
}

func (d *DiceSettings) validate() error {
	probs := map[string]float64{
		"EVENT_GOOD_EVENT_PROB":  d.GoodEventProb,
		"EVENT_BAD_EVENT_PROB":   d.BadEventProb,
		"EVENT_REBEL_EVENT_PROB": d.RebelEventProb,
	}
	for key, p := range probs {
		if p < 0 || p > 1 {
			return NewValidationError(key, fmt.Errorf("%w: %v not in [0,1]", ErrInvalidValue, p))
		}
	}
	if d.GoodEventProb+d.BadEventProb+d.RebelEventProb > 1 {
		return NewValidationError("EVENT_GOOD_EVENT_PROB", fmt.Errorf("%w: probabilities sum past 1", ErrInvalidValue))
	}
	if d.MinEvents < 0 || d.MaxEvents < d.MinEvents {
		return NewValidationError("EVENT_MIN_EVENTS", fmt.Errorf("%w: need 0 <= min <= max", ErrInvalidValue))
	}
	if d.DefaultHemisphere != "north" && d.DefaultHemisphere != "south" {
		return NewValidationError("EVENT_DEFAULT_HEMISPHERE", fmt.Errorf("%w: %q", ErrInvalidValue, d.DefaultHemisphere))
	}
	return nil
}
