package crypto

import (
	"encoding/json"
	"log/slog"
)

// masked is what a Secret prints as through every formatting path.
const masked = "***"

// Secret holds a sensitive string and refuses to print it. Formatting,
// logging and JSON encoding all yield the masked placeholder; callers that
// need the raw value must say so with Reveal.
type Secret struct {
	value string
}

// NewSecret wraps a raw value.
func NewSecret(v string) Secret { return Secret{value: v} }

// Reveal returns the raw value.
func (s Secret) Reveal() string { return s.value }

// IsZero reports whether the secret is unset.
func (s Secret) IsZero() bool { return s.value == "" }

func (s Secret) String() string { return masked }

func (s Secret) GoString() string { return masked }

// LogValue keeps slog from reaching the raw value.
func (s Secret) LogValue() slog.Value { return slog.StringValue(masked) }

// MarshalJSON encodes the placeholder, never the value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(masked)
}

// UnmarshalJSON accepts a plain string so request payloads can bind into a
// Secret without the raw key passing through an intermediate field.
func (s *Secret) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s.value = v
	return nil
}
