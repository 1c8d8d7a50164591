// Package providers implements the LLM provider integrations: a shared
// HTTP transport with normalized error classification, one adapter per
// supported provider, and a deterministic mock for offline runs.
//
// Adapters are stateless. Per-call connection parameters arrive in a
// RuntimeConfig that the provider service resolves from the session's
// stored configuration; the API key stays wrapped until the moment it
// enters a request header.
package providers

import (
	"context"
	"encoding/json"

	"github.com/worldloom/loom/pkg/crypto"
)

// Message roles understood by every adapter.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one role-tagged prompt message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RuntimeConfig carries the resolved connection parameters for one call.
type RuntimeConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   crypto.Secret
}

// ResponseFormatJSON asks for native JSON output from providers whose
// protocol has a switch for it.
const ResponseFormatJSON = "json"

// GenerateOptions carries optional generation parameters. Adapters
// forward the fields their wire protocol supports and ignore the rest;
// the zero value reproduces each provider's plain request shape.
type GenerateOptions struct {
	// MaxOutputChars is enforced by the caller on the returned text; no
	// provider exposes a character-level knob.
	MaxOutputChars int
	Temperature    *float64
	ResponseFormat string
	Stop           []string
}

// Result is one completed generation. TokenIn and TokenOut are zero when
// the provider does not report usage.
type Result struct {
	Content  string
	Provider string
	Model    string
	TokenIn  int
	TokenOut int
	// Raw is the undecoded provider response body.
	Raw json.RawMessage
}

// Adapter is implemented by each provider integration.
type Adapter interface {
	// Name returns the canonical provider tag.
	Name() string
	// ListModels fetches the models available under cfg.
	ListModels(ctx context.Context, cfg RuntimeConfig) ([]string, error)
	// Generate produces one completion for the message list.
	Generate(ctx context.Context, cfg RuntimeConfig, messages []Message, opts GenerateOptions) (*Result, error)
}
