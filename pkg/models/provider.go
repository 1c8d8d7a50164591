package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Provider names understood by the adapter factory.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderOllama   = "ollama"
	ProviderGemini   = "gemini"
	ProviderMock     = "mock"
)

// KnownProvider reports whether name maps to a supported adapter.
func KnownProvider(name string) bool {
	switch name {
	case ProviderOpenAI, ProviderDeepSeek, ProviderOllama, ProviderGemini, ProviderMock:
		return true
	}
	return false
}

// NormalizeProvider lower-cases and trims a provider tag.
func NormalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// KeyRequired reports whether the provider rejects unauthenticated calls.
// Ollama is typically local and the mock never leaves the process.
func KeyRequired(provider string) bool {
	switch provider {
	case ProviderOpenAI, ProviderDeepSeek, ProviderGemini:
		return true
	}
	return false
}

// ProviderConfig is the per-session provider binding, 1:1 with the
// session. The API key is sealed at rest and never leaves the store in
// plaintext.
type ProviderConfig struct {
	SessionID    string          `json:"session_id"`
	Provider     string          `json:"provider"`
	BaseURL      string          `json:"base_url"`
	APIKeySealed string          `json:"-"`
	ModelName    string          `json:"model_name,omitempty"`
	ExtraJSON    json.RawMessage `json:"extra_json,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ProviderConfigView is the redacted shape returned by the API.
type ProviderConfigView struct {
	Provider  string `json:"provider"`
	ModelName string `json:"model_name"`
	BaseURL   string `json:"base_url"`
	HasAPIKey bool   `json:"has_api_key"`
}

// View redacts the config for transport.
func (c *ProviderConfig) View() *ProviderConfigView {
	return &ProviderConfigView{
		Provider:  c.Provider,
		ModelName: c.ModelName,
		BaseURL:   c.BaseURL,
		HasAPIKey: c.APIKeySealed != "",
	}
}

// SetProviderRequest binds a provider to a session. APIKey is plaintext
// in flight only; the store seals it before persisting.
type SetProviderRequest struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// SelectModelRequest activates a model on the session's bound provider.
type SelectModelRequest struct {
	Provider  string `json:"provider,omitempty"`
	ModelName string `json:"model_name"`
}

// ModelList is the response shape of the models listing endpoint.
type ModelList struct {
	Provider string   `json:"provider"`
	Models   []string `json:"models"`
}
