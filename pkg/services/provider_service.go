package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/worldloom/loom/pkg/config"
	"github.com/worldloom/loom/pkg/crypto"
	"github.com/worldloom/loom/pkg/events"
	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/providers"
	"github.com/worldloom/loom/pkg/store"
)

// ProviderService manages the per-session provider binding: set,
// model discovery, model selection, and resolving the credentials a
// generation round runs with.
type ProviderService struct {
	store    *store.Store
	registry *providers.Registry
	runtime  *config.Runtime
	bus      *events.Bus
}

// NewProviderService creates a new ProviderService
func NewProviderService(st *store.Store, registry *providers.Registry, runtime *config.Runtime, bus *events.Bus) *ProviderService {
	return &ProviderService{store: st, registry: registry, runtime: runtime, bus: bus}
}

// Set binds a provider to the session after validating the connection by
// listing its models. A missing key reuses the stored one when the
// provider tag is unchanged; switching providers drops key and model.
func (s *ProviderService) Set(ctx context.Context, sessionID string, req models.SetProviderRequest) (*models.ProviderConfigView, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	provider := models.NormalizeProvider(req.Provider)
	if !models.KnownProvider(provider) {
		return nil, providers.NewError(providers.CodeUnsupported,
			fmt.Sprintf("Unsupported provider: %s", provider))
	}
	adapter, err := s.registry.ForProvider(provider)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimSpace(req.BaseURL)
	if baseURL == "" {
		baseURL = s.defaultBaseURL(provider)
	}
	if baseURL == "" && provider != models.ProviderMock {
		return nil, providers.NewError(providers.CodeBaseURLMissing,
			fmt.Sprintf("Base URL is required for %s.", provider))
	}

	apiKey, err := s.resolveAPIKey(ctx, sessionID, provider, req.APIKey)
	if err != nil {
		return nil, err
	}

	// Validate reachability and credentials before persisting anything.
	if _, err := adapter.ListModels(ctx, providers.RuntimeConfig{
		Provider: provider,
		BaseURL:  baseURL,
		APIKey:   apiKey,
	}); err != nil {
		return nil, err
	}

	cfg, err := s.store.UpsertProviderConfig(ctx, store.UpsertProviderParams{
		SessionID: sessionID,
		Provider:  provider,
		BaseURL:   baseURL,
		APIKey:    apiKey,
	})
	if err != nil {
		return nil, err
	}
	return cfg.View(), nil
}

// Models lists the models available to the session's bound provider and
// broadcasts them so every subscriber sees the picker fill in.
func (s *ProviderService) Models(ctx context.Context, sessionID, provider string) ([]string, error) {
	provider = models.NormalizeProvider(provider)
	cfg, err := s.boundConfig(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cfg.Provider != provider {
		return nil, providers.NewError(providers.CodeConfigMissing, "Provider config not found.")
	}

	names, err := s.listModels(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.bus.PublishModelsLoaded(sessionID, provider, names)
	return names, nil
}

// SelectModel activates a model on the bound provider after checking it
// against the live model list.
func (s *ProviderService) SelectModel(ctx context.Context, sessionID, modelName string) (*models.ProviderConfigView, error) {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return nil, providers.NewError(providers.CodeModelInvalid, "Model name must not be empty.")
	}
	cfg, err := s.boundConfig(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	names, err := s.listModels(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if !containsModel(names, modelName) {
		return nil, providers.NewError(providers.CodeModelInvalid, "Selected model is not available.")
	}

	if err := s.store.SelectModel(ctx, sessionID, modelName); err != nil {
		return nil, err
	}
	cfg.ModelName = modelName
	return cfg.View(), nil
}

// Current returns the redacted binding for the session.
func (s *ProviderService) Current(ctx context.Context, sessionID string) (*models.ProviderConfigView, error) {
	cfg, err := s.boundConfig(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return cfg.View(), nil
}

// GenerationConfig resolves the connection parameters a round generates
// with. It is also the start precondition: no binding or no selected
// model refuses the loop before it spins up.
func (s *ProviderService) GenerationConfig(ctx context.Context, sessionID string) (providers.RuntimeConfig, error) {
	cfg, err := s.boundConfig(ctx, sessionID)
	if err != nil {
		return providers.RuntimeConfig{}, err
	}
	if cfg.ModelName == "" {
		return providers.RuntimeConfig{}, providers.NewError(providers.CodeNoModelSelected,
			"Select a model before starting.")
	}
	apiKey, err := s.store.RevealAPIKey(cfg)
	if err != nil {
		return providers.RuntimeConfig{}, fmt.Errorf("reveal api key: %w", err)
	}
	if models.KeyRequired(cfg.Provider) && apiKey.IsZero() {
		return providers.RuntimeConfig{}, providers.NewError(providers.CodeAPIKeyRequired,
			fmt.Sprintf("API key is required for %s.", cfg.Provider))
	}
	return providers.RuntimeConfig{
		Provider: cfg.Provider,
		Model:    cfg.ModelName,
		BaseURL:  cfg.BaseURL,
		APIKey:   apiKey,
	}, nil
}

// boundConfig loads the session's binding, mapping a missing row to the
// provider-flavored config error the endpoints return.
func (s *ProviderService) boundConfig(ctx context.Context, sessionID string) (*models.ProviderConfig, error) {
	cfg, err := s.store.GetProviderConfig(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, providers.NewError(providers.CodeConfigMissing, "Provider config not found.")
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveAPIKey picks the key used for validation: a fresh plaintext key
// wins, then the stored key when rebinding the same provider, and key
// gated providers refuse to proceed without one.
func (s *ProviderService) resolveAPIKey(ctx context.Context, sessionID, provider, plaintext string) (crypto.Secret, error) {
	if key := strings.TrimSpace(plaintext); key != "" {
		return crypto.NewSecret(key), nil
	}
	existing, err := s.store.GetProviderConfig(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return crypto.Secret{}, err
	}
	if existing != nil && existing.Provider == provider && existing.APIKeySealed != "" {
		return s.store.RevealAPIKey(existing)
	}
	if models.KeyRequired(provider) {
		return crypto.Secret{}, providers.NewError(providers.CodeAPIKeyRequired,
			fmt.Sprintf("API key is required for %s.", provider))
	}
	return crypto.Secret{}, nil
}

// listModels calls the adapter with the stored binding and normalizes
// the result: trimmed, deduplicated, empties dropped, order preserved.
func (s *ProviderService) listModels(ctx context.Context, cfg *models.ProviderConfig) ([]string, error) {
	adapter, err := s.registry.ForProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := s.store.RevealAPIKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("reveal api key: %w", err)
	}
	names, err := adapter.ListModels(ctx, providers.RuntimeConfig{
		Provider: cfg.Provider,
		BaseURL:  cfg.BaseURL,
		APIKey:   apiKey,
	})
	if err != nil {
		return nil, err
	}
	return normalizeModels(names), nil
}

func (s *ProviderService) defaultBaseURL(provider string) string {
	settings := s.runtime.Snapshot()
	switch provider {
	case models.ProviderOpenAI:
		return settings.OpenAIBaseURL
	case models.ProviderDeepSeek:
		return settings.DeepSeekBaseURL
	case models.ProviderOllama:
		return settings.OllamaBaseURL
	case models.ProviderGemini:
		return settings.GeminiBaseURL
	}
	return ""
}

func normalizeModels(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func containsModel(names []string, model string) bool {
	for _, name := range names {
		if name == model {
			return true
		}
	}
	return false
}
