package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/worldloom/loom/pkg/crypto"
	"github.com/worldloom/loom/pkg/models"
)

var providerColumns = []string{
	"session_id", "provider", "base_url", "api_key_sealed",
	"model_name", "extra_json", "updated_at",
}

func scanProviderConfig(row interface{ Scan(...any) error }) (*models.ProviderConfig, error) {
	var (
		cfg   models.ProviderConfig
		extra stdsql.NullString
	)
	err := row.Scan(&cfg.SessionID, &cfg.Provider, &cfg.BaseURL, &cfg.APIKeySealed,
		&cfg.ModelName, &extra, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if extra.Valid && extra.String != "" {
		cfg.ExtraJSON = json.RawMessage(extra.String)
	}
	return &cfg, nil
}

// UpsertProviderParams binds a provider to a session. An empty APIKey
// reuses the stored key when the provider tag is unchanged.
type UpsertProviderParams struct {
	SessionID string
	Provider  string
	BaseURL   string
	APIKey    crypto.Secret
	ExtraJSON json.RawMessage
}

// UpsertProviderConfig writes the session's 1:1 provider binding. The key
// is sealed before it reaches the row; switching to a different provider
// drops the previous key and model selection so stale credentials never
// leak across providers.
func (s *Store) UpsertProviderConfig(ctx context.Context, p UpsertProviderParams) (*models.ProviderConfig, error) {
	var out *models.ProviderConfig
	err := s.withTx(ctx, func(tx *stdsql.Tx) error {
		existing, err := s.getProviderConfigTx(ctx, tx, p.SessionID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		sameProvider := existing != nil && existing.Provider == p.Provider

		sealed := ""
		switch {
		case !p.APIKey.IsZero():
			sealed, err = s.cipher.Seal(p.APIKey.Reveal())
			if err != nil {
				return fmt.Errorf("seal api key: %w", err)
			}
		case sameProvider:
			sealed = existing.APIKeySealed
		}

		modelName := ""
		if sameProvider {
			modelName = existing.ModelName
		}
		extra := p.ExtraJSON
		if extra == nil && sameProvider {
			extra = existing.ExtraJSON
		}

		cfg := &models.ProviderConfig{
			SessionID:    p.SessionID,
			Provider:     p.Provider,
			BaseURL:      p.BaseURL,
			APIKeySealed: sealed,
			ModelName:    modelName,
			ExtraJSON:    extra,
			UpdatedAt:    s.now(),
		}

		var extraVal any
		if len(extra) > 0 {
			extraVal = string(extra)
		}
		if existing == nil {
			query, args := s.builder().
				Insert("provider_configs").
				Columns(providerColumns...).
				Values(cfg.SessionID, cfg.Provider, cfg.BaseURL, cfg.APIKeySealed,
					cfg.ModelName, extraVal, cfg.UpdatedAt).
				Query()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert provider config: %w", err)
			}
		} else {
			query, args := s.builder().
				Update("provider_configs").
				Set("provider", cfg.Provider).
				Set("base_url", cfg.BaseURL).
				Set("api_key_sealed", cfg.APIKeySealed).
				Set("model_name", cfg.ModelName).
				Set("extra_json", extraVal).
				Set("updated_at", cfg.UpdatedAt).
				Where(entsql.EQ("session_id", cfg.SessionID)).
				Query()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("update provider config: %w", err)
			}
		}
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetProviderConfig loads the session's provider binding.
func (s *Store) GetProviderConfig(ctx context.Context, sessionID string) (*models.ProviderConfig, error) {
	query, args := s.builder().
		Select(providerColumns...).
		From(entsql.Table("provider_configs")).
		Where(entsql.EQ("session_id", sessionID)).
		Query()

	cfg, err := scanProviderConfig(s.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("provider config for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get provider config: %w", err)
	}
	return cfg, nil
}

func (s *Store) getProviderConfigTx(ctx context.Context, tx *stdsql.Tx, sessionID string) (*models.ProviderConfig, error) {
	query, args := s.builder().
		Select(providerColumns...).
		From(entsql.Table("provider_configs")).
		Where(entsql.EQ("session_id", sessionID)).
		Query()

	cfg, err := scanProviderConfig(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("provider config for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get provider config: %w", err)
	}
	return cfg, nil
}

// SelectModel records the model the loop generates with. The binding must
// already exist.
func (s *Store) SelectModel(ctx context.Context, sessionID, modelName string) error {
	query, args := s.builder().
		Update("provider_configs").
		Set("model_name", modelName).
		Set("updated_at", s.now()).
		Where(entsql.EQ("session_id", sessionID)).
		Query()

	res, err := s.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("select model: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("provider config for session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// RevealAPIKey opens the sealed key for one outbound call. An unset key
// yields a zero secret; a corrupt one is a hard error the user must see,
// since it means the app secret changed underneath stored configs.
func (s *Store) RevealAPIKey(cfg *models.ProviderConfig) (crypto.Secret, error) {
	if cfg.APIKeySealed == "" {
		return crypto.Secret{}, nil
	}
	plain, err := s.cipher.Open(cfg.APIKeySealed)
	if err != nil {
		return crypto.Secret{}, err
	}
	return crypto.NewSecret(plain), nil
}
