package providers

import (
	"context"
	"net/http"

	"github.com/worldloom/loom/pkg/models"
)

const ollamaLabel = "Ollama"

// ollamaAdapter talks to a local Ollama daemon. No authentication.
type ollamaAdapter struct {
	http *transport
}

func (a *ollamaAdapter) Name() string { return models.ProviderOllama }

func (a *ollamaAdapter) ListModels(ctx context.Context, cfg RuntimeConfig) ([]string, error) {
	url, err := joinBaseURL(cfg.BaseURL, "/api/tags", ollamaLabel, "/api")
	if err != nil {
		return nil, err
	}
	payload, _, err := a.http.requestJSON(ctx, http.MethodGet, url, nil, nil, listModelsTimeout)
	if err != nil {
		return nil, err
	}
	names := stringItems(payload, "models", "name")
	if len(names) == 0 {
		return nil, NewError(CodeNoModels, "No models returned by provider.")
	}
	return names, nil
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

func (a *ollamaAdapter) Generate(ctx context.Context, cfg RuntimeConfig, messages []Message, opts GenerateOptions) (*Result, error) {
	url, err := joinBaseURL(cfg.BaseURL, "/api/chat", ollamaLabel, "/api")
	if err != nil {
		return nil, err
	}
	request := ollamaChatRequest{Model: cfg.Model, Messages: messages, Stream: false}
	if opts.ResponseFormat == ResponseFormatJSON {
		request.Format = "json"
	}
	if opts.Temperature != nil || len(opts.Stop) > 0 {
		request.Options = &ollamaOptions{Temperature: opts.Temperature, Stop: opts.Stop}
	}
	payload, raw, err := a.http.requestJSON(ctx, http.MethodPost, url, nil, request, generateTimeout)
	if err != nil {
		return nil, err
	}
	message := mapField(payload, "message")
	content, _ := message["content"].(string)
	if content == "" {
		return nil, NewError(CodeParseError, "Provider returned empty content.")
	}
	return &Result{
		Content:  content,
		Provider: cfg.Provider,
		Model:    cfg.Model,
		TokenIn:  usageInt(payload, "prompt_eval_count"),
		TokenOut: usageInt(payload, "eval_count"),
		Raw:      raw,
	}, nil
}
