package providers

import (
	"context"
	"net/http"

	"github.com/worldloom/loom/pkg/models"
)

const deepseekLabel = "DeepSeek"

// deepseekAdapter talks to the DeepSeek OpenAI-compatible API. DeepSeek
// publishes its endpoints without the /v1 segment, so the paths here are
// bare and the usual prefix collapsing still accepts /v1-style bases.
type deepseekAdapter struct {
	http *transport
}

func (a *deepseekAdapter) Name() string { return models.ProviderDeepSeek }

func (a *deepseekAdapter) ListModels(ctx context.Context, cfg RuntimeConfig) ([]string, error) {
	url, err := joinBaseURL(cfg.BaseURL, "/models", deepseekLabel, "/v1")
	if err != nil {
		return nil, err
	}
	headers, err := bearerAuth(cfg.APIKey, deepseekLabel)
	if err != nil {
		return nil, err
	}
	payload, _, err := a.http.requestJSON(ctx, http.MethodGet, url, headers, nil, listModelsTimeout)
	if err != nil {
		return nil, err
	}
	names := stringItems(payload, "data", "id")
	if len(names) == 0 {
		return nil, NewError(CodeNoModels, "No models returned by provider.")
	}
	return names, nil
}

type deepseekChatRequest struct {
	Model          string      `json:"model"`
	Messages       []Message   `json:"messages"`
	Stream         bool        `json:"stream"`
	Temperature    *float64    `json:"temperature,omitempty"`
	Stop           []string    `json:"stop,omitempty"`
	ResponseFormat *formatSpec `json:"response_format,omitempty"`
}

func (a *deepseekAdapter) Generate(ctx context.Context, cfg RuntimeConfig, messages []Message, opts GenerateOptions) (*Result, error) {
	url, err := joinBaseURL(cfg.BaseURL, "/chat/completions", deepseekLabel, "/v1")
	if err != nil {
		return nil, err
	}
	headers, err := bearerAuth(cfg.APIKey, deepseekLabel)
	if err != nil {
		return nil, err
	}
	request := deepseekChatRequest{
		Model:          cfg.Model,
		Messages:       messages,
		Stream:         false,
		Temperature:    opts.Temperature,
		Stop:           opts.Stop,
		ResponseFormat: chatResponseFormat(opts),
	}
	payload, raw, err := a.http.requestJSON(ctx, http.MethodPost, url, headers, request, generateTimeout)
	if err != nil {
		return nil, err
	}
	content, err := parseChatContent(payload)
	if err != nil {
		return nil, err
	}
	usage := mapField(payload, "usage")
	return &Result{
		Content:  content,
		Provider: cfg.Provider,
		Model:    cfg.Model,
		TokenIn:  usageInt(usage, "prompt_tokens"),
		TokenOut: usageInt(usage, "completion_tokens"),
		Raw:      raw,
	}, nil
}
