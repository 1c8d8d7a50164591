package providers

import (
	"context"
	"net/http"

	"github.com/worldloom/loom/pkg/models"
)

const openaiLabel = "OpenAI"

// openaiAdapter talks to OpenAI-compatible APIs. Generation prefers the
// Responses API and falls back to chat completions when the endpoint is
// absent or answers with an unknown shape.
type openaiAdapter struct {
	http *transport
}

func (a *openaiAdapter) Name() string { return models.ProviderOpenAI }

func (a *openaiAdapter) ListModels(ctx context.Context, cfg RuntimeConfig) ([]string, error) {
	url, err := joinBaseURL(cfg.BaseURL, "/v1/models", openaiLabel, "/v1")
	if err != nil {
		return nil, err
	}
	headers, err := bearerAuth(cfg.APIKey, openaiLabel)
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

type openaiResponsesRequest struct {
	Model       string    `json:"model"`
	Input       []Message `json:"input"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type openaiChatRequest struct {
	Model          string      `json:"model"`
	Messages       []Message   `json:"messages"`
	Temperature    *float64    `json:"temperature,omitempty"`
	Stop           []string    `json:"stop,omitempty"`
	ResponseFormat *formatSpec `json:"response_format,omitempty"`
}

type formatSpec struct {
	Type string `json:"type"`
}

func (a *openaiAdapter) Generate(ctx context.Context, cfg RuntimeConfig, messages []Message, opts GenerateOptions) (*Result, error) {
	headers, err := bearerAuth(cfg.APIKey, openaiLabel)
	if err != nil {
		return nil, err
	}
	url, err := joinBaseURL(cfg.BaseURL, "/v1/responses", openaiLabel, "/v1")
	if err != nil {
		return nil, err
	}

	request := openaiResponsesRequest{Model: cfg.Model, Input: messages, Temperature: opts.Temperature}
	payload, raw, err := a.http.requestJSON(ctx, http.MethodPost, url, headers, request, generateTimeout)
	if err == nil {
		var content string
		content, err = parseResponsesOutput(payload)
		if err == nil {
			usage := mapField(payload, "usage")
			return &Result{
				Content:  content,
				Provider: cfg.Provider,
				Model:    cfg.Model,
				TokenIn:  usageInt(usage, "input_tokens"),
				TokenOut: usageInt(usage, "output_tokens"),
				Raw:      raw,
			}, nil
		}
	}
	if !fallsBackToChat(err) {
		return nil, err
	}
	return a.generateChat(ctx, cfg, headers, messages, opts)
}

// generateChat is the legacy path for OpenAI-compatible servers that do
// not expose the Responses API.
func (a *openaiAdapter) generateChat(ctx context.Context, cfg RuntimeConfig, headers map[string]string, messages []Message, opts GenerateOptions) (*Result, error) {
	url, err := joinBaseURL(cfg.BaseURL, "/v1/chat/completions", openaiLabel, "/v1")
	if err != nil {
		return nil, err
	}
	request := openaiChatRequest{
		Model:          cfg.Model,
		Messages:       messages,
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

// fallsBackToChat reports whether a Responses API failure suggests the
// endpoint is absent or speaks another shape. Transient failures
// propagate instead so the runner's retry policy owns them.
func fallsBackToChat(err error) bool {
	pe, ok := AsError(err)
	if !ok || pe.Retryable {
		return false
	}
	if pe.Code == CodeParseError {
		return true
	}
	if pe.Code == CodeBadStatus {
		switch pe.StatusCode {
		case 400, 404, 405:
			return true
		}
	}
	return false
}

func parseResponsesOutput(payload map[string]any) (string, error) {
	if text, ok := payload["output_text"].(string); ok {
		return text, nil
	}
	output, _ := payload["output"].([]any)
	for _, entry := range output {
		entryMap, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		items, _ := entryMap["content"].([]any)
		for _, item := range items {
			itemMap, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if itemMap["type"] != "output_text" {
				continue
			}
			if text, ok := itemMap["text"].(string); ok && text != "" {
				return text, nil
			}
		}
	}
	return "", NewError(CodeParseError, "No output_text returned by provider.")
}

// parseChatContent reads the first choice of an OpenAI-style chat
// completion. Shared with the DeepSeek adapter, which speaks the same
// schema.
func parseChatContent(payload map[string]any) (string, error) {
	choices, _ := payload["choices"].([]any)
	if len(choices) == 0 {
		return "", NewError(CodeParseError, "No choices returned by provider.")
	}
	first, _ := choices[0].(map[string]any)
	message := mapField(first, "message")
	content, _ := message["content"].(string)
	if content == "" {
		return "", NewError(CodeParseError, "Provider returned empty content.")
	}
	return content, nil
}

func chatResponseFormat(opts GenerateOptions) *formatSpec {
	if opts.ResponseFormat == ResponseFormatJSON {
		return &formatSpec{Type: "json_object"}
	}
	return nil
}
