package providers

import (
	"context"
	"net/http"
	"strings"

	"github.com/worldloom/loom/pkg/models"
)

const geminiLabel = "Gemini"

// geminiAdapter talks to the Google Gemini REST API. The key travels in
// the x-goog-api-key header, never as a query parameter, so it cannot
// leak through access logs.
type geminiAdapter struct {
	http *transport
}

func (a *geminiAdapter) Name() string { return models.ProviderGemini }

func (a *geminiAdapter) ListModels(ctx context.Context, cfg RuntimeConfig) ([]string, error) {
	url, err := joinBaseURL(cfg.BaseURL, "/v1beta/models", geminiLabel, "/v1beta")
	if err != nil {
		return nil, err
	}
	headers, err := a.authHeaders(cfg)
	if err != nil {
		return nil, err
	}
	payload, _, err := a.http.requestJSON(ctx, http.MethodGet, url, headers, nil, listModelsTimeout)
	if err != nil {
		return nil, err
	}
	names := stringItems(payload, "models", "name")
	if len(names) == 0 {
		return nil, NewError(CodeNoModels, "No models returned by provider.")
	}
	return names, nil
}

type geminiGenerateRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiParts     `json:"system_instruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiParts struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

func (a *geminiAdapter) Generate(ctx context.Context, cfg RuntimeConfig, messages []Message, opts GenerateOptions) (*Result, error) {
	url, err := joinBaseURL(cfg.BaseURL, "/v1beta/"+normalizeGeminiModel(cfg.Model)+":generateContent", geminiLabel, "/v1beta")
	if err != nil {
		return nil, err
	}
	headers, err := a.authHeaders(cfg)
	if err != nil {
		return nil, err
	}
	payload, raw, err := a.http.requestJSON(ctx, http.MethodPost, url, headers, buildGeminiPayload(messages, opts), generateTimeout)
	if err != nil {
		return nil, err
	}
	content, err := parseGeminiContent(payload)
	if err != nil {
		return nil, err
	}
	usage := mapField(payload, "usageMetadata")
	return &Result{
		Content:  content,
		Provider: cfg.Provider,
		Model:    cfg.Model,
		TokenIn:  usageInt(usage, "promptTokenCount"),
		TokenOut: usageInt(usage, "candidatesTokenCount"),
		Raw:      raw,
	}, nil
}

func (a *geminiAdapter) authHeaders(cfg RuntimeConfig) (map[string]string, error) {
	if cfg.APIKey.IsZero() {
		return nil, NewError(CodeAPIKeyRequired, "API key is required for Gemini.")
	}
	return map[string]string{"x-goog-api-key": cfg.APIKey.Reveal()}, nil
}

// normalizeGeminiModel accepts both bare model names and the full
// "models/..." form the list endpoint returns.
func normalizeGeminiModel(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// buildGeminiPayload maps the role-tagged messages onto the Gemini
// contents schema. The first system message becomes the
// system_instruction; any further non-user roles map to "model".
func buildGeminiPayload(messages []Message, opts GenerateOptions) geminiGenerateRequest {
	var systemText string
	var haveSystem bool
	contents := make([]geminiContent, 0, len(messages))
	for _, message := range messages {
		if message.Role == RoleSystem && !haveSystem {
			systemText = message.Content
			haveSystem = true
			continue
		}
		role := "model"
		if message.Role == RoleUser {
			role = "user"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: message.Content}}})
	}
	if len(contents) == 0 {
		contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: ""}}}}
	}
	request := geminiGenerateRequest{Contents: contents}
	if haveSystem && systemText != "" {
		request.SystemInstruction = &geminiParts{Parts: []geminiPart{{Text: systemText}}}
	}
	if cfg := geminiGenerationConfig(opts); cfg != nil {
		request.GenerationConfig = cfg
	}
	return request
}

func geminiGenerationConfig(opts GenerateOptions) *geminiGenConfig {
	cfg := &geminiGenConfig{Temperature: opts.Temperature, StopSequences: opts.Stop}
	if opts.ResponseFormat == ResponseFormatJSON {
		cfg.ResponseMimeType = "application/json"
	}
	if cfg.Temperature == nil && len(cfg.StopSequences) == 0 && cfg.ResponseMimeType == "" {
		return nil
	}
	return cfg
}

func parseGeminiContent(payload map[string]any) (string, error) {
	candidates, _ := payload["candidates"].([]any)
	if len(candidates) == 0 {
		return "", NewError(CodeParseError, "No candidates returned by provider.")
	}
	first, _ := candidates[0].(map[string]any)
	parts, _ := mapField(first, "content")["parts"].([]any)
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		partMap, ok := part.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := partMap["text"].(string); ok && text != "" {
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		return "", NewError(CodeParseError, "Provider returned empty content.")
	}
	return strings.Join(texts, "\n"), nil
}
