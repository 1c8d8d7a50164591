// Package masking scrubs credential material out of text that leaves the
// process: log lines, error events, and provider error bodies. Patterns are
// compiled once at startup; the scrubber is stateless and safe for
// concurrent use.
package masking

import "regexp"

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatterns cover the credential shapes of the supported providers
// plus the generic header and key=value forms they travel in.
var builtinPatterns = []*CompiledPattern{
	{
		Name:        "openai_api_key",
		Regex:       regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`),
		Replacement: "***",
		Description: "OpenAI-family secret keys (also used by DeepSeek)",
	},
	{
		Name:        "google_api_key",
		Regex:       regexp.MustCompile(`AIza[0-9A-Za-z_-]{10,}`),
		Replacement: "***",
		Description: "Google API keys as used by Gemini",
	},
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{8,}=*`),
		Replacement: "Bearer ***",
		Description: "Authorization bearer headers",
	},
	{
		Name:        "goog_api_key_header",
		Regex:       regexp.MustCompile(`(?i)(x-goog-api-key\s*[:=]\s*)\S+`),
		Replacement: "${1}***",
		Description: "Gemini API key header",
	},
	{
		Name:        "generic_key_value",
		Regex:       regexp.MustCompile(`(?i)("?(?:api[_-]?key|apikey|access[_-]?token)"?\s*[:=]\s*"?)[A-Za-z0-9._~+/-]{8,}`),
		Replacement: "${1}***",
		Description: "Generic api_key/token assignments in JSON or env form",
	},
}
