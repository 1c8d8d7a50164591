package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/worldloom/loom/pkg/masking"
)

// Stable error codes surfaced to clients and the event stream. Retryable
// codes mark transient conditions the runner may retry.
const (
	CodeTimeout        = "PROVIDER_TIMEOUT"
	CodeRateLimit      = "PROVIDER_RATE_LIMIT"
	CodeUpstream       = "PROVIDER_UPSTREAM"
	CodeBadStatus      = "PROVIDER_BAD_STATUS"
	CodeParseError     = "PROVIDER_PARSE_ERROR"
	CodeConnection     = "PROVIDER_CONNECTION_ERROR"
	CodeNoModels       = "PROVIDER_NO_MODELS"
	CodeBaseURLMissing = "PROVIDER_BASE_URL_MISSING"
	CodeAPIKeyRequired = "API_KEY_REQUIRED"

	// Raised by the provider service rather than an adapter.
	CodeUnsupported     = "PROVIDER_UNSUPPORTED"
	CodeConfigMissing   = "PROVIDER_CONFIG_MISSING"
	CodeModelInvalid    = "PROVIDER_MODEL_INVALID"
	CodeNoModelSelected = "NO_MODEL_SELECTED"
	CodeSecretMissing   = "APP_SECRET_MISSING"
)

// Error is a classified provider failure.
type Error struct {
	Code       string
	Message    string
	Retryable  bool
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a non-retryable provider error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// AsError unwraps err into a provider error when it is one.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether err is a provider error marked retryable.
func IsRetryable(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Retryable
}

// IsCode reports whether err is a provider error with the given code.
func IsCode(err error, code string) bool {
	pe, ok := AsError(err)
	return ok && pe.Code == code
}

// maxBodyExcerpt caps how much of a provider error body makes it into a
// message.
const maxBodyExcerpt = 512

// statusError normalizes a non-2xx provider response into an Error.
// 408, 429 and 5xx are transient; everything else is a hard failure.
func statusError(status int, body []byte) *Error {
	formatted := fmt.Sprintf("Provider returned %d: %s", status, extractResponseMessage(body))
	switch {
	case status == 408:
		return &Error{Code: CodeTimeout, Message: formatted, Retryable: true, StatusCode: status}
	case status == 429:
		return &Error{Code: CodeRateLimit, Message: formatted, Retryable: true, StatusCode: status}
	case status >= 500:
		return &Error{Code: CodeUpstream, Message: formatted, Retryable: true, StatusCode: status}
	}
	return &Error{Code: CodeBadStatus, Message: formatted, StatusCode: status}
}

// extractResponseMessage pulls a concise message out of a provider error
// body, preferring the JSON error envelope, then scrubs any credential
// echo before the text can reach logs or clients.
func extractResponseMessage(body []byte) string {
	message := strings.TrimSpace(rawResponseMessage(body))
	if message == "" {
		message = "Unknown error from provider."
	}
	return truncateRunes(masking.Scrub(message), maxBodyExcerpt)
}

func rawResponseMessage(body []byte) string {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return string(body)
	}
	payload, ok := decoded.(map[string]any)
	if !ok {
		return string(body)
	}
	switch errField := payload["error"].(type) {
	case map[string]any:
		if detail, ok := errField["message"].(string); ok && strings.TrimSpace(detail) != "" {
			return detail
		}
		if detail, ok := errField["code"].(string); ok && strings.TrimSpace(detail) != "" {
			return detail
		}
	case string:
		if strings.TrimSpace(errField) != "" {
			return errField
		}
	}
	if message, ok := payload["message"].(string); ok && strings.TrimSpace(message) != "" {
		return message
	}
	return string(body)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
