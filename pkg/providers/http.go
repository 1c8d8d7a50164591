package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/worldloom/loom/pkg/crypto"
	"github.com/worldloom/loom/pkg/version"
)

// Outbound call budgets. Model listings are interactive; generations may
// legitimately run long.
const (
	listModelsTimeout = 30 * time.Second
	generateTimeout   = 90 * time.Second
)

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 8 << 20

// transport is the HTTP layer shared by the network adapters. It owns
// timeout application, optional outbound rate limiting, and the mapping
// from transport failures and non-2xx statuses to provider errors. The
// limiter is swappable at runtime through the debug settings.
type transport struct {
	client  *http.Client
	limiter atomic.Pointer[rate.Limiter]
}

func newTransport(client *http.Client, limiter *rate.Limiter) *transport {
	if client == nil {
		client = &http.Client{}
	}
	t := &transport{client: client}
	if limiter != nil {
		t.limiter.Store(limiter)
	}
	return t
}

// setRate replaces the outbound limiter. rps <= 0 removes it.
func (t *transport) setRate(rps float64) {
	if rps <= 0 {
		t.limiter.Store(nil)
		return
	}
	burst := int(math.Ceil(rps))
	if burst < 1 {
		burst = 1
	}
	t.limiter.Store(rate.NewLimiter(rate.Limit(rps), burst))
}

// requestJSON issues a request and decodes the response as a JSON object,
// returning both the decoded mapping and the raw body.
func (t *transport) requestJSON(ctx context.Context, method, url string, headers map[string]string, body any, timeout time.Duration) (map[string]any, json.RawMessage, error) {
	raw, err := t.request(ctx, method, url, headers, body, timeout)
	if err != nil {
		return nil, nil, err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, nil, NewError(CodeParseError, "Invalid JSON from provider.")
	}
	payload, ok := decoded.(map[string]any)
	if !ok {
		return nil, nil, NewError(CodeParseError, "Provider returned invalid JSON payload.")
	}
	return payload, raw, nil
}

func (t *transport) request(ctx context.Context, method, url string, headers map[string]string, body any, timeout time.Duration) ([]byte, error) {
	if limiter := t.limiter.Load(); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, classifyTransportError(err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, NewError(CodeParseError, "Failed to encode provider request.")
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &Error{Code: CodeConnection, Message: "Provider connection failed.", Retryable: true}
	}
	req.Header.Set("User-Agent", version.Full())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, data)
	}
	return data, nil
}

// classifyTransportError maps transport failures onto the retryable
// codes. Caller cancellation passes through untouched so a shutdown is
// not reported as a provider fault.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Code: CodeTimeout, Message: "Provider request timed out.", Retryable: true}
	}
	return &Error{Code: CodeConnection, Message: "Provider connection failed.", Retryable: true}
}

// joinBaseURL joins the configured base with an endpoint path, collapsing
// the version prefix when the base already carries it so both
// "https://host" and "https://host/v1" style bases work.
func joinBaseURL(baseURL, path, providerLabel, versionPrefix string) (string, error) {
	if baseURL == "" {
		return "", NewError(CodeBaseURLMissing, fmt.Sprintf("Base URL is required for %s.", providerLabel))
	}
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, versionPrefix) && strings.HasPrefix(path, versionPrefix+"/") {
		return base + path[len(versionPrefix):], nil
	}
	return base + path, nil
}

// bearerAuth builds Authorization headers, refusing to proceed without a
// key.
func bearerAuth(key crypto.Secret, providerLabel string) (map[string]string, error) {
	if key.IsZero() {
		return nil, NewError(CodeAPIKeyRequired, fmt.Sprintf("API key is required for %s.", providerLabel))
	}
	return map[string]string{"Authorization": "Bearer " + key.Reveal()}, nil
}

// stringItems collects the named string field from each element of a
// list-of-objects payload entry, skipping anything malformed.
func stringItems(payload map[string]any, listKey, field string) []string {
	items, _ := payload[listKey].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if value, ok := entry[field].(string); ok && value != "" {
			out = append(out, value)
		}
	}
	return out
}

// mapField reads a nested object field, returning nil when absent.
func mapField(payload map[string]any, key string) map[string]any {
	value, _ := payload[key].(map[string]any)
	return value
}

// usageInt reads a numeric counter, tolerating the float64 shape
// encoding/json decodes numbers to.
func usageInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
