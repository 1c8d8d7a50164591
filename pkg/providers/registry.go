package providers

import (
	"fmt"
	"math"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/worldloom/loom/pkg/models"
)

// Registry resolves adapters by provider name. All network adapters share
// one transport so the outbound rate limit covers every provider.
type Registry struct {
	adapters  map[string]Adapter
	transport *transport
}

// NewRegistry wires the default adapter set. client overrides the HTTP
// client (nil picks a default); rps > 0 throttles outbound calls.
func NewRegistry(client *http.Client, rps float64) *Registry {
	var limiter *rate.Limiter
	if rps > 0 {
		burst := int(math.Ceil(rps))
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	t := newTransport(client, limiter)
	return &Registry{
		adapters: map[string]Adapter{
			models.ProviderOpenAI:   &openaiAdapter{http: t},
			models.ProviderDeepSeek: &deepseekAdapter{http: t},
			models.ProviderOllama:   &ollamaAdapter{http: t},
			models.ProviderGemini:   &geminiAdapter{http: t},
			models.ProviderMock:     &MockAdapter{},
		},
		transport: t,
	}
}

// SetRateLimit retunes the shared outbound limiter. rps <= 0 disables it.
func (r *Registry) SetRateLimit(rps float64) {
	r.transport.setRate(rps)
}

// Override replaces the adapter registered under name. Tests substitute
// canned adapters this way.
func (r *Registry) Override(name string, adapter Adapter) {
	r.adapters[name] = adapter
}

// ForProvider returns the adapter registered for name.
func (r *Registry) ForProvider(name string) (Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, NewError(CodeUnsupported, fmt.Sprintf("Unsupported provider: %s", name))
	}
	return adapter, nil
}
