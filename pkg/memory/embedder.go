package memory

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/blake2b"

	"github.com/worldloom/loom/pkg/crypto"
)

// Embedder turns snippet text into fixed-dimension vectors. Every
// implementation returns L2-normalized vectors so cosine scoring
// reduces to a dot product over stored norms.
type Embedder interface {
	Provider() string
	ModelName() string
	Dimension() int
	EmbedTexts(ctx context.Context, texts []string) ([][]float64, error)
}

// DeterministicEmbedder hashes tokens into vector buckets. It needs no
// network, no key, and always produces the same vector for the same
// text, which keeps recall reproducible in tests and offline setups.
type DeterministicEmbedder struct {
	dim int
}

// NewDeterministicEmbedder builds the offline embedder with the given
// vector width.
func NewDeterministicEmbedder(dim int) *DeterministicEmbedder {
	if dim < 1 {
		dim = 1
	}
	return &DeterministicEmbedder{dim: dim}
}

func (e *DeterministicEmbedder) Provider() string  { return "deterministic" }
func (e *DeterministicEmbedder) ModelName() string { return "deterministic-v1" }
func (e *DeterministicEmbedder) Dimension() int    { return e.dim }

func (e *DeterministicEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, 0, len(texts))
	for _, text := range texts {
		vectors = append(vectors, e.embed(text))
	}
	return vectors, nil
}

func (e *DeterministicEmbedder) embed(text string) []float64 {
	vector := make([]float64, e.dim)
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		vector[0] = 1.0
		return vector
	}
	for _, token := range tokenize(normalized) {
		digest := tokenDigest(token)
		index := int(binary.BigEndian.Uint32(digest[:4]) % uint32(e.dim))
		sign := 1.0
		if digest[4]%2 != 0 {
			sign = -1.0
		}
		magnitude := 1.0 + float64(digest[5])/255.0
		vector[index] += sign * magnitude
	}
	l2Normalize(vector)
	return vector
}

// tokenize splits on whitespace, keeps word runs together including
// CJK ideographs, and emits punctuation as single-rune tokens.
func tokenize(text string) []string {
	var tokens []string
	var buf []rune
	flush := func() {
		if len(buf) > 0 {
			tokens = append(tokens, string(buf))
			buf = buf[:0]
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' || r == '-':
			buf = append(buf, r)
		default:
			flush()
			tokens = append(tokens, string(r))
		}
	}
	flush()
	return tokens
}

func tokenDigest(token string) [16]byte {
	hasher, _ := blake2b.New(16, nil)
	hasher.Write([]byte(token))
	var digest [16]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}

func l2Normalize(vector []float64) {
	var sum float64
	for _, v := range vector {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm <= 0 {
		return
	}
	for i := range vector {
		vector[i] /= norm
	}
}

func vectorNorm(vector []float64) float64 {
	var sum float64
	for _, v := range vector {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// embedRequestTimeout bounds one embeddings call. Recall is best effort
// and must never stall a round for long.
const embedRequestTimeout = 20 * time.Second

// OpenAIEmbedder calls an OpenAI-compatible /v1/embeddings endpoint.
type OpenAIEmbedder struct {
	client  *http.Client
	baseURL string
	apiKey  crypto.Secret
	model   string
	dim     int
}

// NewOpenAIEmbedder builds the network embedder. The key stays sealed
// inside a Secret and is only revealed into the Authorization header.
func NewOpenAIEmbedder(client *http.Client, baseURL string, apiKey crypto.Secret, model string, dim int) *OpenAIEmbedder {
	if client == nil {
		client = &http.Client{}
	}
	if dim < 1 {
		dim = 1
	}
	return &OpenAIEmbedder{client: client, baseURL: baseURL, apiKey: apiKey, model: model, dim: dim}
}

func (e *OpenAIEmbedder) Provider() string  { return "openai" }
func (e *OpenAIEmbedder) ModelName() string { return e.model }
func (e *OpenAIEmbedder) Dimension() int    { return e.dim }

func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, embedRequestTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{"model": e.model, "input": texts})
	if err != nil {
		return nil, fmt.Errorf("encoding embeddings request: %w", err)
	}
	url := strings.TrimRight(e.baseURL, "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building embeddings request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey.Reveal())
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading embeddings response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embeddings request failed with status %d", resp.StatusCode)
	}

	var decoded struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding embeddings response: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response size mismatch: got %d for %d inputs", len(decoded.Data), len(texts))
	}
	vectors := make([][]float64, 0, len(decoded.Data))
	for _, entry := range decoded.Data {
		if len(entry.Embedding) != e.dim {
			return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(entry.Embedding), e.dim)
		}
		vector := make([]float64, e.dim)
		copy(vector, entry.Embedding)
		l2Normalize(vector)
		vectors = append(vectors, vector)
	}
	return vectors, nil
}
