// Package memory gives the simulation long-range recall. Persisted
// timeline messages are embedded and indexed per branch; before each
// round the service retrieves the snippets most similar to the
// upcoming prompt. Recall is strictly best effort: every failure is
// logged and swallowed so a broken embedder can never block a round.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/worldloom/loom/pkg/config"
	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/store"
)

// Service is the recall collaborator the simulation talks to. The
// simulation never depends on a concrete mode; turning memory off just
// swaps in the noop implementation.
type Service interface {
	// Enabled reports whether recall contributes snippets at all.
	Enabled() bool
	// RetrieveContext returns up to maxSnippets remembered texts
	// relevant to queryText, newest and most similar first, trimmed to
	// the maxChars rune budget. Zero or negative limits fall back to
	// the configured defaults.
	RetrieveContext(ctx context.Context, sessionID, branchID, queryText string, maxSnippets, maxChars int) []string
	// OnMessagePersisted indexes a freshly stored message.
	OnMessagePersisted(ctx context.Context, msg *models.Message)
	// OnMessageDeleted retires every fragment indexed for the message.
	OnMessageDeleted(ctx context.Context, sessionID, branchID, messageID string)
	// OnFork runs after a branch fork copied history up to cutSeq.
	OnFork(ctx context.Context, sessionID, sourceBranchID, newBranchID string, cutSeq int)
}

// NoopService is the disabled mode. It satisfies Service so callers
// never branch on configuration.
type NoopService struct{}

func (NoopService) Enabled() bool { return false }

func (NoopService) RetrieveContext(context.Context, string, string, string, int, int) []string {
	return nil
}

func (NoopService) OnMessagePersisted(context.Context, *models.Message) {}

func (NoopService) OnMessageDeleted(context.Context, string, string, string) {}

func (NoopService) OnFork(context.Context, string, string, string, int) {}

// GraphProvider contributes extra candidates in hybrid mode, typically
// keyword or relation matches that pure vector similarity misses.
type GraphProvider interface {
	Related(ctx context.Context, sessionID, branchID, queryText string, limit int) []*models.MemoryHit
}

// nullGraph is the placeholder until a real graph source is wired in.
type nullGraph struct{}

func (nullGraph) Related(context.Context, string, string, string, int) []*models.MemoryHit {
	return nil
}

// VectorService indexes message content as embeddings and retrieves by
// cosine similarity, optionally merged with graph candidates.
type VectorService struct {
	store    *store.Store
	embedder Embedder
	graph    GraphProvider

	maxSnippets int
	maxChars    int
	hybrid      bool
}

// NewVectorService wires the embedding recall mode. maxSnippets and
// maxChars act as upper bounds for per-call overrides.
func NewVectorService(st *store.Store, embedder Embedder, graph GraphProvider, maxSnippets, maxChars int, hybrid bool) *VectorService {
	if maxSnippets < 1 {
		maxSnippets = 1
	}
	if maxChars < 1 {
		maxChars = 1
	}
	if graph == nil {
		graph = nullGraph{}
	}
	return &VectorService{
		store:       st,
		embedder:    embedder,
		graph:       graph,
		maxSnippets: maxSnippets,
		maxChars:    maxChars,
		hybrid:      hybrid,
	}
}

func (s *VectorService) Enabled() bool { return true }

// RetrieveContext embeds the query, scores the branch's stored vectors,
// merges in graph hits when hybrid, and returns deduplicated snippet
// texts within the character budget.
func (s *VectorService) RetrieveContext(ctx context.Context, sessionID, branchID, queryText string, maxSnippets, maxChars int) []string {
	topK := maxSnippets
	if topK <= 0 {
		topK = s.maxSnippets
	}
	if topK > s.maxSnippets {
		topK = s.maxSnippets
	}
	if topK < 1 {
		topK = 1
	}

	query := strings.TrimSpace(queryText)
	if query == "" {
		return nil
	}

	// The vector leg and the graph leg are independent lookups; run
	// them concurrently. Each leg logs its own failures and returns
	// empty rather than aborting the round.
	var vectorHits, graphHits []*models.MemoryHit
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		vectors, err := s.embedder.EmbedTexts(groupCtx, []string{query})
		if err != nil || len(vectors) != 1 {
			slog.Warn("Memory query embedding failed", "session_id", sessionID, "error", err)
			return nil
		}
		vectorHits = s.searchSimilar(groupCtx, sessionID, branchID, vectors[0], topK*3)
		return nil
	})
	if s.hybrid {
		group.Go(func() error {
			graphHits = s.graph.Related(groupCtx, sessionID, branchID, query, topK*2)
			return nil
		})
	}
	_ = group.Wait()

	merged := mergeHits(append(vectorHits, graphHits...))
	if len(merged) > topK {
		merged = merged[:topK]
	}

	budget := maxChars
	if budget <= 0 {
		budget = s.maxChars
	}
	snippets := make([]string, 0, len(merged))
	used := 0
	for _, hit := range merged {
		cost := utf8.RuneCountInString(hit.Item.Text)
		if used+cost > budget {
			break
		}
		snippets = append(snippets, hit.Item.Text)
		used += cost
	}
	return snippets
}

// searchSimilar scores the most recent stored vectors against the query
// and keeps the top limit. The candidate window is wider than the limit
// so older but highly similar fragments still surface.
func (s *VectorService) searchSimilar(ctx context.Context, sessionID, branchID string, query []float64, limit int) []*models.MemoryHit {
	if limit < 1 {
		limit = 1
	}
	window := max(limit*8, 64)
	candidates, err := s.store.ListMemoryVectors(ctx, sessionID, branchID, window)
	if err != nil {
		slog.Warn("Memory vector listing failed", "session_id", sessionID, "error", err)
		return nil
	}
	queryNorm := vectorNorm(query)
	if queryNorm <= 0 {
		return nil
	}
	hits := make([]*models.MemoryHit, 0, len(candidates))
	for _, candidate := range candidates {
		if len(candidate.Vector) != len(query) {
			continue
		}
		score := 0.0
		if candidate.Norm > 0 {
			var dot float64
			for i, v := range query {
				dot += v * candidate.Vector[i]
			}
			score = dot / (queryNorm * candidate.Norm)
		}
		hits = append(hits, &models.MemoryHit{Item: candidate.Item, Score: score})
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// mergeHits deduplicates by normalized snippet text, keeping the best
// score per text, then reorders by score and recency.
func mergeHits(hits []*models.MemoryHit) []*models.MemoryHit {
	best := make(map[string]*models.MemoryHit, len(hits))
	keys := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit == nil || hit.Item == nil {
			continue
		}
		key := strings.ToLower(strings.Join(strings.Fields(hit.Item.Text), " "))
		if key == "" {
			continue
		}
		current, seen := best[key]
		if !seen {
			best[key] = hit
			keys = append(keys, key)
			continue
		}
		if hit.Score > current.Score {
			best[key] = hit
		}
	}
	merged := make([]*models.MemoryHit, 0, len(keys))
	for _, key := range keys {
		merged = append(merged, best[key])
	}
	sortHits(merged)
	return merged
}

func sortHits(hits []*models.MemoryHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Item.Seq > hits[j].Item.Seq
	})
}

// OnMessagePersisted embeds and stores the message content. Empty
// content and embedding failures are skipped silently; indexing must
// never surface into the round that produced the message.
func (s *VectorService) OnMessagePersisted(ctx context.Context, msg *models.Message) {
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return
	}
	vectors, err := s.embedder.EmbedTexts(ctx, []string{text})
	if err != nil || len(vectors) != 1 {
		slog.Warn("Memory indexing embed failed", "message_id", msg.ID, "error", err)
		return
	}
	norm := vectorNorm(vectors[0])
	if norm <= 0 {
		norm = 1.0
	}
	hash := sha256.Sum256([]byte(text))
	item := &models.MemoryItem{
		SessionID:   msg.SessionID,
		BranchID:    msg.BranchID,
		MessageID:   msg.ID,
		Seq:         msg.Seq,
		Text:        text,
		ContentHash: hex.EncodeToString(hash[:]),
	}
	if err := s.store.UpsertMemory(ctx, item, vectors[0], norm); err != nil {
		slog.Warn("Memory indexing failed", "message_id", msg.ID, "error", err)
	}
}

// OnMessageDeleted tombstones every fragment pointing at the message so
// retracted history stops matching immediately.
func (s *VectorService) OnMessageDeleted(ctx context.Context, sessionID, branchID, messageID string) {
	if _, err := s.store.TombstoneMemoryByMessage(ctx, messageID); err != nil {
		slog.Warn("Memory tombstone failed", "session_id", sessionID, "branch_id", branchID, "message_id", messageID, "error", err)
	}
}

// OnFork is a no-op here: the store clones live fragments up to the cut
// inside the fork transaction, so recall on the new branch is already
// consistent by the time this hook runs.
func (s *VectorService) OnFork(context.Context, string, string, string, int) {}

// NewService builds the recall collaborator for the configured mode.
// Misconfiguration degrades instead of failing: unknown modes disable
// recall and a missing API key falls back to the offline embedder.
func NewService(st *store.Store, httpClient *http.Client, cfg config.MemorySettings) Service {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", config.MemoryModeOff:
		return NoopService{}
	case config.MemoryModeVector, config.MemoryModeHybrid:
	default:
		slog.Warn("Unknown memory mode, recall disabled", "mode", cfg.Mode)
		return NoopService{}
	}
	return NewVectorService(st, newEmbedder(httpClient, cfg), nil, cfg.MaxSnippets, cfg.MaxChars, mode == config.MemoryModeHybrid)
}

func newEmbedder(client *http.Client, cfg config.MemorySettings) Embedder {
	provider := strings.ToLower(strings.TrimSpace(cfg.EmbedProvider))
	switch provider {
	case config.EmbedOpenAI:
		if cfg.EmbedAPIKey.IsZero() {
			slog.Warn("Embedding API key missing, using deterministic embedder")
			return NewDeterministicEmbedder(cfg.EmbedDim)
		}
		model := cfg.EmbedModel
		if model == "" {
			model = "text-embedding-3-small"
		}
		return NewOpenAIEmbedder(client, cfg.EmbedBaseURL, cfg.EmbedAPIKey, model, cfg.EmbedDim)
	case "", config.EmbedDeterministic:
		return NewDeterministicEmbedder(cfg.EmbedDim)
	default:
		slog.Warn("Unknown embedding provider, using deterministic embedder", "provider", cfg.EmbedProvider)
		return NewDeterministicEmbedder(cfg.EmbedDim)
	}
}
