package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/worldloom/loom/pkg/config"
	"github.com/worldloom/loom/pkg/events"
	"github.com/worldloom/loom/pkg/memory"
	"github.com/worldloom/loom/pkg/metrics"
	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/prompt"
	"github.com/worldloom/loom/pkg/providers"
	"github.com/worldloom/loom/pkg/report"
	"github.com/worldloom/loom/pkg/runner"
	"github.com/worldloom/loom/pkg/store"
)

// Window sizes a round reads. The prompt builder clips the timeline
// further; the wider read feeds the continuity digest.
const (
	recentWindow  = 40
	pendingWindow = 20
)

// Simulation is the application façade over the loop: it owns the runner
// pool, executes generation rounds, and maps start/pause/resume onto the
// persistent running flag.
type Simulation struct {
	store    *store.Store
	provider *ProviderService
	registry *providers.Registry
	builder  *prompt.Builder
	bus      *events.Bus
	runtime  *config.Runtime
	pool     *runner.Pool

	memMu sync.RWMutex
	mem   memory.Service

	// seedFn feeds the per-round dice RNG; tests pin it.
	seedFn func() int64
}

// NewSimulation wires the façade and its runner pool. The pool executes
// rounds through the simulation itself.
func NewSimulation(st *store.Store, provider *ProviderService, registry *providers.Registry, mem memory.Service, bus *events.Bus, runtime *config.Runtime) *Simulation {
	s := &Simulation{
		store:    st,
		provider: provider,
		registry: registry,
		builder:  prompt.NewBuilder(prompt.DefaultMaxHistory),
		bus:      bus,
		runtime:  runtime,
		mem:      mem,
		seedFn:   func() int64 { return time.Now().UnixNano() },
	}
	s.pool = runner.NewPool(st, bus, s)
	return s
}

// Start flips the persistent running flag and ensures the session's loop
// is alive. Requires a bound provider with a selected model. Idempotent.
func (s *Simulation) Start(ctx context.Context, sessionID string) (bool, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return false, err
	}
	if _, err := s.provider.GenerationConfig(ctx, sessionID); err != nil {
		return false, err
	}
	if err := s.store.SetRunning(ctx, sessionID, true); err != nil {
		return false, err
	}
	s.pool.Ensure(sessionID)
	s.bus.PublishSessionState(sessionID, true)
	return true, nil
}

// Pause clears the running flag. The loop observes it at its next
// checkpoint and parks; an in-flight round always completes first.
func (s *Simulation) Pause(ctx context.Context, sessionID string) (bool, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return false, err
	}
	if err := s.store.SetRunning(ctx, sessionID, false); err != nil {
		return false, err
	}
	s.bus.PublishSessionState(sessionID, false)
	return false, nil
}

// Resume restarts a paused or backed-off loop. Same preconditions and
// effect as Start; a resume after backoff exhaustion resets the ladder.
func (s *Simulation) Resume(ctx context.Context, sessionID string) (bool, error) {
	return s.Start(ctx, sessionID)
}

// Generating reports whether the session's loop is inside a round.
func (s *Simulation) Generating(sessionID string) bool {
	return s.pool.Generating(sessionID)
}

// StopRunners parks every loop and waits for in-flight rounds. Called
// once at shutdown, before the HTTP server drains.
func (s *Simulation) StopRunners() {
	s.pool.StopAll()
}

// SetMemoryService swaps the recall collaborator, used when debug
// settings rebuild it. Rounds pick the new one up immediately.
func (s *Simulation) SetMemoryService(mem memory.Service) {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	s.mem = mem
}

// Memory returns the current recall collaborator.
func (s *Simulation) Memory() memory.Service {
	s.memMu.RLock()
	defer s.memMu.RUnlock()
	return s.mem
}

// GenerateRound executes one full generation round: snapshot the branch,
// roll the dice plan, build the prompt, call the provider, normalize the
// report, and persist it together with the consumed interventions. The
// runner publishes the resulting message.
func (s *Simulation) GenerateRound(ctx context.Context, sessionID string) (*models.Message, error) {
	started := time.Now()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.ActiveBranchID == "" {
		s.countRound("failed")
		return nil, fmt.Errorf("session %s has no active branch", sessionID)
	}
	branchID := sess.ActiveBranchID

	genCfg, err := s.provider.GenerationConfig(ctx, sessionID)
	if err != nil {
		return nil, s.roundFailure("none", err)
	}
	adapter, err := s.registry.ForProvider(genCfg.Provider)
	if err != nil {
		return nil, s.roundFailure(genCfg.Provider, err)
	}

	timeline, _, err := s.store.ListMessages(ctx, branchID, recentWindow)
	if err != nil {
		s.countRound("failed")
		return nil, err
	}
	pending, err := s.store.ListPendingInterventions(ctx, branchID, pendingWindow)
	if err != nil {
		s.countRound("failed")
		return nil, err
	}
	nextSeq := 1
	if len(timeline) > 0 {
		nextSeq = timeline[len(timeline)-1].Seq + 1
	}

	settings := s.runtime.Snapshot()
	in := prompt.Input{
		WorldPreset:       sess.WorldPreset,
		TickLabel:         sess.TickLabel,
		Timeline:          timeline,
		Interventions:     pending,
		OutputLanguage:    sess.OutputLanguage,
		TimelineStartISO:  sess.TimelineStartISO,
		TimelineStepValue: sess.TimelineStepValue,
		TimelineStepUnit:  sess.TimelineStepUnit,
		NextSeq:           nextSeq,
	}
	rng := rand.New(rand.NewSource(s.seedFn()))
	in.DicePlan = prompt.RollPlan(rng, diceConfig(settings.Dice), prompt.DiceInput{
		Timeline:          timeline,
		TimelineStartISO:  sess.TimelineStartISO,
		TimelineStepValue: sess.TimelineStepValue,
		TimelineStepUnit:  sess.TimelineStepUnit,
		NextSeq:           nextSeq,
		OutputLanguage:    sess.OutputLanguage,
		Now:               time.Now(),
	})
	in.WorldlineContext = prompt.BuildWorldlineContext(timeline)
	in.MemorySnippets = s.Memory().RetrieveContext(ctx, sessionID, branchID,
		prompt.MemoryQuery(in), settings.Memory.MaxSnippets, settings.Memory.MaxChars)

	messages := s.builder.Build(in)

	genStarted := time.Now()
	result, err := adapter.Generate(ctx, genCfg, messages, providers.GenerateOptions{
		ResponseFormat: providers.ResponseFormatJSON,
	})
	if err != nil {
		return nil, s.roundFailure(genCfg.Provider, err)
	}
	genDuration := time.Since(genStarted)

	content := result.Content
	var snapshot json.RawMessage
	if snap := report.Parse(content, sess.TickLabel); snap != nil {
		snap = report.ApplyEventImpacts(snap, sess.OutputLanguage)
		content = snap.Content()
		snapshot = snap.StorageJSON()
	}

	consumedIDs := make([]string, 0, len(pending))
	for _, iv := range pending {
		consumedIDs = append(consumedIDs, iv.ID)
	}

	msg, err := s.store.PersistReport(ctx, models.AppendMessageParams{
		SessionID:      sessionID,
		BranchID:       branchID,
		Role:           models.RoleSystemReport,
		Content:        content,
		TimeJumpLabel:  sess.TickLabel,
		ReportSnapshot: snapshot,
		ProviderName:   result.Provider,
		ModelName:      result.Model,
		TokenIn:        result.TokenIn,
		TokenOut:       result.TokenOut,
		GenDurationMS:  genDuration.Milliseconds(),
	}, consumedIDs)
	if err != nil {
		s.countRound("failed")
		return nil, err
	}

	// Indexing is deliberately after the transaction; recall lag is
	// preferable to a round blocked on the embedder.
	s.Memory().OnMessagePersisted(ctx, msg)

	s.countRound("ok")
	metrics.RoundDuration.Observe(time.Since(started).Seconds())
	return msg, nil
}

// roundFailure records the outcome metrics for a failed round and hands
// the error back unchanged for the runner to classify.
func (s *Simulation) roundFailure(provider string, err error) error {
	if pe, ok := providers.AsError(err); ok {
		metrics.ProviderErrors.WithLabelValues(provider, pe.Code).Inc()
		s.countRound("provider_error")
	} else {
		s.countRound("failed")
	}
	return err
}

func (s *Simulation) countRound(outcome string) {
	metrics.RoundsTotal.WithLabelValues(outcome).Inc()
}

func diceConfig(d config.DiceSettings) prompt.DiceConfig {
	return prompt.DiceConfig{
		Enabled:    d.Enabled,
		GoodProb:   d.GoodEventProb,
		BadProb:    d.BadEventProb,
		RebelProb:  d.RebelEventProb,
		MinEvents:  d.MinEvents,
		MaxEvents:  d.MaxEvents,
		Hemisphere: d.DefaultHemisphere,
	}
}
