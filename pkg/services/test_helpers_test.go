package services

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/worldloom/loom/pkg/config"
	"github.com/worldloom/loom/pkg/crypto"
	"github.com/worldloom/loom/pkg/events"
	"github.com/worldloom/loom/pkg/memory"
	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/providers"
	"github.com/worldloom/loom/pkg/store"
	testdb "github.com/worldloom/loom/test/database"
)

// fixture bundles the collaborators every service test needs: a store
// over a fresh database, default runtime settings, an event bus, and a
// provider registry ready for adapter overrides.
type fixture struct {
	store    *store.Store
	runtime  *config.Runtime
	bus      *events.Bus
	registry *providers.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("APP_SECRET_KEY", "services-test-secret")
	settings, err := config.Load()
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(crypto.NewSecret("services-test-secret"))
	require.NoError(t, err)
	return &fixture{
		store:    store.New(testdb.NewTestClient(t), cipher),
		runtime:  config.NewRuntime(settings, ""),
		bus:      events.NewBus(),
		registry: providers.NewRegistry(&http.Client{}, 0),
	}
}

// createSession inserts a session through the service so it carries the
// same defaults production rows do.
func (f *fixture) createSession(t *testing.T) *models.Session {
	t.Helper()
	sess, err := NewSessionService(f.store, f.runtime).Create(context.Background(), models.CreateSessionRequest{
		Title:       "test world",
		WorldPreset: "a drifting archipelago of sky cities",
	})
	require.NoError(t, err)
	return sess
}

// appendReport stores a system report row directly, bypassing the
// generation pipeline.
func (f *fixture) appendReport(t *testing.T, sess *models.Session, content string, snapshot json.RawMessage) *models.Message {
	t.Helper()
	msg, err := f.store.AppendMessage(context.Background(), models.AppendMessageParams{
		SessionID:      sess.ID,
		BranchID:       sess.ActiveBranchID,
		Role:           models.RoleSystemReport,
		Content:        content,
		TimeJumpLabel:  sess.TickLabel,
		ReportSnapshot: snapshot,
	})
	require.NoError(t, err)
	return msg
}

// fakeAdapter is a canned provider adapter. Zero value lists two models
// and generates a fixed well-formed report.
type fakeAdapter struct {
	name     string
	models   []string
	listErr  error
	genErr   error
	content  string
	genCalls int
	lastCfg  providers.RuntimeConfig
	lastMsgs []providers.Message
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) ListModels(_ context.Context, cfg providers.RuntimeConfig) ([]string, error) {
	f.lastCfg = cfg
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.models != nil {
		return f.models, nil
	}
	return []string{"model-a", "model-b"}, nil
}

func (f *fakeAdapter) Generate(_ context.Context, cfg providers.RuntimeConfig, msgs []providers.Message, _ providers.GenerateOptions) (*providers.Result, error) {
	f.genCalls++
	f.lastCfg = cfg
	f.lastMsgs = msgs
	if f.genErr != nil {
		return nil, f.genErr
	}
	content := f.content
	if content == "" {
		content = `{"title":"Quiet Month","time_advance":"1 month","summary":"Trade resumes.","events":["A caravan returns."],"risks":["Storm season"]}`
	}
	return &providers.Result{
		Content:  content,
		Provider: cfg.Provider,
		Model:    cfg.Model,
		TokenIn:  12,
		TokenOut: 34,
	}, nil
}

// gateFunc adapts a closure to the GenerationGate interface.
type gateFunc func(sessionID string) bool

func (g gateFunc) Generating(sessionID string) bool { return g(sessionID) }

// fixedMemory adapts a single recall service to the MemorySource
// interface for tests that never swap it.
type fixedMemory struct{ svc memory.Service }

func (f fixedMemory) Memory() memory.Service { return f.svc }

// memorySpy records the hook calls a service makes and serves canned
// snippets.
type memorySpy struct {
	memory.NoopService
	snippets  []string
	queries   []string
	persisted []string
	deleted   []string
}

func (m *memorySpy) Enabled() bool { return true }

func (m *memorySpy) RetrieveContext(_ context.Context, _, _, queryText string, _, _ int) []string {
	m.queries = append(m.queries, queryText)
	return m.snippets
}

func (m *memorySpy) OnMessagePersisted(_ context.Context, msg *models.Message) {
	m.persisted = append(m.persisted, msg.ID)
}

func (m *memorySpy) OnMessageDeleted(_ context.Context, _, _, messageID string) {
	m.deleted = append(m.deleted, messageID)
}

func readFrame(t *testing.T, sub *events.Subscription) map[string]any {
	t.Helper()
	select {
	case raw, ok := <-sub.Events():
		require.True(t, ok, "event channel closed")
		var frame map[string]any
		require.NoError(t, json.Unmarshal(raw, &frame))
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event frame")
		return nil
	}
}

// waitForFrame drains frames until one matches the wanted event type.
func waitForFrame(t *testing.T, sub *events.Subscription, event string) map[string]any {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case raw, ok := <-sub.Events():
			require.True(t, ok, "event channel closed")
			var frame map[string]any
			require.NoError(t, json.Unmarshal(raw, &frame))
			if frame["event"] == event {
				return frame
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", event)
			return nil
		}
	}
}
