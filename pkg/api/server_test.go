package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldloom/loom/pkg/config"
	"github.com/worldloom/loom/pkg/crypto"
	"github.com/worldloom/loom/pkg/database"
	"github.com/worldloom/loom/pkg/events"
	"github.com/worldloom/loom/pkg/memory"
	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/providers"
	"github.com/worldloom/loom/pkg/services"
	"github.com/worldloom/loom/pkg/store"
	testdb "github.com/worldloom/loom/test/database"
)

// apiFixture wires the full stack behind an in-process router: real
// store over a fresh database, real services, and the mock provider for
// offline generation.
type apiFixture struct {
	db       *database.Client
	store    *store.Store
	runtime  *config.Runtime
	bus      *events.Bus
	registry *providers.Registry
	sim      *services.Simulation
	engine   *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("APP_SECRET_KEY", "api-test-secret")

	settings, err := config.Load()
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(crypto.NewSecret("api-test-secret"))
	require.NoError(t, err)

	client := testdb.NewTestClient(t)
	st := store.New(client, cipher)
	runtime := config.NewRuntime(settings, "")
	bus := events.NewBus()
	registry := providers.NewRegistry(&http.Client{}, 0)

	provider := services.NewProviderService(st, registry, runtime, bus)
	sim := services.NewSimulation(st, provider, registry, memory.NoopService{}, bus, runtime)
	t.Cleanup(sim.StopRunners)

	sessions := services.NewSessionService(st, runtime)
	branches := services.NewBranchService(st, bus)
	timeline := services.NewTimelineService(st, sim, bus, sim)
	debug := services.NewDebugService(runtime, new(slog.LevelVar), registry, sim, st, &http.Client{})
	manager := events.NewManager(bus, events.DefaultWriteTimeout)

	srv := NewServer(client, manager, sessions, branches, timeline, provider, sim, debug,
		[]string{"http://localhost:5173"})

	return &apiFixture{
		db:       client,
		store:    st,
		runtime:  runtime,
		bus:      bus,
		registry: registry,
		sim:      sim,
		engine:   srv.Router(),
	}
}

// do runs one request through the router and returns the recorder.
func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out),
		"body: %s", rec.Body.String())
}

// createSession creates a session over the API and returns the response.
func (f *apiFixture) createSession(t *testing.T) sessionCreateResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/session/create", gin.H{
		"title":        "api world",
		"world_preset": "island empires in a rising sea",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp sessionCreateResponse
	f.decode(t, rec, &resp)
	return resp
}

// bindMockProvider binds the offline mock provider and selects its
// model so generation endpoints work without network access.
func (f *apiFixture) bindMockProvider(t *testing.T, sessionID string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/provider/"+sessionID+"/set", gin.H{"provider": "mock"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/provider/"+sessionID+"/select-model", gin.H{"model_name": "mock-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// seedReport writes a system report row directly into the store.
func (f *apiFixture) seedReport(t *testing.T, sessionID, branchID, content string) *models.Message {
	t.Helper()
	msg, err := f.store.AppendMessage(context.Background(), models.AppendMessageParams{
		SessionID:     sessionID,
		BranchID:      branchID,
		Role:          models.RoleSystemReport,
		Content:       content,
		TimeJumpLabel: "1 month",
	})
	require.NoError(t, err)
	return msg
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status   string                 `json:"status"`
		Database *database.HealthStatus `json:"database"`
	}
	f.decode(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	require.NotNil(t, resp.Database)
	assert.Equal(t, "healthy", resp.Database.Status)
}

func TestErrorPayloadShape(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/session/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	f.decode(t, rec, &resp)
	assert.Equal(t, "NOT_FOUND", resp.Code)
	assert.NotEmpty(t, resp.Message)
}

func TestSecurityHeaders(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestCORS(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/session/create", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		f.engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin gets no allow header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		f.engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
