package api

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldloom/loom/pkg/models"
)

func TestSetProviderEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createSession(t)
	path := "/api/provider/" + created.SessionID + "/set"

	t.Run("binds mock without key", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, gin.H{"provider": "mock"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var view models.ProviderConfigView
		f.decode(t, rec, &view)
		assert.Equal(t, "mock", view.Provider)
		assert.False(t, view.HasAPIKey)
		assert.Empty(t, view.ModelName)
	})

	t.Run("rejects key-requiring provider without key", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, gin.H{"provider": "openai"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp errorResponse
		f.decode(t, rec, &resp)
		assert.Equal(t, "API_KEY_REQUIRED", resp.Code)
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, gin.H{"provider": "claude"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp errorResponse
		f.decode(t, rec, &resp)
		assert.Equal(t, "PROVIDER_UNSUPPORTED", resp.Code)
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/provider/missing/set", gin.H{"provider": "mock"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestProviderModelsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/provider/"+created.SessionID+"/set", gin.H{"provider": "mock"})
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("lists models for bound provider", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/provider/"+created.SessionID+"/models?provider=mock", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var list models.ModelList
		f.decode(t, rec, &list)
		assert.Equal(t, "mock", list.Provider)
		assert.Equal(t, []string{"mock-1"}, list.Models)
	})

	t.Run("provider mismatch is rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/provider/"+created.SessionID+"/models?provider=ollama", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp errorResponse
		f.decode(t, rec, &resp)
		assert.Equal(t, "PROVIDER_CONFIG_MISSING", resp.Code)
	})
}

func TestSelectModelEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/provider/"+created.SessionID+"/set", gin.H{"provider": "mock"})
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("rejects model not in listing", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/provider/"+created.SessionID+"/select-model",
			gin.H{"model_name": "gpt-9"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp errorResponse
		f.decode(t, rec, &resp)
		assert.Equal(t, "PROVIDER_MODEL_INVALID", resp.Code)
	})

	t.Run("persists valid selection", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/provider/"+created.SessionID+"/select-model",
			gin.H{"model_name": "mock-1"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var view models.ProviderConfigView
		f.decode(t, rec, &view)
		assert.Equal(t, "mock-1", view.ModelName)
	})
}

func TestCurrentProviderEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createSession(t)

	t.Run("no binding is a config error", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/provider/"+created.SessionID+"/current", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp errorResponse
		f.decode(t, rec, &resp)
		assert.Equal(t, "PROVIDER_CONFIG_MISSING", resp.Code)
	})

	f.bindMockProvider(t, created.SessionID)

	t.Run("reports binding without key material", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/provider/"+created.SessionID+"/current", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var view models.ProviderConfigView
		f.decode(t, rec, &view)
		assert.Equal(t, "mock", view.Provider)
		assert.Equal(t, "mock-1", view.ModelName)
		assert.NotContains(t, rec.Body.String(), "api_key")
	})
}
