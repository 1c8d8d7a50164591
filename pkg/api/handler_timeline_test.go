package api

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldloom/loom/pkg/models"
)

const legacyReport = `{"title":"Old Report","time_advance":"1 month","summary":"Archived state.","events":["a treaty is signed"],"risks":[]}`

func TestGetTimelineEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createSession(t)
	f.seedReport(t, created.SessionID, created.ActiveBranchID, legacyReport)
	f.seedReport(t, created.SessionID, created.ActiveBranchID, legacyReport)

	t.Run("returns branch messages with backfilled snapshots", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/timeline/"+created.SessionID, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var page models.TimelinePage
		f.decode(t, rec, &page)
		assert.Equal(t, created.ActiveBranchID, page.BranchID)
		assert.Equal(t, 2, page.Total)
		require.Len(t, page.Messages, 2)
		assert.NotEmpty(t, page.Messages[0].ReportSnapshot,
			"legacy rows must be served with a parsed snapshot")
	})

	t.Run("honors limit and explicit branch", func(t *testing.T) {
		rec := f.do(t, http.MethodGet,
			"/api/timeline/"+created.SessionID+"?branch_id="+created.ActiveBranchID+"&limit=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var page models.TimelinePage
		f.decode(t, rec, &page)
		assert.Equal(t, 2, page.Total)
		assert.Len(t, page.Messages, 1)
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/timeline/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDeleteLastMessageEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createSession(t)
	first := f.seedReport(t, created.SessionID, created.ActiveBranchID, legacyReport)
	last := f.seedReport(t, created.SessionID, created.ActiveBranchID, legacyReport)

	t.Run("removes the newest message", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/api/message/"+created.SessionID+"/last", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp deleteLastMessageResponse
		f.decode(t, rec, &resp)
		assert.Equal(t, last.ID, resp.DeletedMessageID)
		assert.Equal(t, created.ActiveBranchID, resp.BranchID)
	})

	t.Run("empty branch is 404", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/api/message/"+created.SessionID+"/last", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp deleteLastMessageResponse
		f.decode(t, rec, &resp)
		assert.Equal(t, first.ID, resp.DeletedMessageID)

		rec = f.do(t, http.MethodDelete, "/api/message/"+created.SessionID+"/last", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestEditMessageEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/intervention/"+created.SessionID,
		gin.H{"content": "open the granaries"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/timeline/"+created.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.TimelinePage
	f.decode(t, rec, &page)
	require.Len(t, page.Messages, 1)
	mirror := page.Messages[0]
	require.Equal(t, models.RoleUserIntervention, mirror.Role)

	t.Run("edits plain content", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch,
			"/api/message/"+created.SessionID+"/"+mirror.ID,
			gin.H{"content": "open the granaries and the armories"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp editMessageResponse
		f.decode(t, rec, &resp)
		require.NotNil(t, resp.Message)
		assert.Equal(t, "open the granaries and the armories", resp.Message.Content)
		assert.True(t, resp.Message.IsUserEdited)
		assert.Equal(t, mirror.Seq, resp.Message.Seq)
	})

	t.Run("empty content is rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch,
			"/api/message/"+created.SessionID+"/"+mirror.ID,
			gin.H{"content": "   "})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp errorResponse
		f.decode(t, rec, &resp)
		assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	})

	t.Run("unknown message is 404", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch,
			"/api/message/"+created.SessionID+"/missing",
			gin.H{"content": "anything"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestInterventionEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createSession(t)
	path := "/api/intervention/" + created.SessionID

	t.Run("queues and mirrors the directive", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, gin.H{"content": "  broker a ceasefire  "})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp interventionResponse
		f.decode(t, rec, &resp)
		assert.NotEmpty(t, resp.InterventionID)
		assert.Equal(t, created.ActiveBranchID, resp.BranchID)

		tl := f.do(t, http.MethodGet, "/api/timeline/"+created.SessionID, nil)
		require.Equal(t, http.StatusOK, tl.Code)
		var page models.TimelinePage
		f.decode(t, tl, &page)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, models.RoleUserIntervention, page.Messages[0].Role)
		assert.Equal(t, "broker a ceasefire", page.Messages[0].Content)
	})

	t.Run("empty content is rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, gin.H{"content": "   "})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp errorResponse
		f.decode(t, rec, &resp)
		assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/intervention/missing", gin.H{"content": "anything"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
