package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/worldloom/loom/pkg/models"
)

// createSession handles POST /api/session/create.
func (s *Server) createSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	sess, err := s.sessions.Create(c.Request.Context(), req)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionCreateResponse{
		SessionID:         sess.ID,
		ActiveBranchID:    sess.ActiveBranchID,
		Running:           sess.Running,
		TimelineStartISO:  sess.TimelineStartISO,
		TimelineStepValue: sess.TimelineStepValue,
		TimelineStepUnit:  sess.TimelineStepUnit,
	})
}

// getSession handles GET /api/session/:id.
func (s *Server) getSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// sessionHistory handles GET /api/session/history.
func (s *Server) sessionHistory(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer")
		return
	}

	items, err := s.sessions.History(c.Request.Context(), limit)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if items == nil {
		items = []*models.SessionHistoryItem{}
	}
	c.JSON(http.StatusOK, sessionHistoryResponse{Sessions: items})
}

// startSession handles POST /api/session/:id/start.
func (s *Server) startSession(c *gin.Context) {
	running, err := s.sim.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, runningResponse{Running: running})
}

// pauseSession handles POST /api/session/:id/pause.
func (s *Server) pauseSession(c *gin.Context) {
	running, err := s.sim.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, runningResponse{Running: running})
}

// resumeSession handles POST /api/session/:id/resume.
func (s *Server) resumeSession(c *gin.Context) {
	running, err := s.sim.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, runningResponse{Running: running})
}

// updateSessionSettings handles PATCH /api/session/:id/settings.
func (s *Server) updateSessionSettings(c *gin.Context) {
	var patch models.SessionSettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	sess, err := s.sessions.UpdateSettings(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}
