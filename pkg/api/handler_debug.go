package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getDebugSettings handles GET /api/debug/settings. Secret-bearing
// settings are redacted by the view.
func (s *Server) getDebugSettings(c *gin.Context) {
	c.JSON(http.StatusOK, settingsResponse{Settings: s.debug.View()})
}

// patchDebugSettings handles PATCH /api/debug/settings. The patch is
// atomic: one bad key rejects the whole update. persist defaults to
// true and writes accepted changes back to the .env file.
func (s *Server) patchDebugSettings(c *gin.Context) {
	var req settingsPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	persist := true
	if req.Persist != nil {
		persist = *req.Persist
	}

	view, err := s.debug.Patch(req.Updates, persist)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsResponse{Settings: view})
}
