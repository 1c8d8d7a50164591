package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// createIntervention handles POST /api/intervention/:id. The directive
// is queued for the next round and mirrored onto the timeline.
func (s *Server) createIntervention(c *gin.Context) {
	var req interventionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	intervention, _, err := s.timeline.Intervene(c.Request.Context(), c.Param("id"), req.BranchID, req.Content)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, interventionResponse{
		InterventionID: intervention.ID,
		BranchID:       intervention.BranchID,
	})
}
