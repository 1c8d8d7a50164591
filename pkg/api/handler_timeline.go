package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/worldloom/loom/pkg/models"
)

// getTimeline handles GET /api/timeline/:id. branch_id defaults to the
// session's active branch; limit caps how many trailing messages return.
func (s *Server) getTimeline(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer")
		return
	}

	page, err := s.timeline.List(c.Request.Context(), c.Param("id"), c.Query("branch_id"), limit)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// deleteLastMessage handles DELETE /api/message/:id/last. Refused with
// 409 BUSY while the session's runner is mid-round.
func (s *Server) deleteLastMessage(c *gin.Context) {
	deleted, err := s.timeline.DeleteLast(c.Request.Context(), c.Param("id"), c.Query("branch_id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, deleteLastMessageResponse{
		DeletedMessageID: deleted.ID,
		BranchID:         deleted.BranchID,
	})
}

// editMessage handles PATCH /api/message/:id/:message_id. Report edits
// keep content and snapshot in sync; plain messages take content only.
func (s *Server) editMessage(c *gin.Context) {
	var req models.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	msg, err := s.timeline.Edit(c.Request.Context(), c.Param("id"), c.Param("message_id"), req)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, editMessageResponse{Message: msg})
}
