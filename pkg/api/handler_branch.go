package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/worldloom/loom/pkg/models"
)

// listBranches handles GET /api/branch/:id. Archived branches are
// filtered out by the service.
func (s *Server) listBranches(c *gin.Context) {
	listing, err := s.branches.Listing(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// forkBranch handles POST /api/branch/:id/fork.
func (s *Server) forkBranch(c *gin.Context) {
	var req models.ForkBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	branch, err := s.branches.Fork(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, forkBranchResponse{Branch: branch})
}

// switchBranch handles POST /api/branch/:id/switch.
func (s *Server) switchBranch(c *gin.Context) {
	var req models.SwitchBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	activeBranchID, err := s.branches.Switch(c.Request.Context(), c.Param("id"), req.BranchID)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, switchBranchResponse{ActiveBranchID: activeBranchID})
}
