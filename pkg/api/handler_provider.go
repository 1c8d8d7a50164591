package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/worldloom/loom/pkg/models"
)

// setProvider handles POST /api/provider/:id/set. The plaintext key in
// the request body is validated against the provider, sealed and stored;
// the response only ever reports whether a key is on file.
func (s *Server) setProvider(c *gin.Context) {
	var req models.SetProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	view, err := s.provider.Set(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// listProviderModels handles GET /api/provider/:id/models.
func (s *Server) listProviderModels(c *gin.Context) {
	provider := models.NormalizeProvider(c.Query("provider"))

	names, err := s.provider.Models(c.Request.Context(), c.Param("id"), provider)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ModelList{Provider: provider, Models: names})
}

// selectModel handles POST /api/provider/:id/select-model.
func (s *Server) selectModel(c *gin.Context) {
	var req models.SelectModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	view, err := s.provider.SelectModel(c.Request.Context(), c.Param("id"), req.ModelName)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// currentProvider handles GET /api/provider/:id/current.
func (s *Server) currentProvider(c *gin.Context) {
	view, err := s.provider.Current(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
