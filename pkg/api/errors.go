package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/worldloom/loom/pkg/config"
	"github.com/worldloom/loom/pkg/providers"
	"github.com/worldloom/loom/pkg/services"
	"github.com/worldloom/loom/pkg/store"
)

// writeError sends the standard error payload. Every non-2xx response
// of the API goes through here so clients can rely on the shape.
func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}

// mapServiceError translates service-layer errors into HTTP responses.
// Provider error messages are already scrubbed of secrets before they
// reach this point.
func mapServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", validErr.Error())
		return
	}
	if precond, ok := services.AsPreconditionError(err); ok {
		writeError(c, http.StatusConflict, precond.Code, precond.Message)
		return
	}
	if pe, ok := providers.AsError(err); ok {
		writeError(c, providerStatus(pe.Code), pe.Code, pe.Message)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "resource not found")
		return
	}
	if errors.Is(err, store.ErrBusy) {
		writeError(c, http.StatusConflict, "BUSY", "branch is busy, pause the session first")
		return
	}
	if errors.Is(err, store.ErrConflict) {
		writeError(c, http.StatusConflict, "CONFLICT", err.Error())
		return
	}
	if status, code, ok := settingsStatus(err); ok {
		writeError(c, status, code, err.Error())
		return
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	writeError(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
}

// providerStatus picks the HTTP status for a provider error code.
// Configuration mistakes are the client's to fix, missing selections are
// state conflicts, everything transport-shaped is a bad gateway.
func providerStatus(code string) int {
	switch code {
	case providers.CodeUnsupported,
		providers.CodeConfigMissing,
		providers.CodeAPIKeyRequired,
		providers.CodeModelInvalid,
		providers.CodeBaseURLMissing:
		return http.StatusBadRequest
	case providers.CodeNoModelSelected:
		return http.StatusConflict
	case providers.CodeSecretMissing:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// settingsStatus classifies runtime settings patch errors.
func settingsStatus(err error) (int, string, bool) {
	var cfgErr *config.ValidationError
	switch {
	case errors.Is(err, config.ErrUnknownSetting):
		return http.StatusBadRequest, "UNKNOWN_SETTING", true
	case errors.Is(err, config.ErrImmutableSetting):
		return http.StatusBadRequest, "IMMUTABLE_SETTING", true
	case errors.Is(err, config.ErrInvalidValue), errors.As(err, &cfgErr):
		return http.StatusBadRequest, "INVALID_VALUE", true
	default:
		return 0, "", false
	}
}
