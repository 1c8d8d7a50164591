package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// interventionRequest queues a directive for the next generation round.
// BranchID is optional and defaults to the session's active branch.
type interventionRequest struct {
	BranchID string `json:"branch_id,omitempty"`
	Content  string `json:"content"`
}

// settingsPatchRequest is the debug settings PATCH body. Persist
// defaults to true: omitted means write the change back to .env.
type settingsPatchRequest struct {
	Updates map[string]any `json:"updates"`
	Persist *bool          `json:"persist,omitempty"`
}

// intQuery parses an optional integer query parameter. Absent or blank
// returns fallback; non-numeric input is a client error.
func intQuery(c *gin.Context, key string, fallback int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}
