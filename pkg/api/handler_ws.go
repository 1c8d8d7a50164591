package api

import (
	"encoding/json"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/worldloom/loom/pkg/events"
)

// handleWebsocket handles GET /ws/:session_id. The session must exist
// before the upgrade; after it the client immediately receives a
// session_state frame so it never renders against stale loop state,
// then the event manager owns the connection until disconnect.
func (s *Server) handleWebsocket(c *gin.Context) {
	sessionID := c.Param("session_id")

	sess, err := s.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	initial, err := json.Marshal(events.SessionStatePayload{
		Event:   events.EventTypeSessionState,
		Running: sess.Running,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, s.acceptOptions())
	if err != nil {
		slog.Warn("Websocket accept failed", "session_id", sessionID, "error", err)
		return
	}

	s.events.HandleConnection(c.Request.Context(), sessionID, conn, initial)
}
