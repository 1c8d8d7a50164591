package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldloom/loom/pkg/events"
)

func TestWebsocketEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createSession(t)

	server := httptest.NewServer(f.engine)
	defer server.Close()
	wsBase := "ws" + strings.TrimPrefix(server.URL, "http")

	t.Run("unknown session refuses the upgrade", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conn, resp, err := websocket.Dial(ctx, wsBase+"/ws/missing", nil)
		require.Error(t, err)
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "")
		}
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("initial state precedes bus frames", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conn, _, err := websocket.Dial(ctx, wsBase+"/ws/"+created.SessionID, nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "")

		var frame struct {
			Event   string `json:"event"`
			Running bool   `json:"running"`
		}

		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Equal(t, events.EventTypeSessionState, frame.Event)
		assert.False(t, frame.Running, "paused session must report running=false on connect")

		f.bus.PublishSessionState(created.SessionID, true)

		_, data, err = conn.Read(ctx)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Equal(t, events.EventTypeSessionState, frame.Event)
		assert.True(t, frame.Running)
	})
}
