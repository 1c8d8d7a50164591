package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/worldloom/loom/pkg/metrics"
)

// DefaultWriteTimeout bounds a single websocket write. A client that
// cannot drain a frame within this window is considered dead.
const DefaultWriteTimeout = 5 * time.Second

// Manager pumps bus subscriptions into websocket connections. One
// goroutine per connection; the socket is the session's informational
// channel, so inbound client frames are discarded.
type Manager struct {
	bus          *Bus
	writeTimeout time.Duration
}

func NewManager(bus *Bus, writeTimeout time.Duration) *Manager {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Manager{bus: bus, writeTimeout: writeTimeout}
}

// HandleConnection subscribes the connection to the session's events
// and forwards frames until the client disconnects or a write fails.
// A non-nil initial frame is written first, after the subscription is
// in place, so an event published at connect time cannot slip between
// the two. Blocks for the lifetime of the connection.
func (m *Manager) HandleConnection(parentCtx context.Context, sessionID string, conn *websocket.Conn, initial []byte) {
	metrics.WebsocketClients.Inc()
	defer metrics.WebsocketClients.Dec()

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	// The socket is one-way: inbound frames are read and discarded so
	// pings are answered and disconnects are noticed promptly.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	sub := m.bus.Subscribe(sessionID)
	defer m.bus.Unsubscribe(sub)
	defer conn.Close(websocket.StatusNormalClosure, "")

	if initial != nil {
		if err := m.send(ctx, conn, initial); err != nil {
			slog.Warn("Failed to send initial frame to websocket client",
				"session_id", sessionID, "error", err)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := m.send(ctx, conn, frame); err != nil {
				slog.Warn("Failed to send event to websocket client",
					"session_id", sessionID, "error", err)
				return
			}
		}
	}
}

// send writes one frame with a per-write timeout so a stalled client
// cannot wedge the forward loop.
func (m *Manager) send(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, frame)
}
