// Package events provides real-time event delivery to websocket
// clients. Publishers broadcast typed frames to every subscriber of a
// session; each subscriber owns a bounded queue so one stalled client
// never blocks the publisher or its peers. On overflow the oldest
// queued frame is dropped and the subscriber's lagged counter grows.
package events

// Event type discriminators. Every frame is a JSON object whose
// "event" field carries one of these values.
const (
	EventTypeSessionState   = "session_state"
	EventTypeMessageCreated = "message_created"
	EventTypeMessageUpdated = "message_updated"
	EventTypeBranchSwitched = "branch_switched"
	EventTypeModelsLoaded   = "models_loaded"
	EventTypeError          = "error"
)

// QueueCapacity is the per-subscriber queue bound. A subscriber that
// falls more than this many frames behind starts losing the oldest.
const QueueCapacity = 64
