package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/worldloom/loom/pkg/metrics"
	"github.com/worldloom/loom/pkg/models"
)

// Subscription is one subscriber's view of a session's event stream.
// Frames arrive on Events in publish order; when the queue overflows
// the oldest frame is evicted and Lagged grows by one.
type Subscription struct {
	sessionID string
	ch        chan []byte
	lagged    atomic.Int64
	closeOnce sync.Once
}

// Events is the receive side of the subscriber queue. It is closed by
// Unsubscribe.
func (s *Subscription) Events() <-chan []byte { return s.ch }

// Lagged reports how many frames this subscriber has lost to overflow.
func (s *Subscription) Lagged() int64 { return s.lagged.Load() }

// push enqueues without ever blocking: if the queue is full the oldest
// frame is dropped to make room. Callers must hold the bus read lock so
// a concurrent Unsubscribe cannot close the channel mid-push.
func (s *Subscription) push(frame []byte) {
	for {
		select {
		case s.ch <- frame:
			return
		default:
		}
		select {
		case <-s.ch:
			s.lagged.Add(1)
			metrics.EventsDropped.Inc()
		default:
		}
	}
}

// Bus fans events out to the subscribers of each session. Publishing
// to a session nobody watches is a cheap no-op, so services emit
// unconditionally.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber for the session's events.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{sessionID: sessionID, ch: make(chan []byte, QueueCapacity)}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscriber and closes its queue. Safe to call
// more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.sessionID)
		}
	}
	sub.closeOnce.Do(func() { close(sub.ch) })
}

// publish fans a marshaled frame out to the session's subscribers.
// Pushes are non-blocking channel operations, so holding the read lock
// for the whole fan-out is cheap and keeps pushes ordered against
// Unsubscribe.
func (b *Bus) publish(sessionID string, frame []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[sessionID] {
		sub.push(frame)
	}
}

// subscriberCount is used by tests to poll registration state.
func (b *Bus) subscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// --- Typed publish methods ---

// PublishSessionState broadcasts a session_state frame.
func (b *Bus) PublishSessionState(sessionID string, running bool) {
	b.marshalAndPublish(sessionID, SessionStatePayload{
		Event:   EventTypeSessionState,
		Running: running,
	})
}

// PublishMessageCreated broadcasts a message_created frame.
func (b *Bus) PublishMessageCreated(sessionID, branchID string, msg *models.Message) {
	b.marshalAndPublish(sessionID, MessageCreatedPayload{
		Event:    EventTypeMessageCreated,
		BranchID: branchID,
		Message:  msg,
	})
}

// PublishMessageUpdated broadcasts a message_updated frame.
func (b *Bus) PublishMessageUpdated(sessionID, branchID string, msg *models.Message) {
	b.marshalAndPublish(sessionID, MessageUpdatedPayload{
		Event:    EventTypeMessageUpdated,
		BranchID: branchID,
		Message:  msg,
	})
}

// PublishBranchSwitched broadcasts a branch_switched frame.
func (b *Bus) PublishBranchSwitched(sessionID, activeBranchID string) {
	b.marshalAndPublish(sessionID, BranchSwitchedPayload{
		Event:          EventTypeBranchSwitched,
		ActiveBranchID: activeBranchID,
	})
}

// PublishModelsLoaded broadcasts a models_loaded frame.
func (b *Bus) PublishModelsLoaded(sessionID, provider string, modelNames []string) {
	b.marshalAndPublish(sessionID, ModelsLoadedPayload{
		Event:    EventTypeModelsLoaded,
		Provider: provider,
		Models:   modelNames,
	})
}

// PublishError broadcasts an error frame. The message must already be
// free of secrets; publishers scrub provider text before calling.
func (b *Bus) PublishError(sessionID, code, message string) {
	b.marshalAndPublish(sessionID, ErrorPayload{
		Event:   EventTypeError,
		Code:    code,
		Message: message,
	})
}

func (b *Bus) marshalAndPublish(sessionID string, payload any) {
	frame, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal event frame", "session_id", sessionID, "error", err)
		return
	}
	b.publish(sessionID, frame)
}
