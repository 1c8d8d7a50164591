package events

import "github.com/worldloom/loom/pkg/models"

// SessionStatePayload is the frame for session_state events. Published
// on every runner start/pause/resume/stop so clients can mirror the
// loop state without polling.
type SessionStatePayload struct {
	Event   string `json:"event"` // always EventTypeSessionState
	Running bool   `json:"running"`
}

// MessageCreatedPayload is the frame for message_created events.
// Published when a report or intervention mirror lands on a branch.
type MessageCreatedPayload struct {
	Event    string          `json:"event"` // always EventTypeMessageCreated
	BranchID string          `json:"branch_id"`
	Message  *models.Message `json:"message"`
}

// MessageUpdatedPayload is the frame for message_updated events.
// Published when an existing message is edited in place.
type MessageUpdatedPayload struct {
	Event    string          `json:"event"` // always EventTypeMessageUpdated
	BranchID string          `json:"branch_id"`
	Message  *models.Message `json:"message"`
}

// BranchSwitchedPayload is the frame for branch_switched events.
type BranchSwitchedPayload struct {
	Event          string `json:"event"` // always EventTypeBranchSwitched
	ActiveBranchID string `json:"active_branch_id"`
}

// ModelsLoadedPayload is the frame for models_loaded events. Published
// after a successful model listing so every open client can refresh its
// picker.
type ModelsLoadedPayload struct {
	Event    string   `json:"event"` // always EventTypeModelsLoaded
	Provider string   `json:"provider"`
	Models   []string `json:"models"`
}

// ErrorPayload is the frame for error events. Message text is already
// sanitized by the publisher; secrets never reach this struct.
type ErrorPayload struct {
	Event   string `json:"event"` // always EventTypeError
	Code    string `json:"code"`
	Message string `json:"message"`
}
