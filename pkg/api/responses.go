package api

import "github.com/worldloom/loom/pkg/models"

// errorResponse is the payload shape of every non-2xx response.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sessionCreateResponse struct {
	SessionID         string `json:"session_id"`
	ActiveBranchID    string `json:"active_branch_id"`
	Running           bool   `json:"running"`
	TimelineStartISO  string `json:"timeline_start_iso"`
	TimelineStepValue int    `json:"timeline_step_value"`
	TimelineStepUnit  string `json:"timeline_step_unit"`
}

type sessionHistoryResponse struct {
	Sessions []*models.SessionHistoryItem `json:"sessions"`
}

// runningResponse reports the loop state after start/pause/resume.
type runningResponse struct {
	Running bool `json:"running"`
}

type forkBranchResponse struct {
	Branch *models.Branch `json:"branch"`
}

type switchBranchResponse struct {
	ActiveBranchID string `json:"active_branch_id"`
}

type deleteLastMessageResponse struct {
	DeletedMessageID string `json:"deleted_message_id"`
	BranchID         string `json:"branch_id"`
}

type editMessageResponse struct {
	Message *models.Message `json:"message"`
}

type interventionResponse struct {
	InterventionID string `json:"intervention_id"`
	BranchID       string `json:"branch_id"`
}

// settingsResponse wraps the redacted runtime settings view.
type settingsResponse struct {
	Settings map[string]any `json:"settings"`
}
