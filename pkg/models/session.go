package models

import "time"

// Timeline step units accepted for session calendars.
const (
	StepUnitDay   = "day"
	StepUnitWeek  = "week"
	StepUnitMonth = "month"
	StepUnitYear  = "year"
)

// ValidStepUnit reports whether unit is one of the supported calendar units.
func ValidStepUnit(unit string) bool {
	switch unit {
	case StepUnitDay, StepUnitWeek, StepUnitMonth, StepUnitYear:
		return true
	}
	return false
}

// Session is a simulated worldline with its loop configuration.
type Session struct {
	ID                string    `json:"session_id"`
	Title             string    `json:"title"`
	WorldPreset       string    `json:"world_preset"`
	Running           bool      `json:"running"`
	TickLabel         string    `json:"tick_label"`
	PostGenDelaySec   int       `json:"post_gen_delay_sec"`
	ActiveBranchID    string    `json:"active_branch_id"`
	OutputLanguage    string    `json:"output_language"`
	TimelineStartISO  string    `json:"timeline_start_iso"`
	TimelineStepValue int       `json:"timeline_step_value"`
	TimelineStepUnit  string    `json:"timeline_step_unit"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateSessionRequest contains fields for creating a new session.
// PostGenDelaySec is a pointer so an explicit zero survives decoding.
type CreateSessionRequest struct {
	Title             string `json:"title"`
	WorldPreset       string `json:"world_preset"`
	TickLabel         string `json:"tick_label,omitempty"`
	PostGenDelaySec   *int   `json:"post_gen_delay_sec,omitempty"`
	OutputLanguage    string `json:"output_language,omitempty"`
	TimelineStartISO  string `json:"timeline_start_iso,omitempty"`
	TimelineStepValue int    `json:"timeline_step_value,omitempty"`
	TimelineStepUnit  string `json:"timeline_step_unit,omitempty"`
}

// SessionSettingsPatch carries partial updates to per-session loop settings.
// Nil fields are left unchanged.
type SessionSettingsPatch struct {
	Title             *string `json:"title,omitempty"`
	TickLabel         *string `json:"tick_label,omitempty"`
	PostGenDelaySec   *int    `json:"post_gen_delay_sec,omitempty"`
	OutputLanguage    *string `json:"output_language,omitempty"`
	TimelineStartISO  *string `json:"timeline_start_iso,omitempty"`
	TimelineStepValue *int    `json:"timeline_step_value,omitempty"`
	TimelineStepUnit  *string `json:"timeline_step_unit,omitempty"`
}

// SessionHistoryItem is the compact listing row for the session history view.
type SessionHistoryItem struct {
	SessionID      string    `json:"session_id"`
	Title          string    `json:"title"`
	ActiveBranchID string    `json:"active_branch_id"`
	Running        bool      `json:"running"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
