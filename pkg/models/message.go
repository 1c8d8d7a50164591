package models

import (
	"encoding/json"
	"time"
)

// Message roles on the timeline.
const (
	RoleSystemReport     = "system_report"
	RoleUserIntervention = "user_intervention"
)

// Message is one timeline entry within a branch. Seq is dense per branch,
// starting at 1, assigned at persist time.
type Message struct {
	ID             string          `json:"message_id"`
	SessionID      string          `json:"session_id"`
	BranchID       string          `json:"branch_id"`
	Seq            int             `json:"seq"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	TimeJumpLabel  string          `json:"time_jump_label,omitempty"`
	ReportSnapshot json.RawMessage `json:"report_snapshot,omitempty"`
	IsUserEdited   bool            `json:"is_user_edited"`
	EditedAt       *time.Time      `json:"edited_at,omitempty"`
	ProviderName   string          `json:"model_provider,omitempty"`
	ModelName      string          `json:"model_name,omitempty"`
	TokenIn        int             `json:"token_in,omitempty"`
	TokenOut       int             `json:"token_out,omitempty"`
	GenDurationMS  int64           `json:"gen_duration_ms,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AppendMessageParams carries the persist-time fields for a new entry.
// ID and Seq are assigned by the store.
type AppendMessageParams struct {
	SessionID      string
	BranchID       string
	Role           string
	Content        string
	TimeJumpLabel  string
	ReportSnapshot json.RawMessage
	ProviderName   string
	ModelName      string
	TokenIn        int
	TokenOut       int
	GenDurationMS  int64
}

// EditMessageRequest replaces the content (and, for system reports, the
// snapshot) of an existing message in place. Seq never changes.
type EditMessageRequest struct {
	Content        string          `json:"content"`
	ReportSnapshot json.RawMessage `json:"report_snapshot,omitempty"`
}

// TimelinePage is a seq-ordered slice of one branch's history.
type TimelinePage struct {
	SessionID string     `json:"session_id"`
	BranchID  string     `json:"branch_id"`
	Messages  []*Message `json:"messages"`
	Total     int        `json:"total"`
}
