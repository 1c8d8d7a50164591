package models

import "time"

// Branch is an independent timeline within a session. Forked branches
// carry a full copy of the parent history up to the fork point, so each
// branch owns a dense seq range starting at 1.
type Branch struct {
	ID                string    `json:"branch_id"`
	SessionID         string    `json:"session_id"`
	Name              string    `json:"name"`
	ParentBranchID    string    `json:"parent_branch_id,omitempty"`
	ForkFromMessageID string    `json:"fork_from_message_id,omitempty"`
	IsArchived        bool      `json:"is_archived"`
	CreatedAt         time.Time `json:"created_at"`
}

// ForkBranchRequest names the fork point for a new branch. An empty
// FromMessageID forks at the source branch's current last message.
type ForkBranchRequest struct {
	SourceBranchID string `json:"source_branch_id"`
	FromMessageID  string `json:"from_message_id,omitempty"`
	Name           string `json:"name,omitempty"`
}

// SwitchBranchRequest selects the branch the loop reads on its next round.
type SwitchBranchRequest struct {
	BranchID string `json:"branch_id"`
}

// BranchListing pairs a session's branches with its active branch pointer.
type BranchListing struct {
	SessionID      string    `json:"session_id"`
	ActiveBranchID string    `json:"active_branch_id"`
	Branches       []*Branch `json:"branches"`
}
