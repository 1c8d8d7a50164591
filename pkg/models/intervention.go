package models

import "time"

// Intervention statuses. A pending directive is consumed atomically by
// the round that folds it into a prompt; canceled rows are never read.
const (
	InterventionPending  = "pending"
	InterventionConsumed = "consumed"
	InterventionCanceled = "canceled"
)

// Intervention is a queued user directive. Pending interventions are
// consumed at the start of a generation round, in the same transaction
// that persists the resulting report.
type Intervention struct {
	ID         string     `json:"intervention_id"`
	SessionID  string     `json:"session_id"`
	BranchID   string     `json:"branch_id"`
	Content    string     `json:"content"`
	Status     string     `json:"status"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
