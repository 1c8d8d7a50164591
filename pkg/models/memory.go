package models

import "time"

// MemoryItem is one remembered timeline fragment with its embedding kept
// in a sibling table. Tombstoned items stay on disk but never match.
type MemoryItem struct {
	ID          string    `json:"memory_id"`
	SessionID   string    `json:"session_id"`
	BranchID    string    `json:"branch_id"`
	MessageID   string    `json:"message_id"`
	Seq         int       `json:"seq"`
	Text        string    `json:"text"`
	ContentHash string    `json:"content_hash"`
	Tombstoned  bool      `json:"tombstoned"`
	CreatedAt   time.Time `json:"created_at"`
}

// MemoryHit is a retrieval result with its cosine similarity score.
type MemoryHit struct {
	Item  *MemoryItem `json:"item"`
	Score float64     `json:"score"`
}
