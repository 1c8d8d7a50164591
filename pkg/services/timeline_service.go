package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/worldloom/loom/pkg/events"
	"github.com/worldloom/loom/pkg/memory"
	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/report"
	"github.com/worldloom/loom/pkg/store"
)

// Timeline paging bounds.
const (
	defaultTimelineLimit = 200
	maxTimelineLimit     = 500
)

// CodeBusy rejects a rollback while the runner is writing to the branch.
const CodeBusy = "BUSY"

// GenerationGate reports whether a session's runner is inside a round.
// The simulation service implements it; tests substitute fakes.
type GenerationGate interface {
	Generating(sessionID string) bool
}

// MemorySource resolves the recall collaborator at call time. The
// simulation service implements it; routing the hooks through it means a
// settings patch that rebuilds the memory service reaches timeline
// operations without re-wiring.
type MemorySource interface {
	Memory() memory.Service
}

// TimelineService reads and mutates branch timelines: paging, rollback,
// in-place edits, and intervention enqueueing with its timeline mirror.
type TimelineService struct {
	store *store.Store
	mem   MemorySource
	bus   *events.Bus
	gate  GenerationGate
}

// NewTimelineService creates a new TimelineService
func NewTimelineService(st *store.Store, mem MemorySource, bus *events.Bus, gate GenerationGate) *TimelineService {
	return &TimelineService{store: st, mem: mem, bus: bus, gate: gate}
}

// List returns the most recent limit messages of a branch in seq order.
// An empty branchID selects the session's active branch. Legacy
// system_report rows without a stored snapshot get one parsed from
// content on the way out; nothing is written back.
func (s *TimelineService) List(ctx context.Context, sessionID, branchID string, limit int) (*models.TimelinePage, error) {
	branchID, err := s.resolveBranch(ctx, sessionID, branchID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTimelineLimit
	}
	if limit > maxTimelineLimit {
		limit = maxTimelineLimit
	}

	msgs, total, err := s.store.ListMessages(ctx, branchID, limit)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if msg.Role != models.RoleSystemReport || len(msg.ReportSnapshot) > 0 {
			continue
		}
		if snap := report.Parse(msg.Content, msg.TimeJumpLabel); snap != nil {
			msg.ReportSnapshot = snap.StorageJSON()
		}
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	return &models.TimelinePage{
		SessionID: sessionID,
		BranchID:  branchID,
		Messages:  msgs,
		Total:     total,
	}, nil
}

// DeleteLast rolls back the branch's newest message. Refused with BUSY
// while the runner is mid-round; the caller should pause first. Rolling
// back an intervention mirror also cancels its pending directive so the
// orphaned text never reaches a prompt.
func (s *TimelineService) DeleteLast(ctx context.Context, sessionID, branchID string) (*models.Message, error) {
	branchID, err := s.resolveBranch(ctx, sessionID, branchID)
	if err != nil {
		return nil, err
	}
	if s.gate != nil && s.gate.Generating(sessionID) {
		return nil, NewPreconditionError(CodeBusy,
			"Runner is writing to timeline. Pause and retry deletion.")
	}

	deleted, err := s.store.DeleteLastMessage(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if deleted == nil {
		return nil, fmt.Errorf("branch %s has no messages: %w", branchID, store.ErrNotFound)
	}

	if deleted.Role == models.RoleUserIntervention {
		if _, err := s.store.CancelPendingByContent(ctx, branchID, deleted.Content); err != nil {
			slog.Warn("Failed to cancel intervention for rolled back mirror",
				"branch_id", branchID, "message_id", deleted.ID, "error", err)
		}
	}
	s.mem.Memory().OnMessageDeleted(ctx, sessionID, branchID, deleted.ID)
	return deleted, nil
}

// Edit patches a message in place. Plain messages take new content; a
// system_report needs either a snapshot payload or content that parses
// into one, and both content and snapshot are re-derived from the
// normalized result. Memory items for the message are invalidated and
// the new content re-indexed.
func (s *TimelineService) Edit(ctx context.Context, sessionID, messageID string, req models.EditMessageRequest) (*models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SessionID != sessionID {
		return nil, fmt.Errorf("message %s does not belong to session %s: %w",
			messageID, sessionID, store.ErrNotFound)
	}

	var (
		content  string
		snapshot json.RawMessage
	)
	if msg.Role == models.RoleSystemReport {
		snap, err := editedReportSnapshot(req, msg.TimeJumpLabel)
		if err != nil {
			return nil, err
		}
		content = clampRunes(snap.Content(), maxEditLen)
		snapshot = snap.StorageJSON()
	} else {
		content, err = sanitizeField("content", req.Content, maxEditLen)
		if err != nil {
			return nil, err
		}
		if content == "" {
			return nil, NewValidationError("content", "required for this message role")
		}
	}

	updated, err := s.store.EditMessage(ctx, messageID, content, snapshot)
	if err != nil {
		return nil, err
	}

	recall := s.mem.Memory()
	recall.OnMessageDeleted(ctx, sessionID, updated.BranchID, updated.ID)
	recall.OnMessagePersisted(ctx, updated)
	s.bus.PublishMessageUpdated(sessionID, updated.BranchID, updated)
	return updated, nil
}

// editedReportSnapshot normalizes the patch for a system_report: an
// explicit snapshot payload wins, otherwise the content must parse.
func editedReportSnapshot(req models.EditMessageRequest, fallbackTimeAdvance string) (*report.Snapshot, error) {
	if len(req.ReportSnapshot) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(req.ReportSnapshot, &payload); err != nil {
			return nil, NewValidationError("report_snapshot", "must be a JSON object")
		}
		return report.Normalize(payload, fallbackTimeAdvance), nil
	}
	if strings.TrimSpace(req.Content) != "" {
		snap := report.Parse(req.Content, fallbackTimeAdvance)
		if snap == nil {
			return nil, NewValidationError("content",
				"system report edit requires valid report JSON content or report_snapshot")
		}
		return snap, nil
	}
	return nil, NewValidationError("content", "no editable field provided")
}

// Intervene validates the directive, enqueues it as pending, and appends
// its timeline mirror in the same transaction. The mirror is broadcast
// like any other append.
func (s *TimelineService) Intervene(ctx context.Context, sessionID, branchID, content string) (*models.Intervention, *models.Message, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if branchID == "" {
		branchID = sess.ActiveBranchID
	}
	branch, err := s.store.GetBranch(ctx, branchID)
	if err != nil {
		return nil, nil, err
	}
	if branch.SessionID != sessionID {
		return nil, nil, fmt.Errorf("branch %s does not belong to session %s: %w",
			branchID, sessionID, store.ErrNotFound)
	}
	if branch.IsArchived {
		return nil, nil, fmt.Errorf("branch %s is archived: %w", branchID, store.ErrConflict)
	}

	content, err = sanitizeField("content", content, maxInterventionLen)
	if err != nil {
		return nil, nil, err
	}
	if content == "" {
		return nil, nil, NewValidationError("content", "must not be empty")
	}

	iv, mirror, err := s.store.EnqueueIntervention(ctx, sessionID, branchID, content, sess.TickLabel)
	if err != nil {
		return nil, nil, err
	}
	s.mem.Memory().OnMessagePersisted(ctx, mirror)
	s.bus.PublishMessageCreated(sessionID, branchID, mirror)
	return iv, mirror, nil
}

// resolveBranch maps an empty branch id to the session's active branch
// and confirms an explicit one belongs to the session.
func (s *TimelineService) resolveBranch(ctx context.Context, sessionID, branchID string) (string, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if branchID == "" {
		if sess.ActiveBranchID == "" {
			return "", NewValidationError("branch_id", "active branch is missing")
		}
		return sess.ActiveBranchID, nil
	}
	branch, err := s.store.GetBranch(ctx, branchID)
	if err != nil {
		return "", err
	}
	if branch.SessionID != sessionID {
		return "", fmt.Errorf("branch %s does not belong to session %s: %w",
			branchID, sessionID, store.ErrNotFound)
	}
	return branchID, nil
}
