package services

import (
	"context"
	"fmt"

	"github.com/worldloom/loom/pkg/events"
	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/store"
)

// BranchService manages timeline lineages: listing, forking, switching.
type BranchService struct {
	store *store.Store
	bus   *events.Bus
}

// NewBranchService creates a new BranchService
func NewBranchService(st *store.Store, bus *events.Bus) *BranchService {
	return &BranchService{store: st, bus: bus}
}

// Listing returns the session's branches with its active branch pointer.
func (s *BranchService) Listing(ctx context.Context, sessionID string) (*models.BranchListing, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	branches, err := s.store.ListBranches(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &models.BranchListing{
		SessionID:      sessionID,
		ActiveBranchID: sess.ActiveBranchID,
		Branches:       branches,
	}, nil
}

// Fork creates a new branch carrying the source history up to the cut
// point. An empty source falls back to the active branch; an empty cut
// means the source's current last message. The name defaults to
// "branch-N" over the session's branch count.
func (s *BranchService) Fork(ctx context.Context, sessionID string, req models.ForkBranchRequest) (*models.Branch, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sourceID := req.SourceBranchID
	if sourceID == "" {
		sourceID = sess.ActiveBranchID
	}
	source, err := s.store.GetBranch(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source.SessionID != sessionID {
		return nil, fmt.Errorf("branch %s does not belong to session %s: %w",
			sourceID, sessionID, store.ErrNotFound)
	}

	name, err := sanitizeField("name", req.Name, maxTitleLen)
	if err != nil {
		return nil, err
	}
	if name == "" {
		count, err := s.store.CountBranches(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		name = fmt.Sprintf("branch-%d", count+1)
	}

	// Memory inheritance up to the cut happens inside the fork
	// transaction, so no separate on-fork hook call is needed here.
	return s.store.ForkBranch(ctx, sourceID, req.FromMessageID, name)
}

// Switch points the session at branchID. The loop picks the new branch
// up at its next round; nothing in flight is interrupted.
func (s *BranchService) Switch(ctx context.Context, sessionID, branchID string) (string, error) {
	if branchID == "" {
		return "", NewValidationError("branch_id", "required")
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return "", err
	}
	if err := s.store.SetActiveBranch(ctx, sessionID, branchID); err != nil {
		return "", err
	}
	s.bus.PublishBranchSwitched(sessionID, branchID)
	return branchID, nil
}
