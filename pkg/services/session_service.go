// Package services implements the application commands behind the HTTP
// surface: session lifecycle, branching, timeline mutation, provider
// binding, the generation rounds the runner executes, and the runtime
// debug settings. Services own validation and normalization; the store
// owns transactions; the API layer only maps errors to status codes.
package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/worldloom/loom/pkg/config"
	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/prompt"
	"github.com/worldloom/loom/pkg/store"
)

// Input limits. Requests beyond them are rejected with ValidationError;
// derived content (report re-rendering) is clamped instead.
const (
	maxTitleLen        = 200
	maxPresetLen       = 8000
	maxTickLabelLen    = 50
	maxInterventionLen = 2000
	maxEditLen         = 12000
)

// Session history paging bounds.
const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 200
)

const fallbackOutputLanguage = "zh-cn"

// SessionService manages worldline session lifecycle and settings.
type SessionService struct {
	store   *store.Store
	runtime *config.Runtime
}

// NewSessionService creates a new SessionService
func NewSessionService(st *store.Store, runtime *config.Runtime) *SessionService {
	return &SessionService{store: st, runtime: runtime}
}

// Create validates and normalizes the request, then inserts the session
// with its main branch in one transaction. The session starts paused.
func (s *SessionService) Create(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	settings := s.runtime.Snapshot()

	title, err := sanitizeField("title", req.Title, maxTitleLen)
	if err != nil {
		return nil, err
	}
	preset, err := sanitizeField("world_preset", req.WorldPreset, maxPresetLen)
	if err != nil {
		return nil, err
	}
	if preset == "" {
		return nil, NewValidationError("world_preset", "required")
	}
	tickLabel := req.TickLabel
	if strings.TrimSpace(tickLabel) == "" {
		tickLabel = settings.DefaultTickLabel
	}
	tickLabel, err = sanitizeField("tick_label", tickLabel, maxTickLabelLen)
	if err != nil {
		return nil, err
	}

	delay := settings.DefaultPostGenDelaySec
	if req.PostGenDelaySec != nil {
		if *req.PostGenDelaySec < 0 {
			return nil, NewValidationError("post_gen_delay_sec", "must not be negative")
		}
		delay = *req.PostGenDelaySec
	}
	stepValue := req.TimelineStepValue
	if stepValue < 1 {
		stepValue = 1
	}

	sess := &models.Session{
		ID:                uuid.New().String(),
		Title:             title,
		WorldPreset:       preset,
		Running:           false,
		TickLabel:         tickLabel,
		PostGenDelaySec:   delay,
		OutputLanguage:    normalizeLanguage(req.OutputLanguage, settings.DefaultOutputLanguage),
		TimelineStartISO:  normalizeTimelineStart(req.TimelineStartISO),
		TimelineStepValue: stepValue,
		TimelineStepUnit:  normalizeStepUnit(req.TimelineStepUnit),
	}
	branch := &models.Branch{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		Name:      "main",
	}
	sess.ActiveBranchID = branch.ID

	if err := s.store.CreateSession(ctx, sess, branch); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the session detail.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// History lists recent sessions, most recently touched first. Limit
// defaults to 30 and is capped at 200.
func (s *SessionService) History(ctx context.Context, limit int) ([]*models.SessionHistoryItem, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.store.ListSessions(ctx, limit)
}

// UpdateSettings normalizes and applies the non-nil fields of patch.
func (s *SessionService) UpdateSettings(ctx context.Context, sessionID string, patch models.SessionSettingsPatch) (*models.Session, error) {
	settings := s.runtime.Snapshot()

	if patch.Title != nil {
		title, err := sanitizeField("title", *patch.Title, maxTitleLen)
		if err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	if patch.TickLabel != nil {
		label, err := sanitizeField("tick_label", *patch.TickLabel, maxTickLabelLen)
		if err != nil {
			return nil, err
		}
		if label == "" {
			return nil, NewValidationError("tick_label", "must not be empty")
		}
		patch.TickLabel = &label
	}
	if patch.PostGenDelaySec != nil && *patch.PostGenDelaySec < 0 {
		return nil, NewValidationError("post_gen_delay_sec", "must not be negative")
	}
	if patch.OutputLanguage != nil {
		lang := normalizeLanguage(*patch.OutputLanguage, settings.DefaultOutputLanguage)
		patch.OutputLanguage = &lang
	}
	if patch.TimelineStartISO != nil {
		start := normalizeTimelineStart(*patch.TimelineStartISO)
		patch.TimelineStartISO = &start
	}
	if patch.TimelineStepValue != nil && *patch.TimelineStepValue < 1 {
		return nil, NewValidationError("timeline_step_value", "must be at least 1")
	}
	if patch.TimelineStepUnit != nil {
		unit := normalizeStepUnit(*patch.TimelineStepUnit)
		patch.TimelineStepUnit = &unit
	}

	return s.store.UpdateSessionSettings(ctx, sessionID, patch)
}

// sanitizeField trims the value and rejects input beyond max runes.
func sanitizeField(field, value string, max int) (string, error) {
	trimmed := strings.TrimSpace(value)
	if utf8.RuneCountInString(trimmed) > max {
		return "", &ValidationError{Field: field, Message: "too long"}
	}
	return trimmed, nil
}

// clampRunes bounds derived (non-user) text to max runes.
func clampRunes(value string, max int) string {
	trimmed := strings.TrimSpace(value)
	runes := []rune(trimmed)
	if len(runes) <= max {
		return trimmed
	}
	return string(runes[:max])
}

// normalizeLanguage lowercases the tag and maps underscores to hyphens.
// Empty input falls back to the configured default, then to zh-cn.
func normalizeLanguage(value, fallback string) string {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "_", "-")
	if normalized != "" {
		return normalized
	}
	normalized = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(fallback)), "_", "-")
	if normalized != "" {
		return normalized
	}
	return fallbackOutputLanguage
}

// normalizeTimelineStart accepts the timestamp shapes the calendar parses,
// date-only included, and re-emits the value as RFC 3339 UTC. Empty or
// unparseable input anchors the timeline at the current time.
func normalizeTimelineStart(value string) string {
	return prompt.ParseStartTime(value, time.Now()).Format(time.RFC3339)
}

// normalizeStepUnit lowercases the unit and falls back to month for
// anything outside day/week/month/year.
func normalizeStepUnit(value string) string {
	unit := strings.ToLower(strings.TrimSpace(value))
	if !models.ValidStepUnit(unit) {
		return models.StepUnitMonth
	}
	return unit
}
