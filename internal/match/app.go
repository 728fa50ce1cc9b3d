package match

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/assafshtengel/matchtrack/internal/models"
)

// MatchRepository defines what the app layer needs from the repository.
type MatchRepository interface {
	CreateMatch(ctx context.Context, req CreateMatchRequest) (*models.Match, error)
	GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error)
	ListMatches(ctx context.Context, filter MatchFilter) ([]models.Match, error)
	UpdateMatch(ctx context.Context, id uuid.UUID, req UpdateMatchRequest) (*models.Match, error)
	ArchiveMatch(ctx context.Context, id uuid.UUID) error
}

// maxTrackedActions bounds the per-match action catalog. A short list is
// the point: the observer tracks a handful of focus actions, not a full
// telemetry feed.
const maxTrackedActions = 6

// App handles match lifecycle business logic.
type App struct {
	repo     MatchRepository
	defaults models.MatchSettings
}

// NewApp creates a new match App. defaults fills settings the create
// request leaves empty (half length, base action catalog).
func NewApp(repo MatchRepository, defaults models.MatchSettings) *App {
	return &App{repo: repo, defaults: defaults}
}

// CreateMatch creates a match from a finalized pre-match report. The
// report's action catalog and goals are frozen into the match settings.
func (a *App) CreateMatch(ctx context.Context, req CreateMatchRequest) (*models.Match, error) {
	a.applyDefaults(&req)
	if err := a.validateCreateMatchRequest(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	m, err := a.repo.CreateMatch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	log.Info().
		Str("match_id", m.ID.String()).
		Str("opponent", m.Opponent).
		Str("observer", string(m.Observer)).
		Int("actions", len(m.Settings.Actions)).
		Msg("match created")
	return m, nil
}

// GetMatch retrieves a match by ID.
func (a *App) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	m, err := a.repo.GetMatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

// ListActiveMatches retrieves non-archived matches, optionally by phase.
func (a *App) ListActiveMatches(ctx context.Context, phase *models.Phase) ([]models.Match, error) {
	matches, err := a.repo.ListMatches(ctx, MatchFilter{Phase: phase})
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return matches, nil
}

// UpdateMatch edits scheduling details. Only preview matches may change;
// once tracking has started the report is frozen.
func (a *App) UpdateMatch(ctx context.Context, id uuid.UUID, req UpdateMatchRequest) (*models.Match, error) {
	m, err := a.repo.GetMatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("match not found: %w", err)
	}
	if m.Phase != models.PhasePreview {
		return nil, fmt.Errorf("match %s is in phase %s and can no longer be edited", id, m.Phase)
	}
	if req.Opponent != nil && strings.TrimSpace(*req.Opponent) == "" {
		return nil, fmt.Errorf("opponent cannot be empty")
	}

	updated, err := a.repo.UpdateMatch(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update match: %w", err)
	}
	return updated, nil
}

// ArchiveMatch archives a match. Archival is the only deletion: the event
// log underneath stays intact.
func (a *App) ArchiveMatch(ctx context.Context, id uuid.UUID) error {
	if err := a.repo.ArchiveMatch(ctx, id); err != nil {
		return fmt.Errorf("failed to archive match: %w", err)
	}
	log.Info().Str("match_id", id.String()).Msg("match archived")
	return nil
}

func (a *App) applyDefaults(req *CreateMatchRequest) {
	if req.Settings.HalfLengthMin == 0 {
		req.Settings.HalfLengthMin = a.defaults.HalfLengthMin
	}
	if len(req.Settings.Actions) == 0 {
		req.Settings.Actions = a.defaults.Actions
	}
	if req.Date.IsZero() {
		req.Date = time.Now().UTC()
	}
}

func (a *App) validateCreateMatchRequest(req CreateMatchRequest) error {
	if strings.TrimSpace(req.Opponent) == "" {
		return fmt.Errorf("opponent is required")
	}
	switch req.Observer {
	case models.ObserverParent, models.ObserverPlayer:
	default:
		return fmt.Errorf("observer must be %s or %s", models.ObserverParent, models.ObserverPlayer)
	}
	if req.Settings.HalfLengthMin <= 0 {
		return fmt.Errorf("half length must be positive")
	}
	if len(req.Settings.Actions) == 0 {
		return fmt.Errorf("at least one tracked action is required")
	}
	if len(req.Settings.Actions) > maxTrackedActions {
		return fmt.Errorf("at most %d tracked actions are allowed", maxTrackedActions)
	}

	refs := make(map[string]bool, len(req.Settings.Actions))
	for _, action := range req.Settings.Actions {
		if strings.TrimSpace(action.Ref) == "" {
			return fmt.Errorf("action ref is required")
		}
		if refs[action.Ref] {
			return fmt.Errorf("duplicate action ref %q", action.Ref)
		}
		refs[action.Ref] = true
		if action.Goal != "" {
			if target, err := strconv.ParseFloat(action.Goal, 64); err != nil || target <= 0 {
				return fmt.Errorf("goal for action %q must be a positive number", action.Ref)
			}
		}
	}
	return nil
}
