package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/assafshtengel/matchtrack/internal/match"
	"github.com/assafshtengel/matchtrack/internal/match/session"
	"github.com/assafshtengel/matchtrack/internal/match/stats"
	"github.com/assafshtengel/matchtrack/internal/models"
)

// MatchApp defines what the state handler needs from the match app layer.
type MatchApp interface {
	CreateMatch(ctx context.Context, req match.CreateMatchRequest) (*models.Match, error)
	GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error)
	ListActiveMatches(ctx context.Context, phase *models.Phase) ([]models.Match, error)
	UpdateMatch(ctx context.Context, id uuid.UUID, req match.UpdateMatchRequest) (*models.Match, error)
	ArchiveMatch(ctx context.Context, id uuid.UUID) error
}

// SessionOpener defines what the state handler needs from the session layer.
type SessionOpener interface {
	Open(ctx context.Context, matchID uuid.UUID) (*session.Engine, error)
}

// MatchStateResponse represents the live state of a match session.
type MatchStateResponse struct {
	MatchID   string              `json:"match_id"`
	Phase     models.Phase        `json:"phase"`
	Clock     models.ClockState   `json:"clock"`
	View      stats.AggregateView `json:"view"`
	LogLength int                 `json:"log_length"`
}

// TransitionRequest asks for one phase transition.
type TransitionRequest struct {
	Transition string `json:"transition"`
}

// AppendEventRequest logs one event through the session engine. ID is
// optional and lets clients retry safely with the same id.
type AppendEventRequest struct {
	ID         string     `json:"id,omitempty"`
	Kind       string     `json:"kind"`
	ActionRef  string     `json:"action_ref,omitempty"`
	Result     string     `json:"result,omitempty"`
	Note       string     `json:"note,omitempty"`
	PlayerOut  string     `json:"player_out,omitempty"`
	PlayerIn   string     `json:"player_in,omitempty"`
	Undoes     *uuid.UUID `json:"undoes,omitempty"`
	RecordedBy string     `json:"recorded_by,omitempty"`
}

// StateHandler serves the REST surface: match lifecycle plus live
// session operations.
type StateHandler struct {
	app      MatchApp
	sessions SessionOpener
}

// NewStateHandler creates a new state handler.
func NewStateHandler(app MatchApp, sessions SessionOpener) *StateHandler {
	return &StateHandler{app: app, sessions: sessions}
}

// RegisterStateRoutes registers the REST routes.
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/matches", h.handleMatches)
	mux.HandleFunc("/api/matches/", h.handleMatchSubroutes)
}

// handleMatches handles GET (list active) and POST (create) on /api/matches.
func (h *StateHandler) handleMatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		matches, err := h.app.ListActiveMatches(r.Context(), nil)
		if err != nil {
			log.Error().Err(err).Msg("failed to list matches")
			http.Error(w, "failed to list matches", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, matches)

	case http.MethodPost:
		var req match.CreateMatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		m, err := h.app.CreateMatch(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, m)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMatchSubroutes dispatches /api/matches/{id}[/...] paths.
func (h *StateHandler) handleMatchSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/matches/")
	parts := strings.SplitN(rest, "/", 2)

	matchID, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, "invalid match ID format", http.StatusBadRequest)
		return
	}

	var sub string
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		h.handleGetMatch(w, r, matchID)
	case sub == "" && r.Method == http.MethodPatch:
		h.handleUpdateMatch(w, r, matchID)
	case sub == "" && r.Method == http.MethodDelete:
		h.handleArchiveMatch(w, r, matchID)
	case sub == "state" && r.Method == http.MethodGet:
		h.handleGetState(w, r, matchID)
	case sub == "transition" && r.Method == http.MethodPost:
		h.handleTransition(w, r, matchID)
	case sub == "events" && r.Method == http.MethodPost:
		h.handleAppendEvent(w, r, matchID)
	case sub == "summary" && r.Method == http.MethodGet:
		h.handleSummary(w, r, matchID)
	default:
		http.NotFound(w, r)
	}
}

func (h *StateHandler) handleGetMatch(w http.ResponseWriter, r *http.Request, matchID uuid.UUID) {
	m, err := h.app.GetMatch(r.Context(), matchID)
	if err != nil {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *StateHandler) handleUpdateMatch(w http.ResponseWriter, r *http.Request, matchID uuid.UUID) {
	var req match.UpdateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	m, err := h.app.UpdateMatch(r.Context(), matchID, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *StateHandler) handleArchiveMatch(w http.ResponseWriter, r *http.Request, matchID uuid.UUID) {
	if err := h.app.ArchiveMatch(r.Context(), matchID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StateHandler) handleGetState(w http.ResponseWriter, r *http.Request, matchID uuid.UUID) {
	engine, err := h.sessions.Open(r.Context(), matchID)
	if err != nil {
		log.Error().Err(err).Str("match_id", matchID.String()).Msg("failed to open match session")
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, MatchStateResponse{
		MatchID:   matchID.String(),
		Phase:     engine.CurrentPhase(),
		Clock:     engine.Clock(),
		View:      engine.AggregateView(),
		LogLength: engine.LogLen(),
	})
}

func (h *StateHandler) handleTransition(w http.ResponseWriter, r *http.Request, matchID uuid.UUID) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	transition, err := session.ParseTransition(req.Transition)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	engine, err := h.sessions.Open(r.Context(), matchID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	phase, err := engine.RequestTransition(transition)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrGuardViolation) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"match_id": matchID.String(),
		"phase":    phase,
		"clock":    engine.Clock(),
	})
}

func (h *StateHandler) handleAppendEvent(w http.ResponseWriter, r *http.Request, matchID uuid.UUID) {
	var req AppendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	engine, err := h.sessions.Open(r.Context(), matchID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	appendReq := session.AppendRequest{
		Kind:       models.EventKind(req.Kind),
		ActionRef:  req.ActionRef,
		Result:     models.ActionResult(req.Result),
		Note:       req.Note,
		PlayerOut:  req.PlayerOut,
		PlayerIn:   req.PlayerIn,
		Undoes:     req.Undoes,
		RecordedBy: models.Observer(req.RecordedBy),
	}
	if req.ID != "" {
		id, err := uuid.Parse(req.ID)
		if err != nil {
			http.Error(w, "invalid event id format", http.StatusBadRequest)
			return
		}
		appendReq.ID = id
	}

	id, err := engine.Append(appendReq)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrGuardViolation) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"event_id":  id.String(),
		"match_id":  matchID.String(),
		"status":    models.CommitStatusPending,
		"logged_at": time.Now().UTC(),
	})
}

func (h *StateHandler) handleSummary(w http.ResponseWriter, r *http.Request, matchID uuid.UUID) {
	engine, err := h.sessions.Open(r.Context(), matchID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var summary stats.Summary
	switch stage := r.URL.Query().Get("stage"); stage {
	case "halftime":
		summary = engine.HalftimeSummary()
	case "", "final":
		summary = engine.FinalSummary()
	default:
		http.Error(w, "stage must be halftime or final", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
