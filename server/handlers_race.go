package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/race-tender/identity"
	"github.com/onnwee/race-tender/ledger"
	"github.com/onnwee/race-tender/race"
	"github.com/onnwee/race-tender/session"
	"github.com/onnwee/race-tender/telemetry"
)

// writeRaceError maps lifecycle errors onto HTTP responses. Resolution and
// config errors carry messages meant for the players; everything else is an
// internal failure.
func writeRaceError(w http.ResponseWriter, r *http.Request, err error) {
	var resErr *identity.ResolutionError
	var cfgErr *session.ConfigError
	switch {
	case errors.As(err, &resErr), errors.As(err, &cfgErr):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrDuplicateActiveRace):
		http.Error(w, "an active race already exists for this episode", http.StatusConflict)
	case errors.Is(err, race.ErrSettingsSubmitted):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		telemetry.LoggerWithCorr(r.Context()).Error("race trigger failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// HandleOpenRace creates (or returns) the race room for an episode.
func (h *Handlers) HandleOpenRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		EpisodeID int64 `json:"episode_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EpisodeID == 0 {
		http.Error(w, "episode_id required", http.StatusBadRequest)
		return
	}

	roomID, created, err := h.deps.Orchestrator.OpenRoom(r.Context(), req.EpisodeID)
	if err != nil {
		writeRaceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"room_id": roomID, "created": created})
}

// HandleRollSeed rolls and publishes the seed for a race room.
func (h *Handlers) HandleRollSeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RoomID    string `json:"room_id"`
		EpisodeID int64  `json:"episode_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
		http.Error(w, "room_id required", http.StatusBadRequest)
		return
	}

	if err := h.deps.Orchestrator.RollSeed(r.Context(), req.RoomID, req.EpisodeID); err != nil {
		writeRaceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "rolled"})
}

// HandleRaceStart is the webhook fired when a room's race goes live.
func (h *Handlers) HandleRaceStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RoomID string `json:"room_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
		http.Error(w, "room_id required", http.StatusBadRequest)
		return
	}

	if err := h.deps.Orchestrator.MarkStarted(r.Context(), req.RoomID); err != nil {
		writeRaceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGatekeeper reports whether a racetime user may perform restricted
// room actions for a tournament.
func (h *Handlers) HandleGatekeeper(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	event := r.URL.Query().Get("event")
	user := r.URL.Query().Get("user")
	if event == "" || user == "" {
		http.Error(w, "event and user required", http.StatusBadRequest)
		return
	}

	cfg, err := h.deps.Registry.Load(r.Context(), event)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	allowed := h.deps.Registry.CanGatekeep(r.Context(), cfg, user)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"allowed": allowed})
}

// HandleBracketSubmit records a player's settings pick for a bracket game.
func (h *Handlers) HandleBracketSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		EpisodeID  int64           `json:"episode_id"`
		GameNumber int             `json:"game_number"`
		Settings   json.RawMessage `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EpisodeID == 0 || len(req.Settings) == 0 {
		http.Error(w, "episode_id and settings required", http.StatusBadRequest)
		return
	}

	if err := h.deps.Orchestrator.SubmitBracketSettings(r.Context(), req.EpisodeID, req.GameNumber, req.Settings); err != nil {
		writeRaceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
