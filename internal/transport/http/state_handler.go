package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"trivia-round-service/internal/app"
	"trivia-round-service/internal/domain"
)

// StateHandler serves stateless phase snapshots.
type StateHandler struct {
	service *app.GameService
}

func NewStateHandler(service *app.GameService) *StateHandler {
	return &StateHandler{service: service}
}

func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	playerID := chi.URLParam(r, "playerID")

	view, err := h.service.Snapshot(r.Context(), gameID, playerID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrGameNotFound) {
			status = http.StatusNotFound
		} else {
			log.Error().Err(err).Str("game_id", gameID).Msg("snapshot failed")
		}
		writeJSON(w, status, errorPayload{Code: errorCode(err), Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorCode maps domain errors to stable client codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrGameNotFound):
		return "game_not_found"
	case errors.Is(err, domain.ErrQuestionNotFound):
		return "question_not_found"
	case errors.Is(err, domain.ErrOptionNotFound):
		return "option_not_found"
	case errors.Is(err, domain.ErrNoTicket):
		return "no_ticket"
	case errors.Is(err, domain.ErrGameFull):
		return "game_full"
	case errors.Is(err, domain.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, domain.ErrWrongPhase):
		return "wrong_phase"
	case errors.Is(err, domain.ErrStaleQuestion), errors.Is(err, domain.ErrOutOfOrder):
		return "stale_question"
	case errors.Is(err, domain.ErrSessionClosed):
		return "session_closed"
	default:
		return "internal"
	}
}
