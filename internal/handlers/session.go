package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tyron12233/animochat-turn-server/internal/apperr"
	"github.com/tyron12233/animochat-turn-server/internal/models"
	"github.com/tyron12233/animochat-turn-server/internal/session"
)

// SessionHandler serves session reconnect/disconnect and search cancel
// endpoints (spec.md §6).
type SessionHandler struct {
	sessions *session.Manager
	cancel   func(ctx context.Context, userID string) error
}

// NewSessionHandler creates a SessionHandler. cancelFn is the engine's
// Cancel operation, injected to avoid importing the match package here.
func NewSessionHandler(sessions *session.Manager, cancelFn func(ctx context.Context, userID string) error) *SessionHandler {
	return &SessionHandler{sessions: sessions, cancel: cancelFn}
}

// Get handles GET /session/:userId.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	record, err := h.sessions.GetSessionForUser(ctx, userID)
	if err != nil {
		status := statusForErr(err)
		writeErrorWithCause(ctx, w, status, "failed to look up session", err)
		return
	}
	if record == nil {
		writeJSON(w, http.StatusOK, models.NoSessionResponse{Message: "No active session for this user"})
		return
	}

	writeJSON(w, http.StatusOK, models.SessionResponse{
		ChatID:       record.ChatID,
		ServerURL:    record.ServerURL,
		Participants: record.Participants,
	})
}

// Disconnect handles POST /session/disconnect.
func (h *SessionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body models.DisconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	ended, err := h.sessions.End(ctx, body.UserID)
	if err != nil {
		status := statusForErr(err)
		writeErrorWithCause(ctx, w, status, "failed to end session", err)
		return
	}
	if !ended {
		writeError(w, http.StatusNotFound, "no active session for this user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "session ended"})
}

// CancelMatchmaking handles POST /cancel_matchmaking.
func (h *SessionHandler) CancelMatchmaking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body models.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := h.cancel(ctx, body.UserID); err != nil {
		status := statusForErr(err)
		writeErrorWithCause(ctx, w, status, "failed to cancel matchmaking", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "cancelled"})
}

func statusForErr(err error) int {
	switch {
	case apperr.Is(err, apperr.KindInvalidInput):
		return http.StatusBadRequest
	case apperr.Is(err, apperr.KindNotFound):
		return http.StatusNotFound
	case apperr.Is(err, apperr.KindDiscoveryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
