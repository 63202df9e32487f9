package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tyron12233/animochat-turn-server/internal/apperr"
	"github.com/tyron12233/animochat-turn-server/internal/logging"
	"github.com/tyron12233/animochat-turn-server/internal/match"
	"github.com/tyron12233/animochat-turn-server/internal/models"
	"github.com/tyron12233/animochat-turn-server/internal/notify"
)

// MatchmakingHandler serves the long-lived matchmaking SSE stream.
type MatchmakingHandler struct {
	engine      *match.Engine
	bus         *notify.Bus
	maintenance *Maintenance
}

// NewMatchmakingHandler creates a MatchmakingHandler.
func NewMatchmakingHandler(engine *match.Engine, bus *notify.Bus, maintenance *Maintenance) *MatchmakingHandler {
	return &MatchmakingHandler{engine: engine, bus: bus, maintenance: maintenance}
}

// Stream handles GET /matchmaking?userId=<id>&interest=<csv> (spec.md §6).
func (h *MatchmakingHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.maintenance.Active() {
		logging.LogSecurityEvent(ctx, logging.SecurityEventMaintenance, "matchmaking rejected: maintenance")
		h.writeTerminalFrame(w, http.StatusServiceUnavailable, models.StreamFrame{
			State:   models.StateMaintenance,
			Message: "matchmaking is temporarily unavailable",
		})
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		logging.LogSecurityEvent(ctx, logging.SecurityEventInvalidInput, "matchmaking rejected: missing userId")
		h.writeTerminalFrame(w, http.StatusBadRequest, models.StreamFrame{
			State:   models.StateError,
			Message: "userId is required",
		})
		return
	}

	interests := parseInterestCSV(r.URL.Query().Get("interest"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	notifyCh := h.bus.Subscribe(ctx, userID)
	defer h.bus.Unsubscribe(userID)

	outcome, err := h.engine.FindOrQueue(ctx, userID, interests)
	if err != nil {
		h.bus.Unsubscribe(userID)
		status, frame := errorFrame(err)
		logging.LogErrorWithStatus(ctx, status, "findOrQueue failed", err)
		writeSSEFrame(w, flusher, frame)
		return
	}

	if outcome.Matched {
		h.bus.Unsubscribe(userID)
		writeSSEFrame(w, flusher, models.StreamFrame{
			State:         models.StateMatched,
			MatchedUserID: outcome.PartnerUserID,
			Interest:      strings.Join(outcome.CommonInterests, ","),
			ChatID:        outcome.ChatID,
			ChatServerURL: outcome.ChatServerURL,
		})
		return
	}

	writeSSEFrame(w, flusher, models.StreamFrame{State: models.StateWaiting})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			// Stream closed: cancellation cleanup (spec.md §5).
			_ = h.engine.Cancel(context.Background(), userID)
			return
		case payload, ok := <-notifyCh:
			if !ok {
				return
			}
			var frame models.StreamFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				logging.LogErrorWithStatus(ctx, http.StatusInternalServerError, "failed to decode match payload", err)
				return
			}
			writeSSEFrame(w, flusher, frame)
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func (h *MatchmakingHandler) writeTerminalFrame(w http.ResponseWriter, status int, frame models.StreamFrame) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(status)
	body, _ := json.Marshal(frame)
	fmt.Fprintf(w, "data: %s\n\n", body)
}

func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, frame models.StreamFrame) {
	body, _ := json.Marshal(frame)
	fmt.Fprintf(w, "data: %s\n\n", body)
	flusher.Flush()
}

func errorFrame(err error) (int, models.StreamFrame) {
	switch {
	case apperr.Is(err, apperr.KindInvalidInput):
		return http.StatusBadRequest, models.StreamFrame{State: models.StateError, Message: err.Error()}
	case apperr.Is(err, apperr.KindDiscoveryUnavailable):
		return http.StatusServiceUnavailable, models.StreamFrame{State: models.StateError, Message: "no chat server available"}
	case apperr.Is(err, apperr.KindStoreUnavailable):
		return http.StatusInternalServerError, models.StreamFrame{State: models.StateError, Message: "internal error"}
	default:
		return http.StatusInternalServerError, models.StreamFrame{State: models.StateError, Message: "internal error"}
	}
}

func parseInterestCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
