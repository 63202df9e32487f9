package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tyron12233/animochat-turn-server/internal/models"
	"github.com/tyron12233/animochat-turn-server/internal/store"
)

// StatusHandler serves the health-check endpoint (spec.md §6).
type StatusHandler struct {
	store       store.Client
	maintenance *Maintenance
	startedAt   time.Time
}

// NewStatusHandler creates a StatusHandler. startedAt should be the time
// the process came up, used to report uptime.
func NewStatusHandler(s store.Client, maintenance *Maintenance, startedAt time.Time) *StatusHandler {
	return &StatusHandler{store: s, maintenance: maintenance, startedAt: startedAt}
}

// Status handles GET /status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storeState := "connected"
	if err := h.store.Ping(ctx); err != nil {
		storeState = "unavailable"
	}

	chatKeys, _ := h.store.ScanKeys(ctx, "chat_session:*")
	queueKeys, _ := h.store.ScanKeys(ctx, "user_interests:*")

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	host, _ := os.Hostname()

	writeJSON(w, http.StatusOK, models.StatusResponse{
		Service:     "matchmaking-core",
		Store:       storeState,
		ChatCount:   int64(len(chatKeys)),
		QueueCount:  int64(len(queueKeys)),
		Uptime:      humanize.RelTime(h.startedAt, time.Now(), "", ""),
		Memory:      humanize.Bytes(mem.Alloc),
		Host:        host,
		Maintenance: h.maintenance.Active(),
	})
}
