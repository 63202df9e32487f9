package handlers

import (
	"net/http"

	"github.com/tyron12233/animochat-turn-server/internal/match"
	"github.com/tyron12233/animochat-turn-server/internal/models"
)

// InterestsHandler serves the popular-interests endpoint (spec.md §6).
type InterestsHandler struct {
	engine      *match.Engine
	topN        int
	maintenance *Maintenance
}

// NewInterestsHandler creates an InterestsHandler.
func NewInterestsHandler(engine *match.Engine, topN int, maintenance *Maintenance) *InterestsHandler {
	return &InterestsHandler{engine: engine, topN: topN, maintenance: maintenance}
}

// Popular handles GET /interests/popular.
func (h *InterestsHandler) Popular(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.maintenance.Active() {
		writeError(w, http.StatusServiceUnavailable, "service is in maintenance")
		return
	}

	counts, err := h.engine.PopularInterests(ctx, h.topN)
	if err != nil {
		writeErrorWithCause(ctx, w, statusForErr(err), "failed to compute popular interests", err)
		return
	}

	out := make([]models.PopularInterest, len(counts))
	for i, c := range counts {
		out[i] = models.PopularInterest{Interest: c.Interest, Count: c.Count}
	}
	writeJSON(w, http.StatusOK, out)
}
