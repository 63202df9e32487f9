package handlers

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

// Maintenance is a process-wide toggle gating matchmaking and the
// popular-interests endpoint (spec.md §6, §7). It starts from
// configuration and is safe for concurrent reads.
type Maintenance struct {
	active atomic.Bool
}

// NewMaintenance creates a Maintenance flag seeded from configuration.
func NewMaintenance(active bool) *Maintenance {
	m := &Maintenance{}
	m.active.Store(active)
	return m
}

// Active reports whether maintenance mode is currently on.
func (m *Maintenance) Active() bool {
	return m.active.Load()
}

// Status handles GET /maintenance: 200 "ACTIVE" or 503 "MAINTENANCE".
func (m *Maintenance) Status(w http.ResponseWriter, r *http.Request) {
	if m.Active() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "MAINTENANCE")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ACTIVE")
}
