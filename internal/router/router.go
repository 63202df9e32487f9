package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/tyron12233/animochat-turn-server/internal/config"
	"github.com/tyron12233/animochat-turn-server/internal/handlers"
	"github.com/tyron12233/animochat-turn-server/internal/match"
	"github.com/tyron12233/animochat-turn-server/internal/middleware"
	"github.com/tyron12233/animochat-turn-server/internal/notify"
	"github.com/tyron12233/animochat-turn-server/internal/selector"
	"github.com/tyron12233/animochat-turn-server/internal/session"
	"github.com/tyron12233/animochat-turn-server/internal/store"
)

// New wires the matchmaking core's components into an http.Handler.
func New(cfg *config.Config, queueStore *store.Store, startedAt time.Time) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewRealIPMiddleware(cfg.TrustedProxies).Handler)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	// Components
	sessions := session.New(queueStore)
	sel := selector.New(cfg.DiscoveryServerURL, cfg.SelectorRefreshInterval)
	bus := notify.New(queueStore)
	engine := match.New(queueStore, sessions, sel, bus, cfg.PopularityDenyList, cfg.PopularityWindow)
	maintenance := handlers.NewMaintenance(cfg.MaintenanceMode)

	// Handlers
	matchmakingHandler := handlers.NewMatchmakingHandler(engine, bus, maintenance)
	sessionHandler := handlers.NewSessionHandler(sessions, engine.Cancel)
	interestsHandler := handlers.NewInterestsHandler(engine, cfg.PopularityTopN, maintenance)
	statusHandler := handlers.NewStatusHandler(queueStore, maintenance, startedAt)

	// Rate limiter for the matchmaking stream
	matchmakingRateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	r.Get("/status", statusHandler.Status)
	r.Get("/maintenance", maintenance.Status)

	r.With(matchmakingRateLimiter.Middleware).Get("/matchmaking", matchmakingHandler.Stream)

	r.Get("/session/{userId}", sessionHandler.Get)
	r.Post("/session/disconnect", sessionHandler.Disconnect)
	r.Post("/cancel_matchmaking", sessionHandler.CancelMatchmaking)

	r.Get("/interests/popular", interestsHandler.Popular)

	return r
}
