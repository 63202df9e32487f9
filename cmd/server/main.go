package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/tyron12233/animochat-turn-server/internal/config"
	"github.com/tyron12233/animochat-turn-server/internal/logging"
	"github.com/tyron12233/animochat-turn-server/internal/router"
	"github.com/tyron12233/animochat-turn-server/internal/store"
	sentryscrub "github.com/tyron12233/animochat-turn-server/internal/sentry"
)

func main() {
	// Initialize structured logging (reads LOGGING_LEVEL env var)
	logging.Initialize()

	// Load configuration
	cfg := config.Load()

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
			BeforeSend:  sentryscrub.ScrubEvent,
		})
		if err != nil {
			slog.Error("failed to initialize sentry", slog.String("error", err.Error()))
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Create the client for the shared durable store (Redis).
	rdb, err := store.Open(cfg.StoreURL)
	if err != nil {
		slog.Error("failed to parse store URL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	queueStore := store.New(rdb)

	startedAt := time.Now()

	// Create router
	r := router.New(cfg, queueStore, startedAt)

	// Start server
	addr := ":" + cfg.Port
	slog.Info("starting server", slog.String("addr", addr))
	slog.Info("frontend should connect to", slog.String("url", "http://localhost"+addr))

	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
