package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eternisai/salesintel/internal/api"
	"github.com/eternisai/salesintel/internal/apiclient"
	"github.com/eternisai/salesintel/internal/config"
	"github.com/eternisai/salesintel/internal/logger"
	"github.com/eternisai/salesintel/internal/metrics"
	"github.com/eternisai/salesintel/internal/notify"
	"github.com/eternisai/salesintel/internal/pacing"
	"github.com/eternisai/salesintel/internal/progress"
	"github.com/eternisai/salesintel/internal/research"
	"github.com/eternisai/salesintel/internal/session"
	"github.com/eternisai/salesintel/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	slog.SetDefault(log.Logger)

	log.Info("setting gin mode", slog.String("mode", cfg.GinMode))
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	prefs, err := store.Open(ctx, store.Config{
		Driver:          cfg.StoreDriver,
		Path:            cfg.StorePath,
		DatabaseURL:     cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}, log)
	if err != nil {
		log.Error("failed to open preference store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var notifier *notify.Service
	if cfg.NatsURL != "" {
		nc, err := notify.Connect(cfg.NatsURL, log)
		if err != nil {
			log.Error("failed to connect to nats", slog.String("error", err.Error()))
			os.Exit(1)
		}
		notifier = notify.New(nc, log, logger.GetInstanceID())
		log.Info("nats connected", slog.String("url", nc.ConnectedUrl()))
	} else {
		log.Info("nats disabled; research events stay local")
	}

	m := metrics.New()
	backend := apiclient.New(apiclient.Config{
		BaseURL: cfg.ResearchAPIURL,
		APIKey:  cfg.ResearchAPIKey,
		Timeout: cfg.ResearchAPITimeout,
	}, log)

	hubOpts := session.Options{
		Research:        research.ConfigFrom(cfg),
		IdleTimeout:     cfg.SessionIdleTimeout,
		JanitorSchedule: cfg.JanitorSchedule,
		Backend: func(sessionID string, onExpired func()) session.Backend {
			return backend.ForSession(sessionID, onExpired)
		},
		Store:  prefs,
		Mapper: progress.NewMapper(cfg.Areas),
		Pacer: pacing.NewTimed(map[pacing.Beat]time.Duration{
			pacing.BeatThinking:    cfg.PaceThinking,
			pacing.BeatEcho:        cfg.PaceEcho,
			pacing.BeatKickoff:     cfg.PaceKickoff,
			pacing.BeatHistoryStep: cfg.PaceHistoryStep,
		}),
		Metrics: m,
		Logger:  log,
	}
	if notifier != nil {
		hubOpts.Publisher = notifier
	}
	hub := session.NewHub(hubOpts)

	if err := hub.StartJanitor(); err != nil {
		log.Error("failed to start session janitor", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if notifier != nil {
		if err := notifier.Start(hub); err != nil {
			log.Error("failed to subscribe to stop requests", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	secret := cfg.SessionTokenSecret
	if secret == "" {
		secret = randomSecret()
	}
	tokens, err := api.NewTokenIssuer(secret, cfg.SessionTokenTTL)
	if err != nil {
		log.Error("failed to initialize token issuer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	apiOpts := api.Options{
		Hub:            hub,
		Tokens:         tokens,
		Metrics:        m,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         log,
	}
	if notifier != nil {
		apiOpts.Remote = notifier
	}
	server := api.NewServer(apiOpts)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Warn("sessions did not close cleanly", slog.String("error", err.Error()))
	}
	if err := notifier.Close(); err != nil {
		log.Warn("failed to close nats connection", slog.String("error", err.Error()))
	}
	if err := prefs.Close(); err != nil {
		log.Warn("failed to close preference store", slog.String("error", err.Error()))
	}

	log.Info("server exited")
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
