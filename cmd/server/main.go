package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/xtrntr/backoffice/internal/api"
	"github.com/xtrntr/backoffice/internal/auth"
	"github.com/xtrntr/backoffice/internal/cache"
	"github.com/xtrntr/backoffice/internal/config"
	"github.com/xtrntr/backoffice/internal/db"
	"github.com/xtrntr/backoffice/internal/ledger"
	"github.com/xtrntr/backoffice/internal/logger"
	"github.com/xtrntr/backoffice/internal/notify"
	"github.com/xtrntr/backoffice/internal/tickets"
	"go.uber.org/zap"
)

// Main entry point: loads config, connects storage and serves the API
func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.Must(zap.NewProduction()).Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		zap.Must(zap.NewProduction()).Fatal("failed to build logger", zap.Error(err))
	}
	defer log.Sync()

	ctx := context.Background()

	database, err := db.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(ctx)

	if err := database.Migrate(ctx); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	authService := auth.NewAuthService(database,
		auth.BcryptHasher{Cost: cfg.Auth.BcryptCost},
		auth.DefaultPasswordPolicy(cfg.Auth.MinPasswordLength),
		log.Named("auth"))

	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			// the cache is an optimization; run without it
			log.Warn("token cache disabled", zap.Error(err))
		} else {
			defer client.Close()
			authService.Cache = cache.NewTokenCache(client, cfg.Redis.TokenTTL)
			log.Info("token cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	ledgerService := ledger.NewService(database, log.Named("ledger"))
	ledgerService.ReferenceAttempts = cfg.Ledger.ReferenceAttempts

	handler := api.NewHandler(authService, tickets.NewService(database, log.Named("tickets")), ledgerService, log.Named("http"))
	handler.DB = database

	var hub *notify.Hub
	if cfg.Stream.Enabled {
		hub = notify.NewHub(originChecker(cfg.CORS.AllowedOrigins), log.Named("stream"))
		handler.Stream = hub
		ledgerService.Notifier = api.StreamNotifier{Publisher: hub}
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewRouter(handler, cfg.CORS.AllowedOrigins),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not tracked by Shutdown
	if hub != nil {
		hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	log.Info("server stopped")
}

// originChecker accepts websocket handshakes from the CORS origins
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
