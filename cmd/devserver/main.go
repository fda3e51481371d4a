package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opus/internal/config"
	"opus/internal/devserver"
	"opus/internal/util"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, nil)

	tokens, err := devserver.NewTokenIssuer(cfg.DevJWTSecret, cfg.DevTokenTTLDuration())
	if err != nil {
		log.Fatalf("failed to init token issuer: %v", err)
	}

	var store devserver.Store
	if cfg.DatabaseURL != "" {
		store, err = devserver.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		slog.Info("using postgres document store")
	} else {
		store = devserver.NewMemoryStore()
		slog.Info("using in-memory document store, data is lost on restart")
	}

	app, err := devserver.New(devserver.Config{
		Store:                      store,
		Tokens:                     tokens,
		AdminEmails:                cfg.DevAdminEmails,
		CORSOrigins:                cfg.DevCORSOrigins,
		TrustedProxies:             cfg.DevTrustedProxies,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	defer app.Close()

	addr := ":" + cfg.DevPort
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("devserver listening", "addr", addr, "admins", len(cfg.DevAdminEmails))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
