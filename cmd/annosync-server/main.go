// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Command annosync-server runs the sync server over PostgreSQL (when
// DATABASE_URL is set) or an embedded SQLite database.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mobiletoly/go-annosync/annosync"
)

type serverConfig struct {
	Addr        string
	DatabaseURL string // Postgres; takes precedence over SQLitePath when set
	SQLitePath  string
	JWTSecret   string
	AppName     string
}

func loadConfig() serverConfig {
	return serverConfig{
		Addr:        envOr("ANNOSYNC_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  envOr("ANNOSYNC_SQLITE_PATH", "annosync.db"),
		JWTSecret:   os.Getenv("ANNOSYNC_JWT_SECRET"),
		AppName:     envOr("ANNOSYNC_APP_NAME", "annosync-server"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := loadConfig()
	if cfg.JWTSecret == "" {
		logger.Error("ANNOSYNC_JWT_SECRET is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open entity store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	service := annosync.NewSyncService(store, &annosync.ServiceConfig{AppName: cfg.AppName}, logger)
	handlers := annosync.NewHTTPSyncHandlers(service, annosync.NewJWTAuth(cfg.JWTSecret), logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/", handlers.Routes())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", "error", err)
		}
	}()

	logger.Info("Starting annosync server", "addr", cfg.Addr, "app_name", cfg.AppName)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func openStore(ctx context.Context, cfg serverConfig, logger *slog.Logger) (annosync.EntityStore, func(), error) {
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store, err := annosync.NewPgStore(pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("Using PostgreSQL entity store")
		return store, pool.Close, nil
	}

	db, err := sql.Open("sqlite3", cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	store, err := annosync.NewSQLiteStore(db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("Using SQLite entity store", "path", cfg.SQLitePath)
	return store, func() { _ = db.Close() }, nil
}
