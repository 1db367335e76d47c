// Package main runs the time-ticket round engine as an HTTP service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/liqingnz/time-ticket/internal/app"
	"github.com/liqingnz/time-ticket/internal/app/httpapi"
	"github.com/liqingnz/time-ticket/internal/app/storage/postgres"
	"github.com/liqingnz/time-ticket/internal/config"
	"github.com/liqingnz/time-ticket/pkg/logger"
)

func main() {
	log := logger.NewDefault("timeticketd")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("load configuration")
		os.Exit(1)
	}

	stores, closeStores, err := buildStores(cfg)
	if err != nil {
		log.WithError(err).Error("open storage")
		os.Exit(1)
	}
	defer closeStores()

	application, err := app.New(stores, app.Options{
		VaultAddress:     cfg.Bank.VaultAddress,
		CoordinatorToken: cfg.Randomness.CoordinatorToken,
		GameParams:       cfg.GameParams(),
		SettleInterval:   cfg.Game.SettleInterval,
		RequestInterval:  cfg.Randomness.RequestInterval,
	}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      httpapi.NewHandler(application, cfg.Server.AdminToken),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("server error")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}
	log.Info("stopped")
}

// buildStores opens the configured backend. The memory driver shares one store
// across all four interfaces; postgres expects schema.sql to be applied.
func buildStores(cfg config.Config) (app.Stores, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return app.Stores{}, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return app.Stores{}, nil, fmt.Errorf("ping postgres: %w", err)
		}
		store := postgres.New(db)
		return app.Stores{
			Rounds:       store,
			Participants: store,
			Randomness:   store,
			Bank:         store,
		}, func() { db.Close() }, nil
	default:
		// Zero-value stores make the application fall back to a shared
		// in-memory store.
		return app.Stores{}, func() {}, nil
	}
}
