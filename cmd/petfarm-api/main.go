package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"petfarm/internal/api"
	"petfarm/internal/auth"
	"petfarm/internal/catalog"
	"petfarm/internal/config"
	"petfarm/internal/game"
	"petfarm/internal/market"
	"petfarm/internal/session"
	"petfarm/internal/store/backend"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cat, err := catalog.LoadDefault(ctx, cfg.CatalogPath)
	if err != nil {
		logger.Error("catalog load failed", "path", cfg.CatalogPath, "err", err)
		os.Exit(1)
	}

	gw, closeStore, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		logger.Error("store open failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("store close failed", "err", err)
		}
	}()

	verifier, err := auth.NewVerifier(cfg.IdentitySecret, cfg.AdminIDs)
	if err != nil {
		logger.Error("identity init failed", "err", err)
		os.Exit(1)
	}

	rules, limits, timers := session.Settings(cfg.Game)
	engine := game.NewEngine(cat, rules, nil)
	mkt := market.New(gw, logger)
	sessions, err := session.NewRegistry(session.Deps{
		Gateway:  gw,
		Engine:   engine,
		Market:   mkt,
		Baseline: cat.Fingerprint(),
		Limits:   limits,
		Timers:   timers,
		Logger:   logger,
		IsAdmin:  verifier.IsAdmin,
	})
	if err != nil {
		logger.Error("session registry init failed", "err", err)
		os.Exit(1)
	}

	server := api.New(cfg, logger, verifier, sessions, mkt, cat)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				server.Sweep(ctx)
			}
		}
	}()

	// Sessions flush their snapshots before the store closes.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		sessions.CloseAll(shutdownCtx)
	}()

	logger.Info("petfarm api listening", "addr", cfg.Addr, "store", cfg.Store.Driver, "catalog_species", len(cat.SpeciesList()))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	<-drained
	logger.Info("petfarm api stopped")
}
