package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"petfarm/internal/audit"
	"petfarm/internal/catalog"
	"petfarm/internal/config"
	"petfarm/internal/session"
	"petfarm/internal/store/backend"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAuditFromEnv()
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

	rules, limits, _ := session.Settings(cfg.Game)
	sweeper := audit.New(gw, cat, rules, limits, logger)

	run := func() error {
		started := time.Now()
		report, err := sweeper.Run(ctx)
		if err != nil {
			return err
		}
		logger.Info("audit sweep complete",
			"scanned", report.Scanned,
			"corrected", len(report.Corrected),
			"corrupt", len(report.Corrupt),
			"locked", report.Locked,
			"took", time.Since(started).String(),
		)
		return nil
	}

	if cfg.RunOnce {
		if err := run(); err != nil {
			logger.Error("audit failed", "err", err)
			os.Exit(1)
		}
		logger.Info("audit run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.Every)
	defer ticker.Stop()

	logger.Info("auditor started", "every", cfg.Every.String())
	if err := run(); err != nil {
		logger.Error("audit sweep failed", "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("auditor shutdown")
			return
		case <-ticker.C:
			if err := run(); err != nil {
				logger.Error("audit sweep failed", "err", err)
				continue
			}
		}
	}
}
