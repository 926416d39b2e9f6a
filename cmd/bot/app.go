package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gorm.io/gorm"

	"github.com/camuig/hype-trader/internal/ai"
	"github.com/camuig/hype-trader/internal/broker"
	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/executor"
	"github.com/camuig/hype-trader/internal/logger"
	"github.com/camuig/hype-trader/internal/market"
	"github.com/camuig/hype-trader/internal/moex"
	"github.com/camuig/hype-trader/internal/scheduler"
	"github.com/camuig/hype-trader/internal/storage"
	"github.com/camuig/hype-trader/internal/telegram"
	"github.com/camuig/hype-trader/internal/web"
)

// reviewWindow is how long failed operations keep being checked for late fills.
const reviewWindow = 24 * time.Hour

type app struct {
	mode      string
	db        *gorm.DB
	broker    *broker.Client
	notifier  *telegram.Notifier
	scheduler *scheduler.Scheduler
	web       *web.Server
	logger    *logger.Logger
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{mode: modeOf(cfg), logger: log}
	log.Info("starting hype-trader", "mode", a.mode, "instruments", len(cfg.Strategy.Instruments),
		"universe_top", cfg.Strategy.UniverseTop, "llm_key", logger.Mask(cfg.LLM.APIKey))

	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("database init: %w", err)
	}
	a.db = db
	repo := storage.NewRepository(db)

	bc, err := broker.NewClient(ctx, cfg, log)
	if err != nil {
		_ = storage.Close(db)
		return nil, fmt.Errorf("broker client init: %w", err)
	}
	a.broker = bc
	log.Info("broker connected", "account_id", bc.AccountID(), "sandbox", bc.Sandbox())

	var provider market.Provider = bc
	if cfg.Market.Provider == "yahoo" {
		provider = market.NewYahooProvider(cfg.Market.SymbolSuffix, cfg.Market.LookbackDays, cfg.MarketTimeout(), log)
	}

	a.notifier = telegram.NewNotifier(cfg, log)
	moexClient := moex.NewClient(cfg, log)

	coordinator := executor.NewCoordinator(bc, repo, a.notifier, executor.Config{
		MaxRetries:   cfg.Execution.MaxRetries,
		Interval:     cfg.Interval(),
		DryRun:       cfg.Execution.DryRun,
		ReviewWindow: reviewWindow,
	}, log)

	a.scheduler = scheduler.New(scheduler.Deps{
		Broker:   bc,
		Market:   provider,
		Signals:  ai.NewClient(cfg, log),
		News:     moexClient,
		Universe: moexClient,
		Executor: coordinator,
		Store:    repo,
		Notifier: a.notifier,
	}, cfg, log)

	if cfg.Web.Enabled {
		a.web = web.NewServer(repo, a.mode, cfg, log)
	}
	return a, nil
}

func (a *app) close() {
	if a.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.web.Shutdown(ctx); err != nil {
			a.logger.Error("web server shutdown error", "error", err)
		}
	}
	if err := a.broker.Stop(); err != nil {
		a.logger.Error("broker client stop error", "error", err)
	}
	if err := storage.Close(a.db); err != nil {
		a.logger.Error("database close error", "error", err)
	}
	a.logger.Info("hype-trader stopped")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
