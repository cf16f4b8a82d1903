package main

import (
	"fmt"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/barstore"
	"github.com/dlanglois/ironclad-trader/internal/broker"
	"github.com/dlanglois/ironclad-trader/internal/config"
	"github.com/dlanglois/ironclad-trader/internal/engine"
	"github.com/dlanglois/ironclad-trader/internal/eventbus"
	"github.com/dlanglois/ironclad-trader/internal/history"
	"github.com/dlanglois/ironclad-trader/internal/logging"
	"github.com/dlanglois/ironclad-trader/internal/marketdata"
	"github.com/dlanglois/ironclad-trader/internal/metrics"
	"github.com/dlanglois/ironclad-trader/internal/persistence"
	"github.com/dlanglois/ironclad-trader/internal/risk"
	"github.com/dlanglois/ironclad-trader/internal/strategy"
	"github.com/sirupsen/logrus"
)

const defaultCacheTTL = 5 * time.Second

// components bundles every collaborator the composition root builds
// once and hands to either "serve" or "backtest" — the single place
// that turns a *config.Config into the full object graph the engine
// and backtester run against.
type components struct {
	cfg   *config.Config
	brk   broker.Broker
	store *barstore.Store
	hist  *history.Provider
	md    *marketdata.Service
	risk  *risk.Manager
	db    *persistence.Store
	bus   *eventbus.Bus
	eng   *engine.Engine
}

// buildComponents loads configuration and constructs every engine
// collaborator, but does not start anything.
func buildComponents() (*components, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Configure(cfg.AppEnv, cfg.LogrusLevel())
	metrics.Init()

	alpaca := broker.NewAlpacaClient(cfg.AlpacaBaseURL, cfg.AlpacaDataURL, cfg.AlpacaAPIKey, cfg.AlpacaSecretKey, logrus.NewEntry(logrus.StandardLogger()))
	brk := broker.Broker(broker.NewCircuitBreakerBroker(alpaca))

	store, err := barstore.New(cfg.BarStorePath)
	if err != nil {
		return nil, fmt.Errorf("open bar store: %w", err)
	}
	hist := history.New(cfg.HistoryProviderURL)
	md := marketdata.New(brk, store, hist, defaultCacheTTL)

	riskMgr := risk.New(risk.Limits{
		MaxDailyLossPct:    cfg.MaxDailyLossPct,
		MaxPositionSizePct: cfg.MaxPositionSizePct,
		MaxTradesPerDay:    cfg.MaxTradesPerDay,
		MaxOpenPositions:   cfg.MaxOpenPositions,
		MinBuyingPowerPct:  cfg.MinBuyingPowerPct,
	})

	db, err := persistence.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open persistence store: %w", err)
	}

	overrides, err := strategy.LoadOverrides(cfg.StrategyParamsPath)
	if err != nil {
		return nil, fmt.Errorf("load strategy overrides: %w", err)
	}
	overrides.Apply()

	bus := eventbus.New()
	eng := engine.New(brk, md, riskMgr, db, bus)

	return &components{
		cfg:   cfg,
		brk:   brk,
		store: store,
		hist:  hist,
		md:    md,
		risk:  riskMgr,
		db:    db,
		bus:   bus,
		eng:   eng,
	}, nil
}

func (c *components) Close() {
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			logrus.WithField("component", "main").Warnf("close persistence store: %v", err)
		}
	}
}
