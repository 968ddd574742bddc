package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	rediscache "heartbeat-trader/internal/cache/redis"
	"heartbeat-trader/internal/config"
	"heartbeat-trader/internal/heartbeat"
	"heartbeat-trader/internal/market"
	"heartbeat-trader/internal/oracle"
	"heartbeat-trader/internal/position"
	"heartbeat-trader/internal/reader"
	"heartbeat-trader/internal/store"
	"heartbeat-trader/internal/store/postgres"
)

const binanceTestnetURL = "https://testnet.binancefuture.com"

// App holds the application dependencies. Everything past the config is
// built on first use so that commands only touch the collaborators they need.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
	Debug     bool

	store        store.Store
	redis        *rediscache.Client
	binance      *market.BinanceSource
	prices       market.PriceSource
	engine       *position.Engine
	readers      *reader.Registry
	orchestrator *heartbeat.Orchestrator
}

// LoadConfig loads the configuration once.
func (a *App) LoadConfig() (*config.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}
	cfg, err := config.Load(a.ConfigDir)
	if err != nil {
		return nil, err
	}
	a.Config = cfg
	return cfg, nil
}

// Store opens the configured store.
func (a *App) Store(ctx context.Context) (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	cfg, err := a.LoadConfig()
	if err != nil {
		return nil, err
	}

	switch cfg.Database.Driver {
	case "postgres":
		st, err := postgres.Open(ctx, postgres.ClientConfig{DSN: cfg.Database.DSN, MaxConns: cfg.Database.MaxConns})
		if err != nil {
			return nil, err
		}
		a.store = st
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		st, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		a.store = st
	}
	a.Logger.Debug().Str("driver", cfg.Database.Driver).Msg("Store opened")
	return a.store, nil
}

// Redis connects to redis when enabled. It returns nil, nil when disabled.
func (a *App) Redis(ctx context.Context) (*rediscache.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	cfg, err := a.LoadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client, err := rediscache.New(ctx, rediscache.ClientConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, err
	}
	a.redis = client
	return client, nil
}

func (a *App) binanceSource() *market.BinanceSource {
	if a.binance == nil {
		baseURL := a.Config.Binance.BaseURL
		if baseURL == "" && a.Config.Binance.Testnet {
			baseURL = binanceTestnetURL
		}
		a.binance = market.NewBinanceSource(a.Config.Binance.APIKey, a.Config.Binance.APISecret, baseURL)
	}
	return a.binance
}

// Prices returns the mark price source, cached through redis when enabled.
func (a *App) Prices(ctx context.Context) (market.PriceSource, error) {
	if a.prices != nil {
		return a.prices, nil
	}
	if _, err := a.LoadConfig(); err != nil {
		return nil, err
	}
	var src market.PriceSource = a.binanceSource()

	rc, err := a.Redis(ctx)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		ttl := a.Config.Redis.PriceTTL
		src = market.NewCachedSource(src, rediscache.NewPriceCache(rc, ttl), ttl, a.Logger)
	}
	a.prices = src
	return src, nil
}

// Engine builds the position engine.
func (a *App) Engine(ctx context.Context) (*position.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	st, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	prices, err := a.Prices(ctx)
	if err != nil {
		return nil, err
	}
	a.engine = position.NewEngine(st, prices, position.Config{
		FeeRate:                a.Config.Engine.FeeRate,
		MaintenanceMarginRatio: a.Config.Engine.MaintenanceMarginRatio,
	}, a.Logger)
	return a.engine, nil
}

// Readers registers the configured readers.
func (a *App) Readers() (*reader.Registry, error) {
	if a.readers != nil {
		return a.readers, nil
	}
	cfg, err := a.LoadConfig()
	if err != nil {
		return nil, err
	}

	reg := reader.NewRegistry(cfg.Engine.DefaultReaderTimeout, a.Logger)
	for _, rc := range cfg.Readers {
		var rd reader.Reader
		switch rc.Kind {
		case config.ReaderKindHTTP:
			rd = reader.NewHTTPReader(rc.ID, rc.URL, rc.Headers)
		case config.ReaderKindBinance:
			rd = reader.NewBinanceReader(rc.ID, a.binanceSource())
		default:
			return nil, fmt.Errorf("reader %q: unsupported kind %q", rc.ID, rc.Kind)
		}
		if err := reg.Register(rd, reader.Options{Timeout: rc.Timeout, Parameters: rc.Parameters}); err != nil {
			return nil, err
		}
	}
	a.readers = reg
	return reg, nil
}

// Orchestrator wires the heartbeat pipeline.
func (a *App) Orchestrator(ctx context.Context) (*heartbeat.Orchestrator, error) {
	if a.orchestrator != nil {
		return a.orchestrator, nil
	}
	engine, err := a.Engine(ctx)
	if err != nil {
		return nil, err
	}
	readers, err := a.Readers()
	if err != nil {
		return nil, err
	}
	loc, err := a.Config.Location()
	if err != nil {
		return nil, err
	}

	deps := heartbeat.Deps{
		Store:   a.store,
		Readers: readers,
		Oracle: oracle.NewOpenAIOracle(oracle.Config{
			APIKey:      a.Config.Oracle.APIKey,
			BaseURL:     a.Config.Oracle.BaseURL,
			Model:       a.Config.Oracle.Model,
			Temperature: a.Config.Oracle.Temperature,
			Timeout:     a.Config.Oracle.Timeout,
		}, a.Logger),
		Gateway: engine,
		Prices:  a.prices,
	}
	if a.redis != nil {
		deps.Locker = rediscache.NewLockManager(a.redis)
	}

	a.orchestrator = heartbeat.NewOrchestrator(deps, heartbeat.Config{
		MandatoryReaders:  a.Config.Engine.MandatoryReaders,
		ReaderConcurrency: a.Config.Engine.ReaderConcurrency,
		LockTTL:           a.Config.Engine.LockTTL,
		Location:          loc,
	}, a.Logger)
	return a.orchestrator, nil
}

// Monitor builds the price monitor.
func (a *App) Monitor(ctx context.Context) (*position.Monitor, error) {
	engine, err := a.Engine(ctx)
	if err != nil {
		return nil, err
	}
	interval := a.Config.Monitor.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return position.NewMonitor(engine, a.prices, interval, a.Logger), nil
}

// Close releases open connections.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing store")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Closing redis")
		}
	}
}
