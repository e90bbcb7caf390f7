// Package app wires configuration, storage, metrics and the strategy stack
// together for the command line tools.
package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"trendlab/internal/cache"
	"trendlab/internal/config"
	"trendlab/internal/database"
	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
	"trendlab/internal/market"
	"trendlab/internal/monitoring"
	"trendlab/internal/strategy/backtest"
	"trendlab/internal/strategy/optimizer"
	"trendlab/internal/strategy/trend"
)

// App holds the long-lived dependencies of one process.
type App struct {
	Config  *config.Config
	DB      *database.DB
	Redis   *redis.Client
	Store   optimizer.TrialStore
	Metrics *monitoring.Metrics

	fallback *cache.FallbackStore
	logger   logger.Logger
}

// New initialises logging and connects the optional backends. Database and
// Redis are only dialled when enabled; a failure to reach an enabled backend
// is an error.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.Init(cfg.Logging)
	log := logger.GetGlobalLogger().WithFields(map[string]interface{}{
		"app": cfg.App.Name,
		"env": cfg.App.Env,
	})

	a := &App{
		Config:  cfg,
		Metrics: monitoring.NewMetrics(nil),
		logger:  log,
	}

	if cfg.Database.Enabled {
		dbCfg := DatabaseConfig(cfg.Database)
		if cfg.Database.Migrate {
			version, err := database.Migrate(ctx, dbCfg)
			if err != nil {
				return nil, err
			}
			log.Info("Database schema ready", "version", version)
		}
		db, err := database.Connect(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Metrics.RegisterDB(db.DB, cfg.Database.DBName)
	}

	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
	}

	// Redis 优先, 其次 Postgres, 都没有时只保存在内存里
	switch {
	case a.Redis != nil:
		a.fallback = cache.NewFallbackStore(
			cache.NewRedisTrialStore(a.Redis, cache.DefaultPrefix, cfg.Redis.TTL),
			cache.DefaultFallbackConfig(),
		)
		a.Store = a.fallback
	case a.DB != nil:
		a.Store = database.NewTrialRepository(a.DB.DB)
	default:
		a.Store = optimizer.NewMemoryStore()
	}

	return a, nil
}

// DatabaseConfig converts the config section to the connection settings.
func DatabaseConfig(c config.DatabaseConfig) database.Config {
	return database.Config{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		DBName:   c.DBName,
		SSLMode:  c.SSLMode,
		MaxOpen:  c.MaxOpen,
		MaxIdle:  c.MaxIdle,
		Timeout:  c.Timeout,
	}
}

// Feed builds the bar source selected by data.source.
func (a *App) Feed() (market.Feed, error) {
	data := a.Config.Data
	rng, err := data.Range()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfig, "invalid date range")
	}

	switch data.Source {
	case config.SourcePostgres:
		if a.DB == nil {
			return nil, apperrors.New(apperrors.ErrCodeConfig, "postgres data source needs database.enabled")
		}
		return market.NewPostgresFeed(a.DB.DB, market.PostgresConfig{
			Symbol:   data.Symbol,
			Interval: data.Interval,
			Range:    rng,
		})
	default:
		if data.Path == "" {
			return nil, apperrors.New(apperrors.ErrCodeConfig, "data.path is required for csv source")
		}
		return market.NewCSVFeed(market.CSVConfig{
			Path:       data.Path,
			TimeLayout: data.TimeLayout,
			Range:      rng,
		}), nil
	}
}

// LoadBars loads the configured series. An empty series is an error; a
// malformed one is only logged, runs over it fail individually.
func (a *App) LoadBars(ctx context.Context) ([]market.Bar, error) {
	feed, err := a.Feed()
	if err != nil {
		return nil, err
	}
	bars, err := feed.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeMarketDataUnavailable, "no bars in configured range")
	}
	if err := market.Validate(bars); err != nil {
		a.logger.Warn("Market data failed validation", "error", err)
	}
	a.logger.Info("Market data loaded",
		"source", a.Config.Data.Source,
		"bars", len(bars),
		"from", bars[0].Time,
		"to", bars[len(bars)-1].Time)
	return bars, nil
}

// Backtest runs the configured strategy once over bars.
func (a *App) Backtest(ctx context.Context, bars []market.Bar) (*backtest.Result, error) {
	start := time.Now()
	result, err := a.backtest(ctx, bars)
	a.Metrics.ObserveBacktest(time.Since(start), err)
	return result, err
}

func (a *App) backtest(ctx context.Context, bars []market.Bar) (*backtest.Result, error) {
	strat, err := trend.New(a.Config.Strategy)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeParameterInvalid, "invalid strategy parameters")
	}
	engine, err := backtest.NewEngine(strat, a.Config.Broker)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfig, "invalid broker config")
	}
	return engine.Run(ctx, bars)
}

// NewStudy builds a study over bars using the configured sampler, search
// space, store and metrics. Extra options are applied last.
func (a *App) NewStudy(bars []market.Bar, opts ...optimizer.Option) (*optimizer.Study, error) {
	cfg := a.Config.Study
	evaluator, err := backtest.NewTrialEvaluator(bars, a.Config.Strategy, a.Config.Broker, cfg.Constraints)
	if err != nil {
		return nil, err
	}
	sampler, err := optimizer.NewSampler(cfg.Sampler)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfig, "invalid sampler")
	}

	base := []optimizer.Option{
		optimizer.WithStore(a.Store),
		optimizer.WithListener(a.Metrics),
	}
	return optimizer.NewStudy(cfg, optimizer.DefaultSpace(), sampler, evaluator, append(base, opts...)...)
}

// StartBackground runs the store health monitor until ctx is done.
func (a *App) StartBackground(ctx context.Context) {
	if a.fallback != nil {
		go a.fallback.StartHealthMonitoring(ctx)
	}
}

// HealthChecks returns a probe per connected backend.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if a.DB != nil {
		checks["database"] = a.DB.HealthCheck
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases the backends.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("Error closing Redis", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.logger.Warn("Error closing database", "error", err)
		}
	}
}
