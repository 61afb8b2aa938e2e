package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/analysis"
	"github.com/sells-group/schoolmap/internal/cache"
	"github.com/sells-group/schoolmap/internal/config"
	"github.com/sells-group/schoolmap/internal/db"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/ivc"
	"github.com/sells-group/schoolmap/internal/monitoring"
	"github.com/sells-group/schoolmap/internal/school"
	"github.com/sells-group/schoolmap/internal/store"
)

// engineEnv holds the store, cache, metrics and engine needed by the
// analysis commands.
type engineEnv struct {
	Store   store.Store
	Cache   cache.Cache
	Metrics *monitoring.Metrics
	Engine  *analysis.Engine
}

// Close releases resources held by the environment.
func (ee *engineEnv) Close() {
	if ee.Cache != nil {
		_ = ee.Cache.Close()
	}
	if ee.Store != nil {
		_ = ee.Store.Close()
	}
}

// initEngine validates the config for mode, opens the store and cache and
// builds the Engine. Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	ecfg, err := engineConfig(cfg)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	c, err := initCache(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	m := monitoring.NewMetrics()
	return &engineEnv{
		Store:   st,
		Cache:   c,
		Metrics: m,
		Engine:  analysis.New(st, c, m, ecfg),
	}, nil
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "schoolmap.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initCache(ctx context.Context) (cache.Cache, error) {
	ttl := time.Duration(cfg.Cache.TTLSecs) * time.Second
	switch cfg.Cache.Driver {
	case "memory", "":
		return cache.NewMemory(cfg.Cache.MaxEntries, ttl), nil
	case "redis":
		c, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, ttl)
		if err != nil {
			return nil, eris.Wrap(err, "init redis cache")
		}
		return c, nil
	case "none":
		zap.L().Debug("result cache disabled")
		return cache.Noop{}, nil
	default:
		return nil, eris.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

// engineConfig maps the loaded configuration onto engine settings.
func engineConfig(c *config.Config) (analysis.Config, error) {
	ec := analysis.DefaultConfig()

	ec.Normalize = school.Options{
		DefaultEnrollment: c.Normalize.DefaultEnrollment,
		DedupePrecision:   c.Normalize.DedupePrecision,
	}
	if c.Normalize.SynonymsFile != "" {
		syn, err := school.LoadSynonyms(c.Normalize.SynonymsFile)
		if err != nil {
			return ec, eris.Wrap(err, "load class synonyms")
		}
		ec.Normalize.Synonyms = syn
	}

	target, err := school.ParseClass(c.Analysis.TargetClass)
	if err != nil {
		return ec, eris.Wrap(err, "analysis.target_class")
	}
	ec.Params = indicator.Params{
		CellSize:          c.Analysis.CellSize,
		MaxCells:          c.Analysis.MaxCells,
		TargetClass:       target,
		Bandwidth:         c.Analysis.KDE.BandwidthKM,
		TargetMultiplier:  c.Analysis.KDE.CriticalMultiplier,
		DefaultMultiplier: c.Analysis.KDE.DefaultMultiplier,
		CutoffBandwidths:  c.Analysis.KDE.CutoffBandwidths,
	}

	seed, err := school.ParseClass(c.Regions.SeedClass)
	if err != nil {
		return ec, eris.Wrap(err, "regions.seed_class")
	}
	ec.Regions.SeedClass = seed
	ec.Closure.MaxReceivers = c.Regions.MaxReceivers
	ec.Closure.SafetyMargin = c.Regions.SafetyMargin
	ec.Closure.DefaultCapacity = c.Regions.DefaultCapacity
	ec.Closure.Capacities = c.Regions.Capacities

	ec.IVC = ivc.Options{
		RadiusKM:       c.IVC.RadiusKM,
		SearchRadiusKM: c.IVC.SearchRadiusKM,
	}

	if c.Retry.MaxAttempts > 0 {
		ec.Retry.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.InitialBackoffMs > 0 {
		ec.Retry.InitialBackoff = time.Duration(c.Retry.InitialBackoffMs) * time.Millisecond
	}
	if c.Retry.MaxBackoffMs > 0 {
		ec.Retry.MaxBackoff = time.Duration(c.Retry.MaxBackoffMs) * time.Millisecond
	}

	return ec, nil
}

