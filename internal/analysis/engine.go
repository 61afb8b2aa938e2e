// Package analysis runs the spatial statistics over the records held by a
// Source. It owns the only mutable state of the system: the normalized
// dataset of the current data version and the result cache, both replaced
// when the Source reports a new version.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/schoolmap/internal/cache"
	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/grid"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/ivc"
	"github.com/sells-group/schoolmap/internal/monitoring"
	"github.com/sells-group/schoolmap/internal/region"
	"github.com/sells-group/schoolmap/internal/resilience"
	"github.com/sells-group/schoolmap/internal/school"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrNotFound       = eris.New("analysis: not found")
	ErrInvalidRequest = eris.New("analysis: invalid request")
)

// Source supplies raw records and the data-changed signal.
type Source interface {
	ListRecords(ctx context.Context) ([]school.Record, error)
	Version(ctx context.Context) (int64, error)
}

// Config holds the engine defaults. Request parameters override Params
// field by field.
type Config struct {
	Normalize school.Options
	Params    indicator.Params
	Regions   region.Options
	Closure   region.ClosureOptions
	IVC       ivc.Options
	Retry     resilience.RetryConfig
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		Params:  indicator.DefaultParams(),
		Regions: region.DefaultOptions(),
		Closure: region.DefaultClosureOptions(),
		IVC:     ivc.DefaultOptions(),
		Retry:   resilience.DefaultRetryConfig(),
	}
}

// Request scopes one computation.
type Request struct {
	Kinds  []indicator.Kind `json:"kinds,omitempty"`
	Params indicator.Params `json:"params"`
}

// Dataset is the normalized view of one data version.
type Dataset struct {
	Version    int64                `json:"version"`
	Records    int                  `json:"records"`
	Points     []school.Point       `json:"points"`
	Dropped    int                  `json:"dropped"`
	Duplicates int                  `json:"duplicates"`
	Errors     []school.RecordError `json:"errors,omitempty"`
	LoadedAt   time.Time            `json:"loaded_at"`
}

// Engine computes indicators, regions and vulnerability scores.
type Engine struct {
	src       Source
	cache     cache.Cache
	cacheName string
	metrics   *monitoring.Metrics
	cfg       Config
	norm      *school.Normalizer

	mu   sync.Mutex
	data *Dataset
}

// New creates an Engine. c and m may be nil.
func New(src Source, c cache.Cache, m *monitoring.Metrics, cfg Config) *Engine {
	if c == nil {
		c = cache.Noop{}
	}
	if cfg.Params == (indicator.Params{}) {
		cfg.Params = indicator.DefaultParams()
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("analysis: load records")
	}
	return &Engine{
		src:       src,
		cache:     c,
		cacheName: c.Stats().Driver,
		metrics:   m,
		cfg:       cfg,
		norm:      school.NewNormalizer(cfg.Normalize),
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Dataset returns the normalized records of the current data version,
// reloading and purging the cache when the version changed.
func (e *Engine) Dataset(ctx context.Context) (*Dataset, error) {
	version, err := resilience.DoVal(ctx, e.cfg.Retry, e.src.Version)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: data version")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.data != nil && e.data.Version == version {
		return e.data, nil
	}

	recs, err := resilience.DoVal(ctx, e.cfg.Retry, e.src.ListRecords)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: list records")
	}

	res := e.norm.NormalizeAll(recs)
	e.metrics.RecordNormalize(res.Dropped, res.Duplicates)

	if e.data != nil {
		zap.L().Info("analysis: data version changed, purging cache",
			zap.Int64("from", e.data.Version),
			zap.Int64("to", version),
		)
		if err := e.cache.Purge(ctx); err != nil {
			zap.L().Warn("analysis: cache purge failed", zap.Error(err))
		}
	}

	e.data = &Dataset{
		Version:    version,
		Records:    len(recs),
		Points:     res.Points,
		Dropped:    res.Dropped,
		Duplicates: res.Duplicates,
		Errors:     res.Errors,
		LoadedAt:   time.Now().UTC(),
	}
	return e.data, nil
}

// params merges request overrides onto the engine defaults.
func (e *Engine) params(over indicator.Params) indicator.Params {
	p := e.cfg.Params
	if over.Bounds != nil {
		b := *over.Bounds
		p.Bounds = &b
	}
	if over.CellSize != 0 {
		p.CellSize = over.CellSize
	}
	if over.TargetClass != "" {
		p.TargetClass = over.TargetClass
	}
	if over.Bandwidth != 0 {
		p.Bandwidth = over.Bandwidth
	}
	if over.TargetMultiplier != 0 {
		p.TargetMultiplier = over.TargetMultiplier
	}
	if over.DefaultMultiplier != 0 {
		p.DefaultMultiplier = over.DefaultMultiplier
	}
	if over.CutoffBandwidths != 0 {
		p.CutoffBandwidths = over.CutoffBandwidths
	}
	return p.WithDefaults()
}

// inBounds keeps the points inside b. A nil b keeps every point.
func inBounds(points []school.Point, b *geo.BBox) []school.Point {
	if b == nil {
		return points
	}
	out := make([]school.Point, 0, len(points))
	for _, p := range points {
		if b.Contains(p.LatLng()) {
			out = append(out, p)
		}
	}
	return out
}

// cacheKey identifies one computation over one data version.
type cacheKey struct {
	Op      string           `json:"op"`
	Version int64            `json:"version"`
	Kinds   []indicator.Kind `json:"kinds,omitempty"`
	Params  indicator.Params `json:"params"`
	Extra   any              `json:"extra,omitempty"`
}

// cached returns the cached value for key or computes and stores it. Cache
// failures are logged and never fail the computation.
func cached[T any](ctx context.Context, e *Engine, key cacheKey, compute func() (*T, error)) (*T, error) {
	k, err := cache.Key(key)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: cache key")
	}

	data, ok, err := e.cache.Get(ctx, k)
	if err != nil {
		zap.L().Warn("analysis: cache get failed", zap.String("op", key.Op), zap.Error(err))
	}
	if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			e.metrics.RecordCacheAccess(e.cacheName, true)
			zap.L().Debug("analysis: cache hit", zap.String("op", key.Op), zap.Int64("version", key.Version))
			return &v, nil
		}
		zap.L().Warn("analysis: undecodable cache entry", zap.String("op", key.Op))
	}
	e.metrics.RecordCacheAccess(e.cacheName, false)

	v, err := compute()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(v); err != nil {
		zap.L().Warn("analysis: cache encode failed", zap.String("op", key.Op), zap.Error(err))
	} else if err := e.cache.Set(ctx, k, data); err != nil {
		zap.L().Warn("analysis: cache set failed", zap.String("op", key.Op), zap.Error(err))
	}
	return v, nil
}

// observe times fn and reports it to the metrics.
func (e *Engine) observe(kind string, fn func() indicator.Status) {
	start := time.Now()
	status := fn()
	d := time.Since(start)
	e.metrics.ObserveCompute(kind, string(status), d)
	zap.L().Debug("analysis: computed",
		zap.String("kind", kind),
		zap.String("status", string(status)),
		zap.Duration("elapsed", d),
	)
}

// compute runs the requested indicator kinds concurrently. Each goroutine
// bins the points into its own grid.
func (e *Engine) compute(ctx context.Context, points []school.Point, kinds []indicator.Kind, params indicator.Params) ([]indicator.Result, error) {
	results := make([]indicator.Result, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var err error
			e.observe(string(kind), func() indicator.Status {
				results[i], err = indicator.Compute(gctx, kind, points, params)
				if err != nil {
					return "error"
				}
				return results[i].Metadata().Status
			})
			return eris.Wrapf(err, "analysis: %s", kind)
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, grid.ErrTooManyCells) {
			return nil, eris.Wrap(ErrInvalidRequest, err.Error())
		}
		return nil, err
	}
	return results, nil
}
