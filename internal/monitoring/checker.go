package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultCheckInterval is used when a Checker is given a non-positive interval.
const DefaultCheckInterval = 30 * time.Second

// Checker periodically collects a Snapshot and publishes it to the gauges.
type Checker struct {
	collector *Collector
	metrics   *Metrics
	interval  time.Duration
}

// NewChecker creates a background gauge refresher.
func NewChecker(collector *Collector, metrics *Metrics, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Checker{
		collector: collector,
		metrics:   metrics,
		interval:  interval,
	}
}

// Run refreshes once immediately and then on every tick. It blocks until
// ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting metrics checker", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("metrics checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check performs a single refresh. Collection errors are logged and leave
// the previous gauge values in place.
func (c *Checker) Check(ctx context.Context) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		zap.L().Warn("monitoring: collect failed", zap.Error(err))
		return
	}
	c.metrics.Apply(snap)
	zap.L().Debug("monitoring: gauges refreshed",
		zap.Int64("data_version", snap.DataVersion),
		zap.Int("records", snap.Records),
		zap.Int("cache_entries", snap.Cache.Entries),
	)
}
