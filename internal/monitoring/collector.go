package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/cache"
	"github.com/sells-group/schoolmap/internal/store"
)

// Snapshot is a point-in-time view of the store and cache.
type Snapshot struct {
	Records     int                 `json:"records"`
	DataVersion int64               `json:"data_version"`
	ChangedAt   *time.Time          `json:"changed_at,omitempty"`
	Sources     []store.SourceCount `json:"sources"`
	Cache       cache.Stats         `json:"cache"`
	CollectedAt time.Time           `json:"collected_at"`
}

// CountsReader is the slice of store.Store the collector needs.
type CountsReader interface {
	Counts(ctx context.Context) (*store.Counts, error)
}

// Collector gathers Snapshots from the store and the result cache.
type Collector struct {
	store CountsReader
	cache cache.Cache
}

// NewCollector creates a Collector. c may be nil.
func NewCollector(st CountsReader, c cache.Cache) *Collector {
	if c == nil {
		c = cache.Noop{}
	}
	return &Collector{store: st, cache: c}
}

// Collect reads store counts and cache stats.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	counts, err := c.store.Counts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: store counts")
	}

	snap := &Snapshot{
		Records:     counts.Records,
		DataVersion: counts.Version,
		ChangedAt:   counts.ChangedAt,
		Sources:     counts.Sources,
		Cache:       c.cache.Stats(),
		CollectedAt: time.Now().UTC(),
	}
	if snap.Sources == nil {
		snap.Sources = []store.SourceCount{}
	}
	return snap, nil
}
