// Package cache stores encoded analysis results. Keys are content hashes of
// everything a result depends on (data version, bounds, cell size and
// parameters), so a key never maps to a stale result; Purge exists to drop
// the old generation eagerly when the data version moves.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Cache is a byte-level result cache.
type Cache interface {
	// Get returns the cached bytes and whether they were found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
	// Purge drops every entry.
	Purge(ctx context.Context) error
	Stats() Stats
	Close() error
}

// Stats contains cache performance statistics.
type Stats struct {
	Driver     string  `json:"driver"`
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries,omitempty"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

func hitRate(hits, misses int64) float64 {
	if total := hits + misses; total > 0 {
		return float64(hits) / float64(total)
	}
	return 0
}

// Key hashes the JSON encoding of v. Struct fields encode in declaration
// order and map keys sorted, so equal inputs give equal keys.
func Key(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "cache: encode key")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Noop never stores anything.
type Noop struct{}

// Get implements Cache.
func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set implements Cache.
func (Noop) Set(context.Context, string, []byte) error { return nil }

// Purge implements Cache.
func (Noop) Purge(context.Context) error { return nil }

// Stats implements Cache.
func (Noop) Stats() Stats { return Stats{Driver: "none"} }

// Close implements Cache.
func (Noop) Close() error { return nil }
