package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_BasicGetSet(t *testing.T) {
	c := NewMemory(100, time.Hour)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "kde")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "kde", []byte("result")))
	got, ok, err := c.Get(ctx, "kde")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("result"), got)

	_, ok, _ = c.Get(ctx, "lq")
	assert.False(t, ok)
}

func TestMemory_TTLExpiration(t *testing.T) {
	c := NewMemory(100, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)

	c.mu.RLock()
	_, exists := c.entries["k"]
	c.mu.RUnlock()
	assert.False(t, exists)
}

func TestMemory_LRUEviction(t *testing.T) {
	c := NewMemory(3, time.Hour)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, k, []byte(k)))
	}
	// Touch "a" so "b" becomes the oldest.
	_, ok, _ := c.Get(ctx, "a")
	require.True(t, ok)
	require.NoError(t, c.Set(ctx, "d", []byte("d")))

	for k, want := range map[string]bool{"a": true, "b": false, "c": true, "d": true} {
		_, ok, _ := c.Get(ctx, k)
		assert.Equal(t, want, ok, k)
	}
}

func TestMemory_OverwriteDoesNotEvict(t *testing.T) {
	c := NewMemory(2, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1")))
	require.NoError(t, c.Set(ctx, "b", []byte("2")))
	require.NoError(t, c.Set(ctx, "a", []byte("3")))

	got, ok, _ := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), got)
	_, ok, _ = c.Get(ctx, "b")
	assert.True(t, ok)
}

func TestMemory_Purge(t *testing.T) {
	c := NewMemory(10, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1")))
	require.NoError(t, c.Purge(ctx))

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestMemory_Stats(t *testing.T) {
	c := NewMemory(10, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1")))
	c.Get(ctx, "a") //nolint:errcheck
	c.Get(ctx, "a") //nolint:errcheck
	c.Get(ctx, "b") //nolint:errcheck

	s := c.Stats()
	assert.Equal(t, "memory", s.Driver)
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, 10, s.MaxEntries)
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
}

func TestMemory_Concurrent(t *testing.T) {
	c := NewMemory(50, time.Hour)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i*j)%80)
				_ = c.Set(ctx, key, []byte(key))
				_, _, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Stats().Entries, 50)
}

func TestKey_Stable(t *testing.T) {
	type req struct {
		Version int64
		Cell    float64
		Kinds   []string
	}
	a, err := Key(req{Version: 1, Cell: 0.01, Kinds: []string{"kde"}})
	require.NoError(t, err)
	b, err := Key(req{Version: 1, Cell: 0.01, Kinds: []string{"kde"}})
	require.NoError(t, err)
	c, err := Key(req{Version: 2, Cell: 0.01, Kinds: []string{"kde"}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	_, err = Key(make(chan int))
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var c Cache = Noop{}
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1")))
	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "none", c.Stats().Driver)
}
