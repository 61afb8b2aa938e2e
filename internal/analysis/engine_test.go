package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/schoolmap/internal/cache"
	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/monitoring"
	"github.com/sells-group/schoolmap/internal/resilience"
	"github.com/sells-group/schoolmap/internal/school"
)

type fakeSource struct {
	mu       sync.Mutex
	records  []school.Record
	version  int64
	lists    int
	listErrs []error
}

func (f *fakeSource) ListRecords(context.Context) ([]school.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	return f.records, nil
}

func (f *fakeSource) Version(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version, nil
}

func (f *fakeSource) replace(recs []school.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = recs
	f.version++
}

func sampleRecords() []school.Record {
	return []school.Record{
		{"id": "c1", "nome": "Escola C1", "lat": -23.500, "lng": -46.600, "status": "critico", "matriculas": 400},
		{"id": "c2", "nome": "Escola C2", "lat": -23.500, "lng": -46.640, "status": "critico", "matriculas": 300},
		{"id": "c3", "nome": "Escola C3", "lat": -23.540, "lng": -46.600, "status": "critico", "matriculas": 250},
		{"id": "c4", "nome": "Escola C4", "lat": -23.540, "lng": -46.640, "status": "critico", "matriculas": 500},
		{"id": "a1", "nome": "Escola A1", "lat": -23.510, "lng": -46.610, "status": "adequado", "matriculas": 150},
		{"id": "a2", "nome": "Escola A2", "lat": -23.530, "lng": -46.630, "status": "alerta", "matriculas": 180},
		{"id": "a3", "nome": "Escola A3", "lat": -23.520, "lng": -46.620, "status": "atencao", "matriculas": 220},
		{"id": "bad", "nome": "Sem coordenadas", "status": "critico"},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		ShouldRetry:    func(error) bool { return true },
	}
	return cfg
}

func newTestEngine(t *testing.T, src *fakeSource) (*Engine, *cache.Memory, *monitoring.Metrics) {
	t.Helper()
	c := cache.NewMemory(64, time.Minute)
	m := monitoring.NewMetrics()
	return New(src, c, m, testConfig()), c, m
}

func TestEngine_SnapshotAllKinds(t *testing.T) {
	src := &fakeSource{records: sampleRecords(), version: 1}
	e, _, m := newTestEngine(t, src)

	snap, err := e.Snapshot(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, 7, snap.Points)
	assert.Equal(t, 1, snap.Dropped)
	assert.Equal(t, 4, snap.Classes["critical"])
	for _, k := range indicator.Kinds {
		r := snap.Result(k)
		require.NotNil(t, r, "kind %s", k)
		assert.Equal(t, indicator.StatusOK, r.Metadata().Status, "kind %s", k)
	}
	assert.NoError(t, snap.Bounds.Validate())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComputeTotal.WithLabelValues("kde", "ok")))
}

func TestEngine_SnapshotSelectedKinds(t *testing.T) {
	src := &fakeSource{records: sampleRecords(), version: 1}
	e, _, _ := newTestEngine(t, src)

	snap, err := e.Snapshot(context.Background(), Request{Kinds: []indicator.Kind{indicator.KindGini, indicator.KindLQ, indicator.KindGini}})
	require.NoError(t, err)
	assert.NotNil(t, snap.Gini)
	assert.NotNil(t, snap.LQ)
	assert.Nil(t, snap.KDE)
	assert.Nil(t, snap.Result(indicator.KindMoran))
}

func TestEngine_SnapshotRejectsBadRequests(t *testing.T) {
	src := &fakeSource{records: sampleRecords(), version: 1}
	e, _, _ := newTestEngine(t, src)

	_, err := e.Snapshot(context.Background(), Request{Kinds: []indicator.Kind{"nope"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = e.Snapshot(context.Background(), Request{Params: indicator.Params{CellSize: -1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = e.Snapshot(context.Background(), Request{Params: indicator.Params{
		Bounds: &geo.BBox{MinLat: 1, MaxLat: 0, MinLng: 0, MaxLng: 1},
	}})
	require.Error(t, err)
	assert.Zero(t, src.lists, "invalid requests never reach the source")
}

func TestEngine_SnapshotRejectsOversizedGrid(t *testing.T) {
	src := &fakeSource{records: sampleRecords(), version: 1}
	e, _, _ := newTestEngine(t, src)
	ctx := context.Background()

	// Explicit bounds are checked before the source is read.
	_, err := e.Snapshot(ctx, Request{Params: indicator.Params{
		Bounds:   &geo.BBox{MinLng: -180, MinLat: -90, MaxLng: 180, MaxLat: 90},
		CellSize: 0.0001,
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Zero(t, src.lists)

	// Bounds derived from a continent-wide point extent.
	src.replace(append(sampleRecords(),
		school.Record{"id": "far", "nome": "Escola Longe", "lat": 64.1, "lng": -21.9, "status": "adequado"},
	))
	_, err = e.Snapshot(ctx, Request{Kinds: []indicator.Kind{indicator.KindLQ}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Contains(t, err.Error(), "too many cells")
}

func TestEngine_CachesPerVersion(t *testing.T) {
	src := &fakeSource{records: sampleRecords(), version: 1}
	e, c, m := newTestEngine(t, src)
	ctx := context.Background()

	first, err := e.Snapshot(ctx, Request{})
	require.NoError(t, err)
	second, err := e.Snapshot(ctx, Request{})
	require.NoError(t, err)

	assert.Equal(t, first.Gini.Gini, second.Gini.Gini)
	assert.Equal(t, first.Moran.Z, second.Moran.Z)
	assert.Equal(t, 1, src.lists)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("memory")))
	assert.Equal(t, 1, c.Stats().Entries)

	// New data bumps the version: reload and purge.
	src.replace(sampleRecords()[:4])
	third, err := e.Snapshot(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), third.Version)
	assert.Equal(t, 4, third.Points)
	assert.Equal(t, 2, src.lists)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestEngine_DifferentParamsDifferentEntries(t *testing.T) {
	src := &fakeSource{records: sampleRecords(), version: 1}
	e, c, _ := newTestEngine(t, src)
	ctx := context.Background()

	_, err := e.Snapshot(ctx, Request{Kinds: []indicator.Kind{indicator.KindKDE}})
	require.NoError(t, err)
	_, err = e.Snapshot(ctx, Request{Kinds: []indicator.Kind{indicator.KindKDE}, Params: indicator.Params{Bandwidth: 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Stats().Entries)
}

func TestEngine_RetriesSourceErrors(t *testing.T) {
	src := &fakeSource{records: sampleRecords(), version: 1, listErrs: []error{errors.New("database is locked")}}
	e, _, _ := newTestEngine(t, src)

	data, err := e.Dataset(context.Background())
	require.NoError(t, err)
	assert.Len(t, data.Points, 7)
	assert.Equal(t, 2, src.lists)
}

func TestEngine_SourceFailure(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{version: 1, listErrs: []error{boom, boom}}
	e, _, _ := newTestEngine(t, src)

	_, err := e.Snapshot(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis: list records")
}

func TestEngine_EmptyDataset(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeSource{})

	snap, err := e.Snapshot(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, indicator.StatusNoData, snap.KDE.Status)
	assert.Equal(t, indicator.StatusNoData, snap.Gini.Status)

	regions, err := e.Regions(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, indicator.StatusInsufficientData, regions.Status)
	assert.Empty(t, regions.Regions)

	vuln, err := e.Vulnerability(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, indicator.StatusNoData, vuln.Status)
}

func TestEngine_RegionsAndClosure(t *testing.T) {
	src := &fakeSource{records: sampleRecords(), version: 1}
	e, _, _ := newTestEngine(t, src)
	ctx := context.Background()

	regions, err := e.Regions(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, indicator.StatusOK, regions.Status)
	assert.Equal(t, 4, regions.Seeds)
	require.NotEmpty(t, regions.Regions)
	assert.True(t, regions.Approximate)

	// Served from cache the second time, with identical content.
	again, err := e.Regions(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, len(regions.Regions), len(again.Regions))
	assert.Equal(t, regions.Regions[0].Seed.ID, again.Regions[0].Seed.ID)
	for _, reg := range again.Regions {
		assert.Len(t, reg.Members, len(reg.MemberIDs), "members restored for %s", reg.Seed.ID)
	}

	seed := regions.Regions[0].Seed.ID
	closure, err := e.Closure(ctx, Request{}, seed)
	require.NoError(t, err)
	assert.Equal(t, seed, closure.SeedID)
	assert.Equal(t, int64(1), closure.Version)
	assert.Equal(t, 400, closure.Displaced)

	_, err = e.Closure(ctx, Request{}, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestEngine_RegionsRespectBounds(t *testing.T) {
	src := &fakeSource{records: sampleRecords(), version: 1}
	e, _, _ := newTestEngine(t, src)

	// Only c1 and a1 fall inside.
	b := geo.BBox{MinLat: -23.515, MaxLat: -23.495, MinLng: -46.615, MaxLng: -46.595}
	regions, err := e.Regions(context.Background(), Request{Params: indicator.Params{Bounds: &b}})
	require.NoError(t, err)
	assert.Equal(t, 2, regions.Points)
	assert.Equal(t, indicator.StatusInsufficientData, regions.Status)
}

func TestEngine_Vulnerability(t *testing.T) {
	src := &fakeSource{records: sampleRecords(), version: 1}
	e, _, _ := newTestEngine(t, src)

	vuln, err := e.Vulnerability(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, vuln.Scores, 7)
	for i := 1; i < len(vuln.Scores); i++ {
		assert.GreaterOrEqual(t, vuln.Scores[i-1].Total, vuln.Scores[i].Total)
	}
}

func TestEngine_ConcurrentSnapshots(t *testing.T) {
	src := &fakeSource{records: sampleRecords(), version: 1}
	e, _, _ := newTestEngine(t, src)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Snapshot(context.Background(), Request{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, src.lists)
}
