package indicator

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/grid"
	"github.com/sells-group/schoolmap/internal/school"
)

func pt(id string, lat, lng float64, class school.Class) school.Point {
	return school.Point{ID: id, Lat: lat, Lng: lng, Class: class, Enrollment: 200}
}

func bounds(minLng, minLat, maxLng, maxLat float64) *geo.BBox {
	return &geo.BBox{MinLng: minLng, MinLat: minLat, MaxLng: maxLng, MaxLat: maxLat}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("voronoi")
	assert.Error(t, err)
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"negative cell size", func(p *Params) { p.CellSize = -1 }},
		{"negative bandwidth", func(p *Params) { p.Bandwidth = -0.5 }},
		{"unknown class", func(p *Params) { p.TargetClass = "broken" }},
		{"negative cutoff", func(p *Params) { p.CutoffBandwidths = -1 }},
		{"inverted bounds", func(p *Params) { p.Bounds = bounds(1, 1, 0, 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.Error(t, p.Validate())

			_, err := Compute(context.Background(), KindKDE, []school.Point{pt("a", 0, 0, school.ClassCritical)}, p)
			assert.Error(t, err)
		})
	}
	assert.NoError(t, DefaultParams().Validate())
}

func TestCompute_EmptyInputIsNoData(t *testing.T) {
	for _, k := range Kinds {
		t.Run(string(k), func(t *testing.T) {
			res, err := Compute(context.Background(), k, nil, Params{})
			require.NoError(t, err)
			assert.Equal(t, k, res.Kind())
			assert.Equal(t, StatusNoData, res.Metadata().Status)
		})
	}
}

func TestCompute_OutOfBoundsReported(t *testing.T) {
	points := []school.Point{
		pt("in", 0.005, 0.005, school.ClassCritical),
		pt("out", 5, 5, school.ClassCritical),
	}
	res, err := Compute(context.Background(), KindLQ, points, Params{Bounds: bounds(0, 0, 0.01, 0.01)})
	require.NoError(t, err)
	meta := res.Metadata()
	assert.Equal(t, StatusOK, meta.Status)
	assert.Equal(t, 2, meta.Points)
	assert.Equal(t, 1, meta.Assigned)
	assert.Equal(t, 1, meta.OutOfBounds)
}

func TestCompute_Deterministic(t *testing.T) {
	points := clusterFixture()
	p := Params{Bounds: bounds(0, 0, 0.05, 0.05)}
	for _, k := range Kinds {
		a, err := Compute(context.Background(), k, points, p)
		require.NoError(t, err)
		b, err := Compute(context.Background(), k, points, p)
		require.NoError(t, err)
		assert.Equal(t, a, b, string(k))
	}
}

func TestKDE_SinglePointPeaksAtItsCell(t *testing.T) {
	points := []school.Point{pt("a", 0.025, 0.025, school.ClassCritical)}
	res, err := KDE(context.Background(), points, Params{Bounds: bounds(0, 0, 0.05, 0.05), CutoffBandwidths: 0})
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Cells, 25)

	var peak KDECell
	for _, c := range res.Cells {
		assert.LessOrEqual(t, c.Intensity, 1.0)
		assert.Greater(t, c.Density, 0.0)
		if c.Density > peak.Density {
			peak = c
		}
	}
	assert.Equal(t, 2, peak.Row)
	assert.Equal(t, 2, peak.Col)
	assert.InDelta(t, 1.0, peak.Intensity, 1e-12)
	assert.InDelta(t, res.Max, peak.Density, 1e-12)
}

func TestKDE_MonotonicInDistance(t *testing.T) {
	src := pt("a", 0.021, 0.033, school.ClassAdequate)
	res, err := KDE(context.Background(), []school.Point{src}, Params{Bounds: bounds(0, 0, 0.06, 0.06), CutoffBandwidths: 0})
	require.NoError(t, err)

	for _, a := range res.Cells {
		for _, b := range res.Cells {
			da := geo.HaversineKM(a.Center, src.LatLng())
			db := geo.HaversineKM(b.Center, src.LatLng())
			if da < db {
				assert.GreaterOrEqual(t, a.Density, b.Density)
			}
		}
	}
}

func TestKDE_CutoffDropsFarCells(t *testing.T) {
	points := []school.Point{pt("a", 0.005, 0.005, school.ClassCritical)}
	res, err := KDE(context.Background(), points, Params{
		Bounds:           bounds(0, 0, 0.1, 0.1),
		Bandwidth:        0.5,
		CutoffBandwidths: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Meta.Cells)
	assert.NotEmpty(t, res.Cells)
	assert.Less(t, len(res.Cells), 100)
	for _, c := range res.Cells {
		assert.LessOrEqual(t, geo.HaversineKM(c.Center, points[0].LatLng()), 1.5)
	}
}

func TestKDE_TargetMultiplier(t *testing.T) {
	b := bounds(0, 0, 0.01, 0.01)
	crit, err := KDE(context.Background(), []school.Point{pt("a", 0.005, 0.005, school.ClassCritical)}, Params{Bounds: b})
	require.NoError(t, err)
	ok, err := KDE(context.Background(), []school.Point{pt("a", 0.005, 0.005, school.ClassAdequate)}, Params{Bounds: b})
	require.NoError(t, err)
	assert.InDelta(t, 2*ok.Max, crit.Max, 1e-12)
}

func TestKDE_OutsidePointsStillContribute(t *testing.T) {
	points := []school.Point{pt("a", 0.012, 0.005, school.ClassCritical)}
	res, err := KDE(context.Background(), points, Params{Bounds: bounds(0, 0, 0.01, 0.01)})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 1, res.OutOfBounds)
	require.Len(t, res.Cells, 1)
	assert.Greater(t, res.Cells[0].Density, 0.0)
}

func TestLQ_Levels(t *testing.T) {
	tests := []struct {
		lq   float64
		want string
	}{
		{2.5, LQVeryHigh},
		{2.0, LQVeryHigh},
		{1.6, LQHigh},
		{1.0, LQMedium},
		{0.9, LQLow},
		{0.6, LQLow},
		{0.2, LQVeryLow},
		{0, LQVeryLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LQLevel(tt.lq), fmt.Sprint(tt.lq))
	}
}

func TestLQ_TwoCells(t *testing.T) {
	points := []school.Point{
		pt("a1", 0.005, 0.005, school.ClassCritical),
		pt("a2", 0.006, 0.004, school.ClassCritical),
		pt("b1", 0.005, 0.015, school.ClassAdequate),
		pt("b2", 0.004, 0.016, school.ClassAlert),
	}
	res, err := LQ(context.Background(), points, Params{Bounds: bounds(0, 0, 0.02, 0.01)})
	require.NoError(t, err)
	require.Len(t, res.Cells, 2)
	assert.InDelta(t, 0.5, res.Reference, 1e-12)
	assert.False(t, res.ZeroReference)

	assert.Equal(t, 0, res.Cells[0].Col)
	assert.InDelta(t, 2.0, res.Cells[0].LQ, 1e-12)
	assert.Equal(t, LQVeryHigh, res.Cells[0].Level)
	assert.Equal(t, 1, res.Cells[1].Col)
	assert.Equal(t, 0.0, res.Cells[1].LQ)
	assert.Equal(t, LQVeryLow, res.Cells[1].Level)
}

func TestLQ_ZeroReference(t *testing.T) {
	points := []school.Point{
		pt("a", 0.005, 0.005, school.ClassAdequate),
		pt("b", 0.005, 0.015, school.ClassAlert),
	}
	res, err := LQ(context.Background(), points, Params{Bounds: bounds(0, 0, 0.02, 0.01)})
	require.NoError(t, err)
	assert.True(t, res.ZeroReference)
	for _, c := range res.Cells {
		assert.Equal(t, 0.0, c.LQ)
	}
}

func TestGini_EqualDistribution(t *testing.T) {
	var points []school.Point
	for i := 0; i < 4; i++ {
		points = append(points, pt(fmt.Sprint(i), 0.005, 0.005+float64(i)*0.01, school.ClassCritical))
	}
	res, err := Gini(context.Background(), points, Params{Bounds: bounds(0, 0, 0.04, 0.01)})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.Gini, 1e-9)
	assert.Equal(t, 4, res.Total)
	require.Len(t, res.Lorenz, 5)
	assert.InDelta(t, 1.0, res.Lorenz[4].Share, 1e-12)
}

func TestGini_ConcentrationApproachesOne(t *testing.T) {
	var points []school.Point
	for i := 0; i < 20; i++ {
		lng := 0.005 + float64(i)*0.01
		if i == 0 {
			for j := 0; j < 10; j++ {
				points = append(points, pt(fmt.Sprintf("c%d", j), 0.005, lng, school.ClassCritical))
			}
			continue
		}
		points = append(points, pt(fmt.Sprintf("o%d", i), 0.005, lng, school.ClassAdequate))
	}
	res, err := Gini(context.Background(), points, Params{Bounds: bounds(0, 0, 0.2, 0.01)})
	require.NoError(t, err)
	assert.Equal(t, 20, res.NonEmptyCells)
	assert.InDelta(t, 0.95, res.Gini, 1e-9)
	assert.Equal(t, GiniExtreme, res.Level)
}

func TestGini_NoTargetPoints(t *testing.T) {
	points := []school.Point{
		pt("a", 0.005, 0.005, school.ClassAdequate),
		pt("b", 0.005, 0.015, school.ClassAdequate),
	}
	res, err := Gini(context.Background(), points, Params{Bounds: bounds(0, 0, 0.02, 0.01)})
	require.NoError(t, err)
	assert.True(t, res.NoTargetPoints)
	assert.Equal(t, 0.0, res.Gini)
	assert.Equal(t, GiniEqual, res.Level)
}

func TestGiniLevel(t *testing.T) {
	assert.Equal(t, GiniExtreme, GiniLevel(0.7))
	assert.Equal(t, GiniHigh, GiniLevel(0.55))
	assert.Equal(t, GiniModerate, GiniLevel(0.4))
	assert.Equal(t, GiniLow, GiniLevel(0.35))
	assert.Equal(t, GiniNearEqual, GiniLevel(0.2))
	assert.Equal(t, GiniEqual, GiniLevel(0.05))
}

// gridFixture places one point at the center of every cell of an n×n
// grid of 0.01° cells anchored at the origin; high cells are critical.
func gridFixture(n int, high func(row, col int) bool) []school.Point {
	return sizedGridFixture(n, 0.01, high)
}

func sizedGridFixture(n int, size float64, high func(row, col int) bool) []school.Point {
	var points []school.Point
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			class := school.ClassAdequate
			if high(r, c) {
				class = school.ClassCritical
			}
			points = append(points, pt(fmt.Sprintf("%d-%d", r, c), (float64(r)+0.5)*size, (float64(c)+0.5)*size, class))
		}
	}
	return points
}

func checkerboard(r, c int) bool { return (r+c)%2 == 0 }

func centerBlock(r, c int) bool { return r >= 1 && r <= 2 && c >= 1 && c <= 2 }

func clusterFixture() []school.Point {
	return gridFixture(5, centerBlock)
}

func TestHarmonic(t *testing.T) {
	assert.Equal(t, 0.0, harmonic(1))
	assert.Equal(t, 1.0, harmonic(2))
	assert.InDelta(t, 11.0/6, harmonic(4), 1e-12)
}

func TestMoranOf_Chain(t *testing.T) {
	// Four cells in a chain with binary contiguity, one high end.
	// mean 1/4, m2 = 3/4, b2 = 7/3, S0 = 6, S2 = 40, S1(4) = 11/6:
	// I = -1/9, E = -1/3, Var = 13/81 - 1/9 = 4/81, z = 1.
	w := [][]float64{
		{0, 1, 0, 0},
		{1, 0, 1, 0},
		{0, 1, 0, 1},
		{0, 0, 1, 0},
	}
	m := moranOf([]float64{1, 0, 0, 0}, w)
	assert.InDelta(t, -1.0/9, m.i, 1e-12)
	assert.InDelta(t, -1.0/3, m.expected, 1e-12)
	assert.InDelta(t, 4.0/81, m.variance, 1e-12)
	assert.InDelta(t, 1.0, (m.i-m.expected)/math.Sqrt(m.variance), 1e-9)
}

func TestMoranOf_FewerThanFourCellsHasNoVariance(t *testing.T) {
	m := moranOf([]float64{1, 0, 0}, [][]float64{{0, 1, 0}, {1, 0, 1}, {0, 1, 0}})
	assert.Equal(t, 0.0, m.variance)
	assert.InDelta(t, -0.5, m.expected, 1e-12)
}

func TestMoran_CheckerboardIsDispersed(t *testing.T) {
	points := sizedGridFixture(4, 0.1, checkerboard)
	res, err := Moran(context.Background(), points, Params{Bounds: bounds(0, 0, 0.4, 0.4), CellSize: 0.1})
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 16, res.NonEmptyCells)
	assert.Less(t, res.I, 0.0)
	assert.Less(t, res.I, res.Expected)
	assert.InDelta(t, -1.0/15, res.Expected, 1e-12)
	assert.False(t, res.VarianceUndefined)
	assert.InDelta(t, -0.855, res.Z, 0.01)
	assert.Equal(t, PatternDispersed, res.Pattern)
	assert.Equal(t, NotSignificant, res.Significance)
}

func TestMoran_ClusterIsClustered(t *testing.T) {
	points := sizedGridFixture(5, 0.1, centerBlock)
	res, err := Moran(context.Background(), points, Params{Bounds: bounds(0, 0, 0.5, 0.5), CellSize: 0.1})
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	assert.Greater(t, res.I, 0.0)
	assert.InDelta(t, 1.527, res.Z, 0.01)
	assert.Equal(t, PatternClustered, res.Pattern)
}

func TestMoran_DenseLayoutHasNoDefinedVariance(t *testing.T) {
	// At 0.01° the inverse-distance weights are large next to S1(n), so
	// Var(I) comes out negative. I keeps its sign; z is not reported.
	res, err := Moran(context.Background(), gridFixture(4, checkerboard), Params{Bounds: bounds(0, 0, 0.04, 0.04)})
	require.NoError(t, err)
	assert.Less(t, res.I, 0.0)
	assert.True(t, res.VarianceUndefined)
	assert.Equal(t, 0.0, res.Z)
	assert.Equal(t, PatternRandom, res.Pattern)

	res, err = Moran(context.Background(), clusterFixture(), Params{Bounds: bounds(0, 0, 0.05, 0.05)})
	require.NoError(t, err)
	assert.Greater(t, res.I, 0.0)
	assert.True(t, res.VarianceUndefined)
}

func TestCompute_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	points := gridFixture(4, checkerboard)
	for _, k := range []Kind{KindKDE, KindISS, KindMoran} {
		_, err := Compute(ctx, k, points, Params{Bounds: bounds(0, 0, 0.04, 0.04)})
		require.Error(t, err, k)
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestParams_ValidateRejectsOversizedGrid(t *testing.T) {
	p := DefaultParams()
	p.Bounds = bounds(-180, -90, 180, 90)
	p.CellSize = 0.0001
	assert.ErrorIs(t, p.Validate(), grid.ErrTooManyCells)

	p.CellSize = 1
	assert.NoError(t, p.Validate())

	p.MaxCells = 100
	assert.ErrorIs(t, p.Validate(), grid.ErrTooManyCells)
}

func TestMoran_InsufficientCells(t *testing.T) {
	points := []school.Point{
		pt("a", 0.005, 0.005, school.ClassCritical),
		pt("b", 0.006, 0.006, school.ClassAdequate),
	}
	res, err := Moran(context.Background(), points, Params{Bounds: bounds(0, 0, 0.01, 0.01)})
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientData, res.Status)
	assert.NotEmpty(t, res.Reason)
}

func TestMoran_ZeroVariance(t *testing.T) {
	points := gridFixture(3, func(int, int) bool { return true })
	res, err := Moran(context.Background(), points, Params{Bounds: bounds(0, 0, 0.03, 0.03)})
	require.NoError(t, err)
	assert.True(t, res.ZeroVariance)
	assert.Equal(t, 0.0, res.I)
	assert.Equal(t, 0.0, res.Z)
	assert.Equal(t, PatternRandom, res.Pattern)
}

func TestMoran_TwoCellsHasNoDefinedVariance(t *testing.T) {
	points := []school.Point{
		pt("a", 0.005, 0.005, school.ClassCritical),
		pt("b", 0.005, 0.015, school.ClassAdequate),
	}
	res, err := Moran(context.Background(), points, Params{Bounds: bounds(0, 0, 0.02, 0.01)})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.True(t, res.VarianceUndefined)
	assert.Equal(t, 0.0, res.Z)
}

func TestBandLevel(t *testing.T) {
	assert.Equal(t, LevelCritical, BandLevel(80))
	assert.Equal(t, LevelHigh, BandLevel(79.9))
	assert.Equal(t, LevelModerate, BandLevel(40))
	assert.Equal(t, LevelLow, BandLevel(20))
	assert.Equal(t, LevelMinimal, BandLevel(19.99))
}

func TestISS_Components(t *testing.T) {
	points := []school.Point{
		pt("a1", 0.005, 0.005, school.ClassCritical),
		pt("a2", 0.005, 0.005, school.ClassCritical),
		pt("b1", 0.005, 0.015, school.ClassAdequate),
		pt("b2", 0.005, 0.015, school.ClassAdequate),
	}
	res, err := ISS(context.Background(), points, Params{Bounds: bounds(0, 0, 0.02, 0.01)})
	require.NoError(t, err)
	require.Len(t, res.Cells, 2)

	hot := res.Cells[0]
	assert.InDelta(t, 40, hot.KDEComponent, 1e-9)
	assert.InDelta(t, 30, hot.LQComponent, 1e-9)
	assert.InDelta(t, 30, hot.CritComponent, 1e-9)
	assert.InDelta(t, 100, hot.Score, 1e-9)
	assert.Equal(t, LevelCritical, hot.Level)

	cold := res.Cells[1]
	assert.Equal(t, 0.0, cold.LQComponent)
	assert.Equal(t, 0.0, cold.CritComponent)
	assert.Greater(t, cold.KDEComponent, 0.0)
	assert.Less(t, cold.Score, 40.0)
}

func TestISS_ScoresWithinRange(t *testing.T) {
	res, err := ISS(context.Background(), clusterFixture(), Params{Bounds: bounds(0, 0, 0.05, 0.05)})
	require.NoError(t, err)
	require.Len(t, res.Cells, 25)
	for _, c := range res.Cells {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 100.0)
		assert.Equal(t, BandLevel(c.Score), c.Level)
	}
}
