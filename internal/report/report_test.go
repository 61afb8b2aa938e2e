package report

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/schoolmap/internal/analysis"
	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/ivc"
	"github.com/sells-group/schoolmap/internal/region"
	"github.com/sells-group/schoolmap/internal/school"
)

func fixturePoints() []school.Point {
	mk := func(id string, lat, lng float64, class school.Class) school.Point {
		return school.Point{ID: id, Name: "Escola " + id, Lat: lat, Lng: lng, Class: class, Enrollment: 200, Weight: 50}
	}
	return []school.Point{
		mk("c1", -23.50, -46.60, school.ClassCritical),
		mk("c2", -23.50, -46.64, school.ClassCritical),
		mk("c3", -23.54, -46.60, school.ClassCritical),
		mk("c4", -23.54, -46.64, school.ClassCritical),
		mk("a1", -23.51, -46.61, school.ClassAdequate),
		mk("a2", -23.53, -46.63, school.ClassAlert),
	}
}

func fixtureBundle(t *testing.T) *Bundle {
	t.Helper()
	points := fixturePoints()
	params := indicator.DefaultParams()

	snap := &analysis.Snapshot{Version: 3, Points: len(points), Params: params, Classes: map[string]int{"critical": 4, "adequate": 1, "alert": 1}}
	for _, k := range indicator.Kinds {
		r, err := indicator.Compute(context.Background(), k, points, params)
		require.NoError(t, err)
		switch v := r.(type) {
		case *indicator.KDEResult:
			snap.KDE = v
		case *indicator.LQResult:
			snap.LQ = v
		case *indicator.GiniResult:
			snap.Gini = v
		case *indicator.MoranResult:
			snap.Moran = v
		case *indicator.ISSResult:
			snap.ISS = v
		}
	}
	return &Bundle{
		Snapshot:      snap,
		Regions:       &analysis.RegionsReport{Version: 3, Result: region.Build(points, region.DefaultOptions())},
		Vulnerability: &analysis.VulnerabilityReport{Version: 3, Result: ivc.Compute(points, ivc.DefaultOptions())},
		Points:        points,
	}
}

func TestParseLayer(t *testing.T) {
	for _, l := range Layers {
		got, err := ParseLayer(string(l))
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseLayer("tiles")
	require.Error(t, err)
}

func TestBboxPolygonIsClosed(t *testing.T) {
	p := bboxPolygon(geo.BBox{MinLat: 1, MinLng: 2, MaxLat: 3, MaxLng: 4})
	coords := p.Coords()[0]
	require.Len(t, coords, 5)
	assert.Equal(t, coords[0], coords[4])
	assert.Equal(t, geom.Coord{2, 1}, coords[0])
}

func TestBundle_Layers(t *testing.T) {
	b := fixtureBundle(t)

	kde, err := b.Layer(LayerKDE)
	require.NoError(t, err)
	assert.Len(t, kde.Features, len(b.Snapshot.KDE.Cells))

	lq, err := b.Layer(LayerLQ)
	require.NoError(t, err)
	assert.Len(t, lq.Features, len(b.Snapshot.LQ.Cells))

	regions, err := b.Layer(LayerRegions)
	require.NoError(t, err)
	require.Len(t, regions.Features, len(b.Regions.Regions))
	for _, f := range regions.Features {
		assert.Equal(t, true, f.Properties["approximate"])
		poly, ok := f.Geometry.(*geom.Polygon)
		require.True(t, ok)
		ring := poly.Coords()[0]
		assert.Equal(t, ring[0], ring[len(ring)-1])
	}

	vuln, err := b.Layer(LayerVulnerability)
	require.NoError(t, err)
	assert.Len(t, vuln.Features, len(b.Points))

	pts, err := b.Layer(LayerPoints)
	require.NoError(t, err)
	require.Len(t, pts.Features, len(b.Points))
	assert.Equal(t, 0.5, pts.Features[0].Properties["heat_weight"])

	_, err = b.Layer("bogus")
	require.Error(t, err)
}

func TestBundle_MissingInputsGiveEmptyLayers(t *testing.T) {
	b := &Bundle{}
	for _, l := range Layers {
		fc, err := b.Layer(l)
		require.NoError(t, err)
		assert.NotNil(t, fc.Features, l)
		assert.Empty(t, fc.Features, l)
	}
}

type fakeSource struct {
	bundle *Bundle
	kinds  [][]indicator.Kind
	calls  []string
}

func (f *fakeSource) Dataset(context.Context) (*analysis.Dataset, error) {
	f.calls = append(f.calls, "dataset")
	return &analysis.Dataset{Version: 3, Points: f.bundle.Points}, nil
}

func (f *fakeSource) Snapshot(_ context.Context, req analysis.Request) (*analysis.Snapshot, error) {
	f.calls = append(f.calls, "snapshot")
	f.kinds = append(f.kinds, req.Kinds)
	return f.bundle.Snapshot, nil
}

func (f *fakeSource) Regions(context.Context, analysis.Request) (*analysis.RegionsReport, error) {
	f.calls = append(f.calls, "regions")
	return f.bundle.Regions, nil
}

func (f *fakeSource) Vulnerability(context.Context, analysis.Request) (*analysis.VulnerabilityReport, error) {
	f.calls = append(f.calls, "vulnerability")
	return f.bundle.Vulnerability, nil
}

func TestBuild_ComputesOnlyRequestedLayers(t *testing.T) {
	src := &fakeSource{bundle: fixtureBundle(t)}

	b, err := Build(context.Background(), src, analysis.Request{}, LayerLQ)
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshot"}, src.calls)
	assert.Equal(t, [][]indicator.Kind{{indicator.KindLQ}}, src.kinds)
	assert.NotNil(t, b.Snapshot)
	assert.Nil(t, b.Regions)

	src.calls = nil
	b, err = Build(context.Background(), src, analysis.Request{}, LayerRegions)
	require.NoError(t, err)
	assert.Equal(t, []string{"regions"}, src.calls)
	assert.Nil(t, b.Snapshot)
}

func TestBuild_AllLayers(t *testing.T) {
	src := &fakeSource{bundle: fixtureBundle(t)}

	b, err := Build(context.Background(), src, analysis.Request{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"snapshot", "regions", "vulnerability", "dataset"}, src.calls)
	// Every indicator, gini and moran included.
	assert.Equal(t, [][]indicator.Kind{nil}, src.kinds)
	assert.Len(t, b.Points, len(src.bundle.Points))
}

func TestBuild_PointsFilteredByBounds(t *testing.T) {
	src := &fakeSource{bundle: fixtureBundle(t)}
	req := analysis.Request{Params: indicator.Params{
		Bounds: &geo.BBox{MinLat: -23.505, MinLng: -46.605, MaxLat: -23.495, MaxLng: -46.595},
	}}

	b, err := Build(context.Background(), src, req, LayerPoints)
	require.NoError(t, err)
	require.Len(t, b.Points, 1)
	assert.Equal(t, "c1", b.Points[0].ID)
}

func TestWriteGeoJSON(t *testing.T) {
	b := fixtureBundle(t)
	fc, err := b.Layer(LayerRegions)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, fc))

	var decoded struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string         `json:"type"`
			Geometry map[string]any `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "FeatureCollection", decoded.Type)
	require.NotEmpty(t, decoded.Features)
	assert.Equal(t, "Polygon", decoded.Features[0].Geometry["type"])
}

func TestWriteXLSX(t *testing.T) {
	b := fixtureBundle(t)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, b))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)

	for _, name := range []string{SheetSummary, SheetKDE, SheetLQ, SheetISS, SheetRegions, SheetVulnerability, SheetSchools} {
		_, ok := f.Sheet[name]
		assert.True(t, ok, "sheet %s", name)
	}

	summary := f.Sheet[SheetSummary]
	assert.Equal(t, "metric", summary.Rows[0].Cells[0].String())
	assert.Equal(t, "data_version", summary.Rows[1].Cells[0].String())
	assert.Equal(t, "3", summary.Rows[1].Cells[1].String())

	schools := f.Sheet[SheetSchools]
	assert.Len(t, schools.Rows, len(b.Points)+1)
	assert.Equal(t, "c1", schools.Rows[1].Cells[0].String())
}

func TestWriteXLSX_SummaryOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, &Bundle{}))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, f.Sheets, 1)
	assert.Equal(t, SheetSummary, f.Sheets[0].Name)
}
