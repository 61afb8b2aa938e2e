package report

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/schoolmap/internal/analysis"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/school"
)

// Bundle gathers the results of one export. Nil members are skipped.
type Bundle struct {
	Snapshot      *analysis.Snapshot
	Regions       *analysis.RegionsReport
	Vulnerability *analysis.VulnerabilityReport
	Points        []school.Point
}

// Source computes the inputs of a Bundle. *analysis.Engine implements it.
type Source interface {
	Dataset(ctx context.Context) (*analysis.Dataset, error)
	Snapshot(ctx context.Context, req analysis.Request) (*analysis.Snapshot, error)
	Regions(ctx context.Context, req analysis.Request) (*analysis.RegionsReport, error)
	Vulnerability(ctx context.Context, req analysis.Request) (*analysis.VulnerabilityReport, error)
}

// Build computes only what layers need. With no layers it computes
// everything, which is what the XLSX workbook uses. The points layer keeps
// the points inside req.Params.Bounds.
func Build(ctx context.Context, src Source, req analysis.Request, layers ...Layer) (*Bundle, error) {
	all := len(layers) == 0
	if all {
		layers = Layers
	}

	need := make(map[Layer]bool, len(layers))
	var kinds []indicator.Kind
	for _, l := range layers {
		need[l] = true
		switch l {
		case LayerKDE, LayerLQ, LayerISS:
			kinds = append(kinds, indicator.Kind(l))
		}
	}

	var (
		b   Bundle
		err error
	)
	if all || len(kinds) > 0 {
		r := req
		r.Kinds = kinds
		if all {
			r.Kinds = nil
		}
		if b.Snapshot, err = src.Snapshot(ctx, r); err != nil {
			return nil, err
		}
	}
	if need[LayerRegions] {
		if b.Regions, err = src.Regions(ctx, req); err != nil {
			return nil, err
		}
	}
	if need[LayerVulnerability] {
		if b.Vulnerability, err = src.Vulnerability(ctx, req); err != nil {
			return nil, err
		}
	}
	if need[LayerPoints] {
		data, err := src.Dataset(ctx)
		if err != nil {
			return nil, err
		}
		bounds := req.Params.Bounds
		for _, p := range data.Points {
			if bounds == nil || bounds.Contains(p.LatLng()) {
				b.Points = append(b.Points, p)
			}
		}
	}
	return &b, nil
}

// Layer builds the named GeoJSON layer. Missing inputs give an empty
// collection.
func (b *Bundle) Layer(l Layer) (*geojson.FeatureCollection, error) {
	switch l {
	case LayerKDE:
		if b.Snapshot != nil {
			return KDEFeatures(b.Snapshot.KDE), nil
		}
	case LayerLQ:
		if b.Snapshot != nil {
			return LQFeatures(b.Snapshot.LQ), nil
		}
	case LayerISS:
		if b.Snapshot != nil {
			return ISSFeatures(b.Snapshot.ISS), nil
		}
	case LayerRegions:
		if b.Regions != nil {
			return RegionFeatures(b.Regions.Result), nil
		}
	case LayerVulnerability:
		if b.Vulnerability != nil {
			return VulnerabilityFeatures(b.Vulnerability.Result), nil
		}
	case LayerPoints:
		return PointFeatures(b.Points), nil
	default:
		return nil, eris.Errorf("report: unknown layer %q", l)
	}
	return newCollection(), nil
}

// WriteGeoJSON encodes fc to w.
func WriteGeoJSON(w io.Writer, fc *geojson.FeatureCollection) error {
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		return eris.Wrap(err, "report: encode geojson")
	}
	return nil
}
