package ingest

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/school"
)

// ReadGeoJSONFile opens path and decodes it with ReadGeoJSON.
func ReadGeoJSONFile(path string) ([]school.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	return ReadGeoJSON(data)
}

// ReadGeoJSON decodes a FeatureCollection of points. Properties become
// record fields, the feature id becomes "id" unless a property sets it, and
// the point becomes latitude/longitude. Features without point geometry are
// skipped.
func ReadGeoJSON(data []byte) ([]school.Record, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "ingest: decode geojson")
	}

	recs := make([]school.Record, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		pt, ok := f.Geometry.(*geom.Point)
		if !ok || pt.Empty() {
			skipped++
			continue
		}
		rec := make(school.Record, len(f.Properties)+3)
		if f.ID != "" {
			rec["id"] = f.ID
		}
		for k, v := range f.Properties {
			rec[k] = v
		}
		rec["latitude"] = pt.Y()
		rec["longitude"] = pt.X()
		recs = append(recs, rec)
	}

	if skipped > 0 {
		zap.L().Warn("ingest: skipped non-point features", zap.Int("skipped", skipped))
	}
	return recs, nil
}
