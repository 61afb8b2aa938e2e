// Package report renders engine results for outer consumers: GeoJSON
// feature collections for map layers and XLSX workbooks for analysts.
package report

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/ivc"
	"github.com/sells-group/schoolmap/internal/region"
	"github.com/sells-group/schoolmap/internal/school"
)

// Layer names a GeoJSON layer.
type Layer string

// Layers.
const (
	LayerKDE           Layer = "kde"
	LayerLQ            Layer = "lq"
	LayerISS           Layer = "iss"
	LayerRegions       Layer = "regions"
	LayerVulnerability Layer = "vulnerability"
	LayerPoints        Layer = "points"
)

// Layers lists every layer.
var Layers = []Layer{LayerKDE, LayerLQ, LayerISS, LayerRegions, LayerVulnerability, LayerPoints}

// ParseLayer validates a layer name.
func ParseLayer(s string) (Layer, error) {
	for _, l := range Layers {
		if string(l) == s {
			return l, nil
		}
	}
	return "", eris.Errorf("report: unknown layer %q", s)
}

func bboxPolygon(b geo.BBox) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{b.MinLng, b.MinLat},
		{b.MaxLng, b.MinLat},
		{b.MaxLng, b.MaxLat},
		{b.MinLng, b.MaxLat},
		{b.MinLng, b.MinLat},
	}})
}

func ringPolygon(ring geo.Ring) *geom.Polygon {
	coords := make([]geom.Coord, 0, len(ring)+1)
	for _, v := range ring {
		coords = append(coords, geom.Coord{v.Lng, v.Lat})
	}
	if len(ring) > 0 {
		coords = append(coords, geom.Coord{ring[0].Lng, ring[0].Lat})
	}
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{coords})
}

func point(lat, lng float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lng, lat})
}

func newCollection() *geojson.FeatureCollection {
	return &geojson.FeatureCollection{Features: []*geojson.Feature{}}
}

func cellProps(ref indicator.CellRef) map[string]any {
	return map[string]any{
		"row":   ref.Row,
		"col":   ref.Col,
		"count": ref.Count,
	}
}

// KDEFeatures renders each density cell as a polygon.
func KDEFeatures(res *indicator.KDEResult) *geojson.FeatureCollection {
	fc := newCollection()
	if res == nil {
		return fc
	}
	for _, c := range res.Cells {
		props := cellProps(c.CellRef)
		props["density"] = c.Density
		props["intensity"] = c.Intensity
		props["density_per_km2"] = c.DensityPerKM2
		fc.Features = append(fc.Features, &geojson.Feature{Geometry: bboxPolygon(c.Bounds), Properties: props})
	}
	return fc
}

// LQFeatures renders each non-empty cell with its quotient.
func LQFeatures(res *indicator.LQResult) *geojson.FeatureCollection {
	fc := newCollection()
	if res == nil {
		return fc
	}
	for _, c := range res.Cells {
		props := cellProps(c.CellRef)
		props["target"] = c.Target
		props["local"] = c.Local
		props["lq"] = c.LQ
		props["level"] = c.Level
		fc.Features = append(fc.Features, &geojson.Feature{Geometry: bboxPolygon(c.Bounds), Properties: props})
	}
	return fc
}

// ISSFeatures renders each non-empty cell with its saturation score.
func ISSFeatures(res *indicator.ISSResult) *geojson.FeatureCollection {
	fc := newCollection()
	if res == nil {
		return fc
	}
	for _, c := range res.Cells {
		props := cellProps(c.CellRef)
		props["score"] = c.Score
		props["level"] = c.Level
		props["kde_component"] = c.KDEComponent
		props["lq_component"] = c.LQComponent
		props["crit_component"] = c.CritComponent
		fc.Features = append(fc.Features, &geojson.Feature{Geometry: bboxPolygon(c.Bounds), Properties: props})
	}
	return fc
}

// RegionFeatures renders each region polygon. Every feature is flagged
// approximate.
func RegionFeatures(res *region.Result) *geojson.FeatureCollection {
	fc := newCollection()
	if res == nil {
		return fc
	}
	for _, r := range res.Regions {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       r.Seed.ID,
			Geometry: ringPolygon(r.Vertices),
			Properties: map[string]any{
				"seed_id":      r.Seed.ID,
				"seed_name":    r.Seed.Name,
				"area_km2":     r.AreaKM2,
				"schools":      r.Schools,
				"critical":     r.Critical,
				"critical_pct": r.CriticalPct,
				"enrollment":   r.Enrollment,
				"impact":       r.Impact.Score,
				"impact_level": r.Impact.Level,
				"approximate":  true,
			},
		})
	}
	return fc
}

// VulnerabilityFeatures renders each scored school as a point.
func VulnerabilityFeatures(res *ivc.Result) *geojson.FeatureCollection {
	fc := newCollection()
	if res == nil {
		return fc
	}
	for _, s := range res.Scores {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       s.ID,
			Geometry: point(s.Lat, s.Lng),
			Properties: map[string]any{
				"name":           s.Name,
				"class":          string(s.Class),
				"total":          s.Total,
				"level":          s.Level,
				"tier":           s.Tier,
				"criticality":    s.Components.Criticality,
				"density":        s.Components.Density,
				"accessibility":  s.Components.Accessibility,
				"infrastructure": s.Components.Infrastructure,
			},
		})
	}
	return fc
}

// PointFeatures renders normalized schools, carrying the heat weight used
// by map heat layers.
func PointFeatures(points []school.Point) *geojson.FeatureCollection {
	fc := newCollection()
	for _, p := range points {
		props := map[string]any{
			"name":        p.Name,
			"class":       string(p.Class),
			"weight":      p.Weight,
			"heat_weight": p.HeatWeight(),
			"enrollment":  p.Enrollment,
		}
		if p.HasScore {
			props["score"] = p.Score
		}
		if p.Type != "" {
			props["type"] = p.Type
		}
		fc.Features = append(fc.Features, &geojson.Feature{ID: p.ID, Geometry: point(p.Lat, p.Lng), Properties: props})
	}
	return fc
}
