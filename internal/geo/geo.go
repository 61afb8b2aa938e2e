// Package geo provides the planar and great-circle helpers used by the
// spatial engine: distances, bounding boxes, point-in-polygon and polygon
// area. Areas use a planar approximation that is valid for city-scale
// extents and degrades for large ones.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
)

// KMPerDegree is the length of one degree of latitude (and of longitude at
// the equator) used by the planar approximations.
const KMPerDegree = 111.32

// LatLng is a WGS84 coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within the WGS84 ranges.
func (p LatLng) Valid() bool {
	return ValidCoord(p.Lat, p.Lng)
}

// ValidCoord reports whether lat ∈ [-90,90] and lng ∈ [-180,180].
func ValidCoord(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// BBox represents a geographic bounding box.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// SW returns the south-west corner.
func (b BBox) SW() LatLng { return LatLng{Lat: b.MinLat, Lng: b.MinLng} }

// NE returns the north-east corner.
func (b BBox) NE() LatLng { return LatLng{Lat: b.MaxLat, Lng: b.MaxLng} }

// Center returns the midpoint of the box in degree space.
func (b BBox) Center() LatLng {
	return LatLng{Lat: (b.MinLat + b.MaxLat) / 2, Lng: (b.MinLng + b.MaxLng) / 2}
}

// Height returns the latitude span in degrees.
func (b BBox) Height() float64 { return b.MaxLat - b.MinLat }

// Width returns the longitude span in degrees.
func (b BBox) Width() float64 { return b.MaxLng - b.MinLng }

// Validate checks that the box is well formed.
func (b BBox) Validate() error {
	if !ValidCoord(b.MinLat, b.MinLng) || !ValidCoord(b.MaxLat, b.MaxLng) {
		return eris.Errorf("geo: bbox out of range %+v", b)
	}
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		return eris.Errorf("geo: inverted bbox %+v", b)
	}
	return nil
}

// Contains reports whether p lies inside the closed box.
func (b BBox) Contains(p LatLng) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Expand returns a copy of b grown by pad degrees on every side.
func (b BBox) Expand(pad float64) BBox {
	return BBox{
		MinLng: b.MinLng - pad,
		MinLat: b.MinLat - pad,
		MaxLng: b.MaxLng + pad,
		MaxLat: b.MaxLat + pad,
	}
}

// Extent returns the smallest box containing every coordinate. The second
// return value is false when coords is empty.
func Extent(coords []LatLng) (BBox, bool) {
	if len(coords) == 0 {
		return BBox{}, false
	}
	b := BBox{
		MinLng: coords[0].Lng, MinLat: coords[0].Lat,
		MaxLng: coords[0].Lng, MaxLat: coords[0].Lat,
	}
	for _, c := range coords[1:] {
		b.MinLat = math.Min(b.MinLat, c.Lat)
		b.MaxLat = math.Max(b.MaxLat, c.Lat)
		b.MinLng = math.Min(b.MinLng, c.Lng)
		b.MaxLng = math.Max(b.MaxLng, c.Lng)
	}
	return b, true
}

// PlanarAreaKM2 approximates the area of a box in km² as
// Δlat·111.32 × Δlng·111.32·cos(meanLat).
func PlanarAreaKM2(b BBox) float64 {
	meanLat := (b.MinLat + b.MaxLat) / 2 * math.Pi / 180
	return b.Height() * KMPerDegree * b.Width() * KMPerDegree * math.Cos(meanLat)
}
