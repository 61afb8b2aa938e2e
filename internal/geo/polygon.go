package geo

import (
	"math"
	"sort"
)

// Ring is an open sequence of polygon vertices (the first vertex is not
// repeated at the end).
type Ring []LatLng

// Bounds returns the bounding box of the ring.
func (r Ring) Bounds() BBox {
	b, _ := Extent(r)
	return b
}

// Contains reports whether p is inside the ring. A bounding-box check runs
// first, then an even-odd ray cast.
func (r Ring) Contains(p LatLng) bool {
	if len(r) < 3 {
		return false
	}
	if !r.Bounds().Contains(p) {
		return false
	}
	return PointInRing(p, r)
}

// PointInRing is the ray-casting test without the bounding-box pre-filter.
func PointInRing(p LatLng, ring Ring) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		yi, xi := ring[i].Lat, ring[i].Lng
		yj, xj := ring[j].Lat, ring[j].Lng
		if (yi > p.Lat) != (yj > p.Lat) &&
			p.Lng < (xj-xi)*(p.Lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// ShoelaceDeg2 returns the unsigned area of the ring in square degrees.
func ShoelaceDeg2(ring Ring) float64 {
	n := len(ring)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += ring[i].Lng*ring[j].Lat - ring[j].Lng*ring[i].Lat
	}
	return math.Abs(sum) / 2
}

// RingAreaKM2 scales the shoelace area to km² with the same planar
// approximation as PlanarAreaKM2, using the ring's mean latitude.
func RingAreaKM2(ring Ring) float64 {
	if len(ring) < 3 {
		return 0
	}
	var meanLat float64
	for _, v := range ring {
		meanLat += v.Lat
	}
	meanLat /= float64(len(ring))
	return ShoelaceDeg2(ring) * KMPerDegree * KMPerDegree * math.Cos(meanLat*math.Pi/180)
}

// SortClockwise orders vertices by descending polar angle around center,
// which walks them clockwise on a north-up map.
func SortClockwise(center LatLng, vertices []LatLng) {
	sort.SliceStable(vertices, func(i, j int) bool {
		ai := math.Atan2(vertices[i].Lat-center.Lat, vertices[i].Lng-center.Lng)
		aj := math.Atan2(vertices[j].Lat-center.Lat, vertices[j].Lng-center.Lng)
		return ai > aj
	})
}
