package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusKM is the mean Earth radius.
const EarthRadiusKM = 6371.0

// HaversineKM returns the great-circle distance between two coordinates in
// kilometers.
func HaversineKM(a, b LatLng) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * EarthRadiusKM
}

// DegreeDistance returns the Euclidean distance in raw degree space. It is
// only meant for ranking neighbors, never for reported metrics.
func DegreeDistance(a, b LatLng) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lng-b.Lng)
}

// Midpoint returns the degree-space midpoint of a and b.
func Midpoint(a, b LatLng) LatLng {
	return LatLng{Lat: (a.Lat + b.Lat) / 2, Lng: (a.Lng + b.Lng) / 2}
}
