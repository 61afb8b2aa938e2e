package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidCoord(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
		expected bool
	}{
		{name: "origin", lat: 0, lng: 0, expected: true},
		{name: "sao paulo", lat: -23.55, lng: -46.63, expected: true},
		{name: "corner", lat: 90, lng: -180, expected: true},
		{name: "lat too high", lat: 90.1, lng: 0, expected: false},
		{name: "lng too low", lat: 0, lng: -180.5, expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidCoord(tt.lat, tt.lng))
		})
	}
}

func TestBBox_Validate(t *testing.T) {
	require.NoError(t, BBox{MinLng: -46.7, MinLat: -23.6, MaxLng: -46.6, MaxLat: -23.5}.Validate())

	err := BBox{MinLng: -46.6, MinLat: -23.5, MaxLng: -46.7, MaxLat: -23.6}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inverted bbox")

	err = BBox{MinLng: -200, MinLat: 0, MaxLng: 0, MaxLat: 1}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestExtent(t *testing.T) {
	_, ok := Extent(nil)
	assert.False(t, ok)

	b, ok := Extent([]LatLng{{Lat: 1, Lng: 5}, {Lat: -2, Lng: 7}, {Lat: 0.5, Lng: 6}})
	require.True(t, ok)
	assert.Equal(t, BBox{MinLng: 5, MinLat: -2, MaxLng: 7, MaxLat: 1}, b)
	assert.True(t, b.Contains(LatLng{Lat: 0, Lng: 6}))
	assert.False(t, b.Contains(LatLng{Lat: 0, Lng: 8}))
}

func TestHaversineKM(t *testing.T) {
	// One degree of latitude along a meridian.
	d := HaversineKM(LatLng{Lat: 0, Lng: 0}, LatLng{Lat: 1, Lng: 0})
	assert.InDelta(t, 111.19, d, 0.05)

	assert.InDelta(t, 0, HaversineKM(LatLng{Lat: -23.5, Lng: -46.6}, LatLng{Lat: -23.5, Lng: -46.6}), 1e-9)
}

func TestPlanarAreaKM2(t *testing.T) {
	b := BBox{MinLng: 0, MinLat: 0, MaxLng: 0.01, MaxLat: 0.01}
	assert.InDelta(t, 1.2392, PlanarAreaKM2(b), 0.001)

	// Shrinks with latitude.
	north := BBox{MinLng: 0, MinLat: 60, MaxLng: 0.01, MaxLat: 60.01}
	assert.Less(t, PlanarAreaKM2(north), PlanarAreaKM2(b))
}

func TestRing_Contains(t *testing.T) {
	square := Ring{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 1, Lng: 0}}

	assert.True(t, square.Contains(LatLng{Lat: 0.5, Lng: 0.5}))
	assert.False(t, square.Contains(LatLng{Lat: 1.5, Lng: 0.5}))
	assert.False(t, square.Contains(LatLng{Lat: 0.5, Lng: -0.1}))

	// Concave "L" shape: the notch is outside.
	l := Ring{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 2}, {Lat: 1, Lng: 2}, {Lat: 1, Lng: 1}, {Lat: 2, Lng: 1}, {Lat: 2, Lng: 0}}
	assert.True(t, l.Contains(LatLng{Lat: 0.5, Lng: 1.5}))
	assert.False(t, l.Contains(LatLng{Lat: 1.5, Lng: 1.5}))

	assert.False(t, Ring{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}}.Contains(LatLng{Lat: 0.5, Lng: 0.5}))
}

func TestShoelaceAndRingArea(t *testing.T) {
	square := Ring{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.01}, {Lat: 0.01, Lng: 0.01}, {Lat: 0.01, Lng: 0}}
	assert.InDelta(t, 0.0001, ShoelaceDeg2(square), 1e-12)
	assert.InDelta(t, PlanarAreaKM2(square.Bounds()), RingAreaKM2(square), 1e-6)
	assert.Zero(t, RingAreaKM2(square[:2]))
}

func TestSortClockwise(t *testing.T) {
	center := LatLng{}
	v := []LatLng{
		{Lat: -1, Lng: 0}, // south
		{Lat: 0, Lng: 1},  // east
		{Lat: 1, Lng: 0},  // north
		{Lat: 0, Lng: -1}, // west
	}
	SortClockwise(center, v)
	// Starting from west (angle π) and walking clockwise: north, east, south.
	assert.Equal(t, []LatLng{{Lat: 0, Lng: -1}, {Lat: 1, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: -1, Lng: 0}}, v)
}
