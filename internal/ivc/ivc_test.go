package ivc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/school"
)

func pt(id string, lat, lng float64, class school.Class, score float64) school.Point {
	return school.Point{ID: id, Lat: lat, Lng: lng, Class: class, Score: score, HasScore: true, Enrollment: 200}
}

func TestCompute_IsolatedCriticalPoint(t *testing.T) {
	points := []school.Point{
		pt("lonely", 0, 0, school.ClassCritical, 0),
		pt("far", 1, 1, school.ClassAdequate, 80),
	}
	res := Compute(points, Options{})
	require.Equal(t, indicator.StatusOK, res.Status)

	var s Score
	for _, sc := range res.Scores {
		if sc.ID == "lonely" {
			s = sc
		}
	}
	assert.Equal(t, 100.0, s.Components.Accessibility)
	assert.Equal(t, 100.0, s.Components.Criticality)
	assert.Equal(t, 0.0, s.Components.Density)
	assert.Equal(t, 100.0, s.Components.Infrastructure)
	assert.Equal(t, 0, s.Neighbors)
	assert.GreaterOrEqual(t, s.Total, 60)
	assert.Equal(t, 75, s.Total)
	assert.Equal(t, indicator.LevelHigh, s.Level)
	assert.Equal(t, 2, s.Tier)
}

func TestCompute_DensityAndAccessibility(t *testing.T) {
	center := pt("center", 0, 0, school.ClassAlert, 50)
	var points []school.Point
	points = append(points, center)
	// Three neighbors 0.5 km away with 1000 students each.
	for i, off := range [][2]float64{{0.0045, 0}, {-0.0045, 0}, {0, 0.0045}} {
		p := pt(string(rune('a'+i)), off[0], off[1], school.ClassAdequate, 90)
		p.Enrollment = 1000
		points = append(points, p)
	}
	res := Compute(points, Options{})

	var s Score
	for _, sc := range res.Scores {
		if sc.ID == "center" {
			s = sc
		}
	}
	assert.Equal(t, 3000, s.NearbyEnrollment)
	assert.InDelta(t, 60, s.Components.Density, 1e-9)
	assert.Equal(t, 3, s.Neighbors)
	assert.InDelta(t, 0.5, s.MeanNeighborKM, 0.01)
	assert.InDelta(t, 25, s.Components.Accessibility, 0.5)
	assert.InDelta(t, 42.5, s.Components.Criticality, 1e-9)
	assert.InDelta(t, 50, s.Components.Infrastructure, 1e-9)
}

func TestCompute_SortedAndCounted(t *testing.T) {
	points := []school.Point{
		pt("b", 0, 0, school.ClassAdequate, 100),
		pt("a", 0.5, 0.5, school.ClassCritical, 0),
		pt("c", 0.001, 0.001, school.ClassAdequate, 100),
	}
	res := Compute(points, Options{})
	require.Len(t, res.Scores, 3)
	assert.Equal(t, "a", res.Scores[0].ID)
	for i := 1; i < len(res.Scores); i++ {
		assert.GreaterOrEqual(t, res.Scores[i-1].Total, res.Scores[i].Total)
	}
	total := 0
	for _, n := range res.Levels {
		total += n
	}
	assert.Equal(t, 3, total)
	assert.Len(t, res.Top(1), 1)
	assert.Len(t, res.Top(0), 3)
	assert.Len(t, res.Top(10), 3)
}

func TestCompute_Empty(t *testing.T) {
	res := Compute(nil, Options{})
	assert.Equal(t, indicator.StatusNoData, res.Status)
	assert.Empty(t, res.Scores)
}

func TestInfrastructure_Fallback(t *testing.T) {
	tests := []struct {
		class school.Class
		want  float64
	}{
		{school.ClassCritical, 90},
		{school.ClassAttention, 70},
		{school.ClassAlert, 50},
		{school.ClassAdequate, 20},
		{school.ClassUnrated, 50},
		{"bogus", 50},
	}
	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			assert.Equal(t, tt.want, Infrastructure(school.Point{Class: tt.class}))
		})
	}
	assert.Equal(t, 30.0, Infrastructure(school.Point{Class: school.ClassCritical, Score: 70, HasScore: true}))
}

func TestCriticality_ScoreReduction(t *testing.T) {
	assert.Equal(t, 100.0, Criticality(school.Point{Class: school.ClassCritical}))
	assert.InDelta(t, 70, Criticality(school.Point{Class: school.ClassCritical, Score: 100}), 1e-9)
	assert.InDelta(t, 70, Criticality(school.Point{Class: school.ClassCritical, Score: 250}), 1e-9)
	assert.Equal(t, 40.0, Criticality(school.Point{Class: school.ClassUnrated}))
}

func TestTier(t *testing.T) {
	assert.Equal(t, 1, Tier(indicator.LevelCritical))
	assert.Equal(t, 3, Tier(indicator.LevelModerate))
	assert.Equal(t, 5, Tier(indicator.LevelMinimal))
}
