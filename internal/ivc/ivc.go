// Package ivc computes the composite vulnerability index of each school: a
// weighted blend of class criticality, nearby enrollment, distance to the
// nearest schools and infrastructure score. Neighbor search is O(points²).
package ivc

import (
	"math"
	"sort"

	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/school"
)

// Component weights.
const (
	WeightCriticality    = 0.40
	WeightDensity        = 0.25
	WeightAccessibility  = 0.20
	WeightInfrastructure = 0.15
)

const (
	densitySaturation  = 5000.0 // students within the radius that score 100
	accessSaturationKM = 2.0    // mean neighbor distance that scores 100
	maxScoreReduction  = 0.30
)

var criticalityBase = map[school.Class]float64{
	school.ClassCritical:  100,
	school.ClassAttention: 75,
	school.ClassAlert:     50,
	school.ClassAdequate:  20,
	school.ClassUnrated:   40,
}

var infrastructureFallback = map[school.Class]float64{
	school.ClassCritical:  90,
	school.ClassAttention: 70,
	school.ClassAlert:     50,
	school.ClassAdequate:  20,
	school.ClassUnrated:   50,
}

// Options controls the neighbor searches.
type Options struct {
	RadiusKM       float64 `json:"radius_km"`
	SearchRadiusKM float64 `json:"search_radius_km"`
	Neighbors      int     `json:"neighbors"`
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{RadiusKM: 1, SearchRadiusKM: 5, Neighbors: 3}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RadiusKM <= 0 {
		o.RadiusKM = d.RadiusKM
	}
	if o.SearchRadiusKM <= 0 {
		o.SearchRadiusKM = d.SearchRadiusKM
	}
	if o.Neighbors <= 0 {
		o.Neighbors = d.Neighbors
	}
	return o
}

// Components are the four 0–100 sub-scores.
type Components struct {
	Criticality    float64 `json:"criticality"`
	Density        float64 `json:"density"`
	Accessibility  float64 `json:"accessibility"`
	Infrastructure float64 `json:"infrastructure"`
}

// Weighted returns the weighted sum before rounding.
func (c Components) Weighted() float64 {
	return c.Criticality*WeightCriticality +
		c.Density*WeightDensity +
		c.Accessibility*WeightAccessibility +
		c.Infrastructure*WeightInfrastructure
}

// Score is the index of one school.
type Score struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Lat        float64      `json:"lat"`
	Lng        float64      `json:"lng"`
	Class      school.Class `json:"class"`
	Components Components   `json:"components"`
	Total      int          `json:"total"`
	Level      string       `json:"level"`
	Tier       int          `json:"tier"`

	NearbyEnrollment int     `json:"nearby_enrollment"`
	Neighbors        int     `json:"neighbors"`
	MeanNeighborKM   float64 `json:"mean_neighbor_km"`
}

// Result holds the scores sorted by Total descending, then id.
type Result struct {
	Status indicator.Status `json:"status"`
	Points int              `json:"points"`
	Scores []Score          `json:"scores"`
	Levels map[string]int   `json:"levels"`
}

// Top returns at most n scores.
func (r *Result) Top(n int) []Score {
	if n <= 0 || n >= len(r.Scores) {
		return r.Scores
	}
	return r.Scores[:n]
}

// Compute scores every point.
func Compute(points []school.Point, opts Options) *Result {
	opts = opts.withDefaults()
	res := &Result{Points: len(points), Levels: map[string]int{}}
	if len(points) == 0 {
		res.Status = indicator.StatusNoData
		return res
	}
	res.Status = indicator.StatusOK

	res.Scores = make([]Score, 0, len(points))
	for i := range points {
		s := score(i, points, opts)
		res.Levels[s.Level]++
		res.Scores = append(res.Scores, s)
	}
	sort.SliceStable(res.Scores, func(i, j int) bool {
		if res.Scores[i].Total != res.Scores[j].Total {
			return res.Scores[i].Total > res.Scores[j].Total
		}
		return res.Scores[i].ID < res.Scores[j].ID
	})
	return res
}

func score(i int, points []school.Point, opts Options) Score {
	p := points[i]
	s := Score{ID: p.ID, Name: p.Name, Lat: p.Lat, Lng: p.Lng, Class: p.Class}

	var near []float64
	for j, q := range points {
		if j == i {
			continue
		}
		d := geo.HaversineKM(p.LatLng(), q.LatLng())
		if d <= opts.RadiusKM {
			s.NearbyEnrollment += q.Enrollment
		}
		if d <= opts.SearchRadiusKM {
			near = append(near, d)
		}
	}
	sort.Float64s(near)
	if len(near) > opts.Neighbors {
		near = near[:opts.Neighbors]
	}
	s.Neighbors = len(near)

	s.Components.Criticality = Criticality(p)
	s.Components.Density = math.Min(float64(s.NearbyEnrollment)/densitySaturation*100, 100)
	s.Components.Accessibility = 100
	if len(near) > 0 {
		sum := 0.0
		for _, d := range near {
			sum += d
		}
		s.MeanNeighborKM = sum / float64(len(near))
		s.Components.Accessibility = math.Min(s.MeanNeighborKM/accessSaturationKM*100, 100)
	}
	s.Components.Infrastructure = Infrastructure(p)

	s.Total = int(math.Round(s.Components.Weighted()))
	s.Level = indicator.BandLevel(float64(s.Total))
	s.Tier = Tier(s.Level)
	return s
}

// Criticality is the class base value reduced by up to 30% for a high score.
func Criticality(p school.Point) float64 {
	base, ok := criticalityBase[p.Class]
	if !ok {
		base = criticalityBase[school.ClassUnrated]
	}
	return base * (1 - maxScoreReduction*clampScore(p.Score)/100)
}

// Infrastructure is 100 − score, or a class fallback when no score is known.
func Infrastructure(p school.Point) float64 {
	if p.HasScore {
		return 100 - clampScore(p.Score)
	}
	v, ok := infrastructureFallback[p.Class]
	if !ok {
		v = infrastructureFallback[school.ClassUnrated]
	}
	return v
}

// Tier maps a level to a priority, 1 being the most urgent.
func Tier(level string) int {
	switch level {
	case indicator.LevelCritical:
		return 1
	case indicator.LevelHigh:
		return 2
	case indicator.LevelModerate:
		return 3
	case indicator.LevelLow:
		return 4
	default:
		return 5
	}
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
