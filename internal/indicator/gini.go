package indicator

import (
	"context"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/schoolmap/internal/school"
)

// Gini levels.
const (
	GiniExtreme   = "extreme"
	GiniHigh      = "high"
	GiniModerate  = "moderate"
	GiniLow       = "low"
	GiniNearEqual = "near_equal"
	GiniEqual     = "equal"
)

// GiniLevel buckets a Gini coefficient.
func GiniLevel(g float64) string {
	switch {
	case g >= 0.6:
		return GiniExtreme
	case g >= 0.5:
		return GiniHigh
	case g >= 0.4:
		return GiniModerate
	case g >= 0.3:
		return GiniLow
	case g >= 0.2:
		return GiniNearEqual
	default:
		return GiniEqual
	}
}

// LorenzPoint is one vertex of the Lorenz curve.
type LorenzPoint struct {
	Population float64 `json:"population"`
	Share      float64 `json:"share"`
}

// GiniResult describes how unevenly the target class is spread over the
// occupied cells.
type GiniResult struct {
	Meta
	TargetClass school.Class  `json:"target_class"`
	Gini        float64       `json:"gini"`
	Level       string        `json:"level"`
	Total       int           `json:"total"`
	Lorenz      []LorenzPoint `json:"lorenz"`

	// NoTargetPoints is set when the occupied cells hold no target-class
	// point; Gini is then 0.
	NoTargetPoints bool `json:"no_target_points,omitempty"`
}

// Kind implements Result.
func (r *GiniResult) Kind() Kind { return KindGini }

// Metadata implements Result.
func (r *GiniResult) Metadata() Meta { return r.Meta }

// Gini computes the Gini coefficient of target-class counts over the
// cells holding at least one point. Counts are sorted ascending and the
// area under the Lorenz curve is integrated with the trapezoid rule;
// G = 1 − 2·area.
func Gini(_ context.Context, points []school.Point, params Params) (*GiniResult, error) {
	g, params, meta, err := prepare(points, params)
	if err != nil {
		return nil, err
	}
	res := &GiniResult{Meta: meta, TargetClass: params.TargetClass, Level: GiniEqual}
	if g == nil || !meta.OK() {
		return res, nil
	}

	cells := g.NonEmpty()
	values := make([]float64, len(cells))
	for i, c := range cells {
		values[i] = float64(c.CountClass(params.TargetClass))
	}
	res.Total = int(floats.Sum(values))
	if res.Total == 0 {
		res.NoTargetPoints = true
		return res, nil
	}
	res.Gini, res.Lorenz = giniOf(values)
	res.Level = GiniLevel(res.Gini)
	return res, nil
}

// giniOf returns the coefficient and the Lorenz curve of non-negative
// values with a positive sum.
func giniOf(values []float64) (float64, []LorenzPoint) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	total := floats.Sum(sorted)

	cum := make([]float64, len(sorted))
	floats.CumSum(cum, sorted)
	floats.Scale(1/total, cum)

	n := float64(len(sorted))
	lorenz := make([]LorenzPoint, 0, len(sorted)+1)
	lorenz = append(lorenz, LorenzPoint{})
	area, prev := 0.0, 0.0
	for i, share := range cum {
		area += (prev + share) / 2 / n
		prev = share
		lorenz = append(lorenz, LorenzPoint{Population: float64(i+1) / n, Share: share})
	}

	gini := 1 - 2*area
	if gini < 0 {
		gini = 0
	}
	return gini, lorenz
}
