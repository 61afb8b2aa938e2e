package indicator

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/school"
)

// Significance labels.
const (
	NotSignificant    = "not_significant"
	Significant95     = "significant_95"
	HighlySignificant = "highly_significant_99"
)

// Pattern labels.
const (
	PatternClustered = "clustered"
	PatternDispersed = "dispersed"
	PatternRandom    = "random"
)

// minMoranDistanceKM floors pairwise cell distances in the weight matrix.
const minMoranDistanceKM = 0.1

// minMoranVariance treats smaller variances as rounding noise around zero.
const minMoranVariance = 1e-12

// MoranResult is the global autocorrelation of the target-class share.
type MoranResult struct {
	Meta
	TargetClass  school.Class `json:"target_class"`
	I            float64      `json:"i"`
	Expected     float64      `json:"expected"`
	Variance     float64      `json:"variance"`
	Z            float64      `json:"z"`
	Significance string       `json:"significance"`
	Pattern      string       `json:"pattern"`

	// ZeroVariance is set when every cell has the same share; I is 0.
	ZeroVariance bool `json:"zero_variance,omitempty"`
	// VarianceUndefined is set when Var(I) is not positive for this
	// layout, or when fewer than four cells leave the randomization
	// denominator at zero; Z is 0.
	VarianceUndefined bool `json:"variance_undefined,omitempty"`
}

// Kind implements Result.
func (r *MoranResult) Kind() Kind { return KindMoran }

// Metadata implements Result.
func (r *MoranResult) Metadata() Meta { return r.Meta }

// Moran computes global Moran's I over the non-empty cells, using the
// target-class share as the cell value and inverse haversine distance
// between cell centers as weights. Var(I) follows the randomization
// formula with the harmonic term S1(n) = Σ_{k=1}^{n-1} 1/k in place of the
// weight-matrix S1; see moranOf. Cost is O(cells²); ctx is checked once
// per row of the weight matrix.
func Moran(ctx context.Context, points []school.Point, params Params) (*MoranResult, error) {
	g, params, meta, err := prepare(points, params)
	if err != nil {
		return nil, err
	}
	res := &MoranResult{
		Meta:         meta,
		TargetClass:  params.TargetClass,
		Significance: NotSignificant,
		Pattern:      PatternRandom,
	}
	if g == nil || !meta.OK() {
		return res, nil
	}

	cells := g.NonEmpty()
	if len(cells) < 2 {
		res.Status = StatusInsufficientData
		res.Reason = "moran needs at least 2 non-empty cells"
		return res, nil
	}

	centers := make([]geo.LatLng, len(cells))
	x := make([]float64, len(cells))
	for i, c := range cells {
		centers[i] = c.Center()
		x[i] = c.Fraction(params.TargetClass)
	}
	w, err := inverseDistance(ctx, centers)
	if err != nil {
		return nil, eris.Wrap(err, "indicator: moran")
	}
	m := moranOf(x, w)
	res.I, res.Expected, res.Variance = m.i, m.expected, m.variance
	res.ZeroVariance = m.zeroVariance
	if m.zeroVariance {
		return res, nil
	}
	if m.variance < minMoranVariance || math.IsNaN(m.variance) || math.IsInf(m.variance, 0) {
		res.VarianceUndefined = true
		return res, nil
	}

	res.Z = (m.i - m.expected) / math.Sqrt(m.variance)
	res.Significance = significance(res.Z)
	res.Pattern = pattern(res.I, res.Expected, res.Z)
	return res, nil
}

// inverseDistance builds the symmetric weight matrix with a zero diagonal.
func inverseDistance(ctx context.Context, centers []geo.LatLng) ([][]float64, error) {
	n := len(centers)
	w := make([][]float64, n)
	for i := range w {
		w[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < n; j++ {
			d := math.Max(geo.HaversineKM(centers[i], centers[j]), minMoranDistanceKM)
			w[i][j] = 1 / d
			w[j][i] = w[i][j]
		}
	}
	return w, nil
}

type moranStats struct {
	i, expected, variance float64
	zeroVariance          bool
}

// harmonic returns S1(n) = Σ_{k=1}^{n-1} 1/k.
func harmonic(n int) float64 {
	s := 0.0
	for k := 1; k < n; k++ {
		s += 1 / float64(k)
	}
	return s
}

// moranOf computes I, E[I] = -1/(n-1) and
//
//	Var(I) = [n((n²-3n+3)S1 - nS2 + 3S0²) - b2((n²-n)S1 - 2nS2 + 6S0²)]
//	         / ((n-1)(n-2)(n-3)S0²) - E[I]²
//
// where S0 = Σw, S2 = Σ(rowᵢ + colᵢ)², b2 is the sample kurtosis and S1 is
// the harmonic term harmonic(n). With n < 4 the denominator is zero and the
// variance is left at 0.
func moranOf(x []float64, w [][]float64) moranStats {
	n := len(x)
	nf := float64(n)
	out := moranStats{expected: -1 / (nf - 1)}

	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= nf

	z := make([]float64, n)
	m2, m4 := 0.0, 0.0
	for i, v := range x {
		z[i] = v - mean
		m2 += z[i] * z[i]
		m4 += z[i] * z[i] * z[i] * z[i]
	}
	if m2 == 0 {
		out.zeroVariance = true
		return out
	}

	var s0, s2, cross float64
	for i := 0; i < n; i++ {
		row, col := 0.0, 0.0
		for j := 0; j < n; j++ {
			s0 += w[i][j]
			cross += w[i][j] * z[i] * z[j]
			row += w[i][j]
			col += w[j][i]
		}
		s2 += (row + col) * (row + col)
	}

	out.i = (nf / s0) * cross / m2
	if n < 4 {
		return out
	}
	s1 := harmonic(n)
	kurt := (m4 / nf) / ((m2 / nf) * (m2 / nf))
	num := nf*((nf*nf-3*nf+3)*s1-nf*s2+3*s0*s0) - kurt*((nf*nf-nf)*s1-2*nf*s2+6*s0*s0)
	den := (nf - 1) * (nf - 2) * (nf - 3) * s0 * s0
	out.variance = num/den - out.expected*out.expected
	return out
}

func significance(z float64) string {
	switch a := math.Abs(z); {
	case a > 2.58:
		return HighlySignificant
	case a > 1.96:
		return Significant95
	default:
		return NotSignificant
	}
}

func pattern(i, expected, z float64) string {
	switch {
	case z > 0 && i > expected:
		return PatternClustered
	case z < 0 && i < expected:
		return PatternDispersed
	default:
		return PatternRandom
	}
}
