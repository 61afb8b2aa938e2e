package indicator

import (
	"context"

	"github.com/sells-group/schoolmap/internal/grid"
	"github.com/sells-group/schoolmap/internal/school"
)

// LQ levels.
const (
	LQVeryHigh = "very_high"
	LQHigh     = "high"
	LQMedium   = "medium"
	LQLow      = "low"
	LQVeryLow  = "very_low"
)

// LQLevel buckets a location quotient.
func LQLevel(lq float64) string {
	switch {
	case lq >= 2.0:
		return LQVeryHigh
	case lq >= 1.5:
		return LQHigh
	case lq >= 1.0:
		return LQMedium
	case lq >= 0.5:
		return LQLow
	default:
		return LQVeryLow
	}
}

// LQCell is the location quotient of one non-empty cell.
type LQCell struct {
	CellRef
	Target int     `json:"target"`
	Local  float64 `json:"local"`
	LQ     float64 `json:"lq"`
	Level  string  `json:"level"`
}

// LQResult holds one entry per non-empty cell.
type LQResult struct {
	Meta
	TargetClass school.Class `json:"target_class"`
	Reference   float64      `json:"reference"`

	// ZeroReference is set when no assigned point has the target class;
	// every LQ is then 0.
	ZeroReference bool     `json:"zero_reference,omitempty"`
	Cells         []LQCell `json:"cells"`
}

// Kind implements Result.
func (r *LQResult) Kind() Kind { return KindLQ }

// Metadata implements Result.
func (r *LQResult) Metadata() Meta { return r.Meta }

// LQ computes, per non-empty cell, the local share of the target class
// divided by its share over all assigned points.
func LQ(_ context.Context, points []school.Point, params Params) (*LQResult, error) {
	g, params, meta, err := prepare(points, params)
	if err != nil {
		return nil, err
	}
	res := &LQResult{Meta: meta, TargetClass: params.TargetClass}
	if g == nil || !meta.OK() {
		return res, nil
	}
	res.Reference, res.Cells = quotients(g, params.TargetClass)
	res.ZeroReference = res.Reference == 0
	return res, nil
}

// quotients computes the reference proportion and the per-cell LQ.
func quotients(g *grid.Grid, target school.Class) (float64, []LQCell) {
	cells := g.NonEmpty()
	total, hits := 0, 0
	for _, c := range cells {
		total += c.Count
		hits += c.CountClass(target)
	}
	ref := 0.0
	if total > 0 {
		ref = float64(hits) / float64(total)
	}

	out := make([]LQCell, 0, len(cells))
	for _, c := range cells {
		n := c.CountClass(target)
		local := float64(n) / float64(c.Count)
		lq := 0.0
		if ref > 0 {
			lq = local / ref
		}
		out = append(out, LQCell{
			CellRef: refOf(c),
			Target:  n,
			Local:   local,
			LQ:      lq,
			Level:   LQLevel(lq),
		})
	}
	return ref, out
}
