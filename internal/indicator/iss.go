package indicator

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/school"
)

// ISS component scales and caps.
const (
	issKDEScale  = 40.0
	issKDECap    = 40.0
	issLQScale   = 15.0
	issLQCap     = 30.0
	issCritScale = 100.0
	issCritCap   = 30.0
)

// ISS levels.
const (
	LevelCritical = "critical"
	LevelHigh     = "high"
	LevelModerate = "moderate"
	LevelLow      = "low"
	LevelMinimal  = "minimal"
)

// BandLevel maps a 0–100 score onto the shared 80/60/40/20 bands.
func BandLevel(score float64) string {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelModerate
	case score >= 20:
		return LevelLow
	default:
		return LevelMinimal
	}
}

// ISSCell is the saturation index of one non-empty cell.
type ISSCell struct {
	CellRef
	KDEComponent  float64 `json:"kde_component"`
	LQComponent   float64 `json:"lq_component"`
	CritComponent float64 `json:"crit_component"`
	Score         float64 `json:"score"`
	Level         string  `json:"level"`
}

// ISSResult holds one entry per non-empty cell.
type ISSResult struct {
	Meta
	TargetClass school.Class `json:"target_class"`
	Cells       []ISSCell    `json:"cells"`
}

// Kind implements Result.
func (r *ISSResult) Kind() Kind { return KindISS }

// Metadata implements Result.
func (r *ISSResult) Metadata() Meta { return r.Meta }

// ISS blends, per non-empty cell, the normalized KDE intensity, the LQ and
// the local target-class share into a 0–100 score.
func ISS(ctx context.Context, points []school.Point, params Params) (*ISSResult, error) {
	g, params, meta, err := prepare(points, params)
	if err != nil {
		return nil, err
	}
	res := &ISSResult{Meta: meta, TargetClass: params.TargetClass}
	if g == nil || !meta.OK() {
		return res, nil
	}

	density, _, err := densityOnGrid(ctx, g, points, params)
	if err != nil {
		return nil, eris.Wrap(err, "indicator: iss")
	}
	intensity := make(map[[2]int]float64, len(density))
	for _, d := range density {
		intensity[[2]int{d.Row, d.Col}] = d.Intensity
	}
	_, lqs := quotients(g, params.TargetClass)

	res.Cells = make([]ISSCell, 0, len(lqs))
	for _, q := range lqs {
		kde := math.Min(intensity[[2]int{q.Row, q.Col}]*issKDEScale, issKDECap)
		lq := math.Min(q.LQ*issLQScale, issLQCap)
		crit := math.Min(q.Local*issCritScale, issCritCap)
		score := math.Max(0, math.Min(100, kde+lq+crit))
		res.Cells = append(res.Cells, ISSCell{
			CellRef:       q.CellRef,
			KDEComponent:  kde,
			LQComponent:   lq,
			CritComponent: crit,
			Score:         score,
			Level:         BandLevel(score),
		})
	}
	return res, nil
}
