package indicator

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/grid"
	"github.com/sells-group/schoolmap/internal/school"
)

// KDECell is the density estimate at one cell center.
type KDECell struct {
	CellRef
	Density       float64 `json:"density"`
	Intensity     float64 `json:"intensity"`
	DensityPerKM2 float64 `json:"density_per_km2"`
}

// KDEResult holds the non-zero density cells in row-major order.
type KDEResult struct {
	Meta
	Bandwidth float64   `json:"bandwidth"`
	Max       float64   `json:"max"`
	Cells     []KDECell `json:"cells"`
}

// Kind implements Result.
func (r *KDEResult) Kind() Kind { return KindKDE }

// Metadata implements Result.
func (r *KDEResult) Metadata() Meta { return r.Meta }

// KDE estimates a Gaussian kernel density at every cell center. Each point
// contributes exp(-d²/(2h²)) scaled by its class multiplier, where d is the
// haversine distance in km and h the bandwidth. Every input point
// contributes, including points outside the bounds. ctx is checked once per
// grid row.
func KDE(ctx context.Context, points []school.Point, params Params) (*KDEResult, error) {
	g, params, meta, err := prepare(points, params)
	if err != nil {
		return nil, err
	}
	res := &KDEResult{Meta: meta, Bandwidth: params.Bandwidth}
	if g == nil {
		return res, nil
	}
	// Out-of-bounds points still contribute, so a bounded view with no
	// points inside can have density.
	res.Status = StatusOK
	res.Reason = ""

	res.Cells, res.Max, err = densityOnGrid(ctx, g, points, params)
	if err != nil {
		return nil, eris.Wrap(err, "indicator: kde")
	}
	if len(res.Cells) == 0 {
		res.Status = StatusNoData
		res.Reason = "no cell within kernel range"
	}
	return res, nil
}

// densityOnGrid returns the non-zero density cells and the maximum density.
// It stops with ctx.Err() at the start of a row once ctx is done.
func densityOnGrid(ctx context.Context, g *grid.Grid, points []school.Point, params Params) ([]KDECell, float64, error) {
	h := params.Bandwidth
	twoH2 := 2 * h * h
	cutoff := math.Inf(1)
	if params.CutoffBandwidths > 0 {
		cutoff = params.CutoffBandwidths * h
	}
	normArea := math.Pi * h * h

	cells := make([]KDECell, 0, len(g.Cells))
	maxDensity := 0.0
	for _, c := range g.Cells {
		if c.Col == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		center := c.Center()
		density := 0.0
		for _, p := range points {
			d := geo.HaversineKM(center, p.LatLng())
			if d > cutoff {
				continue
			}
			density += multiplier(p, params) * math.Exp(-(d*d)/twoH2)
		}
		if density <= 0 {
			continue
		}
		if density > maxDensity {
			maxDensity = density
		}
		cells = append(cells, KDECell{
			CellRef:       refOf(c),
			Density:       density,
			DensityPerKM2: density / normArea,
		})
	}
	for i := range cells {
		cells[i].Intensity = cells[i].Density / maxDensity
	}
	return cells, maxDensity, nil
}

func multiplier(p school.Point, params Params) float64 {
	if p.Class == params.TargetClass {
		return params.TargetMultiplier
	}
	return params.DefaultMultiplier
}
