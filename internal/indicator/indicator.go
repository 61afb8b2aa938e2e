// Package indicator computes the grid-based spatial statistics of the
// engine: kernel density (KDE), Location Quotient (LQ), Gini, Moran's I and
// the composite saturation index (ISS).
//
// Every function is a pure function of (points, params): nothing is cached
// or shared between calls, so identical inputs give identical outputs and
// concurrent calls are safe. Data conditions such as an empty point set are
// reported through Meta.Status, never as errors; errors are reserved for
// invalid parameters.
//
// KDE is O(cells × points) and Moran's I is O(cells²). Both are sized for
// hundreds of schools per view; larger inputs need a spatial index.
package indicator

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/grid"
	"github.com/sells-group/schoolmap/internal/school"
)

// Kind selects an indicator.
type Kind string

// Indicator kinds.
const (
	KindKDE   Kind = "kde"
	KindLQ    Kind = "lq"
	KindGini  Kind = "gini"
	KindMoran Kind = "moran"
	KindISS   Kind = "iss"
)

// Kinds lists every indicator kind.
var Kinds = []Kind{KindKDE, KindLQ, KindGini, KindMoran, KindISS}

// ParseKind validates an indicator name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", eris.Errorf("indicator: unknown kind %q", s)
}

// Status tells callers whether a result carries data.
type Status string

// Result statuses.
const (
	StatusOK               Status = "ok"
	StatusNoData           Status = "no_data"
	StatusInsufficientData Status = "insufficient_data"
)

// Meta describes the inputs a result was computed from.
type Meta struct {
	Status        Status   `json:"status"`
	Reason        string   `json:"reason,omitempty"`
	Points        int      `json:"points"`
	Assigned      int      `json:"assigned"`
	OutOfBounds   int      `json:"out_of_bounds"`
	Cells         int      `json:"cells"`
	NonEmptyCells int      `json:"non_empty_cells"`
	Bounds        geo.BBox `json:"bounds"`
	CellSize      float64  `json:"cell_size"`
}

// OK reports whether the result carries data.
func (m Meta) OK() bool { return m.Status == StatusOK }

// CellRef identifies the grid cell an output row belongs to.
type CellRef struct {
	Row    int        `json:"row"`
	Col    int        `json:"col"`
	Bounds geo.BBox   `json:"bounds"`
	Center geo.LatLng `json:"center"`
	Count  int        `json:"count"`
}

func refOf(c *grid.Cell) CellRef {
	return CellRef{Row: c.Row, Col: c.Col, Bounds: c.Bounds, Center: c.Center(), Count: c.Count}
}

// Params holds the inputs shared by all indicators.
type Params struct {
	// Bounds limits the grid. When nil the extent of the points is used.
	Bounds *geo.BBox `json:"bounds,omitempty"`
	// CellSize is the grid cell side in degrees.
	CellSize float64 `json:"cell_size"`
	// TargetClass is the class measured by LQ, Gini, Moran and ISS and
	// boosted by the KDE multiplier.
	TargetClass school.Class `json:"target_class"`
	// Bandwidth is the KDE Gaussian bandwidth in km.
	Bandwidth float64 `json:"bandwidth"`
	// TargetMultiplier weights target-class points in KDE.
	TargetMultiplier float64 `json:"target_multiplier"`
	// DefaultMultiplier weights every other point in KDE.
	DefaultMultiplier float64 `json:"default_multiplier"`
	// CutoffBandwidths ignores KDE contributions farther than this many
	// bandwidths. Zero disables the cutoff.
	CutoffBandwidths float64 `json:"cutoff_bandwidths"`
	// MaxCells caps the grid size. Requests needing more cells fail with
	// grid.ErrTooManyCells.
	MaxCells int `json:"max_cells"`
}

// DefaultParams returns the engine defaults.
func DefaultParams() Params {
	return Params{
		CellSize:          grid.DefaultCellSize,
		TargetClass:       school.ClassCritical,
		Bandwidth:         1.0,
		TargetMultiplier:  2.0,
		DefaultMultiplier: 1.0,
		CutoffBandwidths:  3.0,
		MaxCells:          grid.DefaultMaxCells,
	}
}

// WithDefaults fills zero fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.CellSize == 0 {
		p.CellSize = d.CellSize
	}
	if p.TargetClass == "" {
		p.TargetClass = d.TargetClass
	}
	if p.Bandwidth == 0 {
		p.Bandwidth = d.Bandwidth
	}
	if p.TargetMultiplier == 0 {
		p.TargetMultiplier = d.TargetMultiplier
	}
	if p.DefaultMultiplier == 0 {
		p.DefaultMultiplier = d.DefaultMultiplier
	}
	if p.MaxCells == 0 {
		p.MaxCells = d.MaxCells
	}
	return p
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if p.CellSize <= 0 {
		return eris.Errorf("indicator: cell size must be positive, got %g", p.CellSize)
	}
	if p.Bandwidth <= 0 {
		return eris.Errorf("indicator: bandwidth must be positive, got %g", p.Bandwidth)
	}
	if !p.TargetClass.Valid() {
		return eris.Errorf("indicator: unknown target class %q", p.TargetClass)
	}
	if p.CutoffBandwidths < 0 {
		return eris.Errorf("indicator: cutoff must not be negative, got %g", p.CutoffBandwidths)
	}
	if p.MaxCells < 0 {
		return eris.Errorf("indicator: max cells must not be negative, got %d", p.MaxCells)
	}
	if p.Bounds != nil {
		if err := p.Bounds.Validate(); err != nil {
			return eris.Wrap(err, "indicator: bounds")
		}
		if err := grid.CheckSize(*p.Bounds, p.CellSize, p.MaxCells); err != nil {
			return err
		}
	}
	return nil
}

// Result is implemented by every indicator output.
type Result interface {
	Kind() Kind
	Metadata() Meta
}

// Compute dispatches to the indicator named by kind. KDE, ISS and Moran stop
// early once ctx is done; the linear indicators ignore it.
func Compute(ctx context.Context, kind Kind, points []school.Point, params Params) (Result, error) {
	switch kind {
	case KindKDE:
		return KDE(ctx, points, params)
	case KindLQ:
		return LQ(ctx, points, params)
	case KindGini:
		return Gini(ctx, points, params)
	case KindMoran:
		return Moran(ctx, points, params)
	case KindISS:
		return ISS(ctx, points, params)
	default:
		return nil, eris.Errorf("indicator: unknown kind %q", kind)
	}
}

// prepare validates params and bins the points. A nil grid with a non-OK
// meta means there is nothing to compute.
func prepare(points []school.Point, params Params) (*grid.Grid, Params, Meta, error) {
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, params, Meta{}, err
	}

	meta := Meta{Points: len(points), CellSize: params.CellSize}
	if params.Bounds != nil {
		meta.Bounds = *params.Bounds
	}
	if len(points) == 0 {
		meta.Status = StatusNoData
		meta.Reason = "no points"
		return nil, params, meta, nil
	}

	g, stats, err := grid.ForPoints(points, params.Bounds, params.CellSize, params.MaxCells)
	if err != nil {
		return nil, params, meta, err
	}
	meta.Bounds = g.Bounds
	meta.Assigned = stats.Assigned
	meta.OutOfBounds = stats.OutOfBounds
	meta.Cells = len(g.Cells)
	meta.NonEmptyCells = len(g.NonEmpty())
	meta.Status = StatusOK
	if stats.Assigned == 0 {
		meta.Status = StatusNoData
		meta.Reason = "no points inside bounds"
	}
	return g, params, meta, nil
}
