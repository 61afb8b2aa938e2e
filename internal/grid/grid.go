// Package grid partitions a bounding box into equal-size cells and bins
// school points into them. Grids are built fresh for every computation and
// never persisted.
package grid

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/school"
)

// DefaultCellSize is the default cell side in degrees (≈1.1 km).
const DefaultCellSize = 0.01

// DefaultMaxCells caps the cells of one grid when no limit is given.
const DefaultMaxCells = 250_000

// ErrTooManyCells is returned when bounds and cell size would need more
// cells than the limit allows.
var ErrTooManyCells = eris.New("grid: too many cells")

// Cell is one rectangular bin of the grid. A point belongs to the cell where
// south ≤ lat < north and west ≤ lng < east; the last row and column also
// accept points on the outer north/east edge of the grid.
type Cell struct {
	Row    int            `json:"row"`
	Col    int            `json:"col"`
	Bounds geo.BBox       `json:"bounds"`
	Count  int            `json:"count"`
	Weight float64        `json:"weight"`
	Points []school.Point `json:"-"`
}

// Center returns the degree-space center of the cell.
func (c *Cell) Center() geo.LatLng { return c.Bounds.Center() }

// AreaKM2 returns the planar-approximated cell area.
func (c *Cell) AreaKM2() float64 { return geo.PlanarAreaKM2(c.Bounds) }

// CountClass returns the number of points of the given class in the cell.
func (c *Cell) CountClass(class school.Class) int {
	n := 0
	for _, p := range c.Points {
		if p.Class == class {
			n++
		}
	}
	return n
}

// Fraction returns the share of points in the cell that have the given
// class, or 0 for an empty cell.
func (c *Cell) Fraction(class school.Class) float64 {
	if c.Count == 0 {
		return 0
	}
	return float64(c.CountClass(class)) / float64(c.Count)
}

// Grid is a row-major set of cells covering Bounds.
type Grid struct {
	Bounds   geo.BBox `json:"bounds"`
	CellSize float64  `json:"cell_size"`
	Rows     int      `json:"rows"`
	Cols     int      `json:"cols"`
	Cells    []*Cell  `json:"cells"`
}

// AssignStats reports the outcome of Assign.
type AssignStats struct {
	Assigned    int `json:"assigned"`
	OutOfBounds int `json:"out_of_bounds"`
}

// Build creates the cells covering bounds by stepping cellSize degrees from
// the south-west corner. The last partial row and column are kept. A bounds
// with zero height or width still yields one row or column of full size.
// Grids needing more than maxCells cells (DefaultMaxCells when maxCells <= 0)
// are rejected with ErrTooManyCells before anything is allocated.
func Build(bounds geo.BBox, cellSize float64, maxCells int) (*Grid, error) {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		return nil, eris.Errorf("grid: cell size must be positive, got %g", cellSize)
	}
	if err := bounds.Validate(); err != nil {
		return nil, eris.Wrap(err, "grid: build")
	}
	if err := CheckSize(bounds, cellSize, maxCells); err != nil {
		return nil, err
	}

	rows := steps(bounds.Height(), cellSize)
	cols := steps(bounds.Width(), cellSize)

	g := &Grid{
		Bounds:   bounds,
		CellSize: cellSize,
		Rows:     rows,
		Cols:     cols,
		Cells:    make([]*Cell, 0, rows*cols),
	}
	for r := 0; r < rows; r++ {
		south, north := edges(bounds.MinLat, bounds.MaxLat, cellSize, r, rows)
		for c := 0; c < cols; c++ {
			west, east := edges(bounds.MinLng, bounds.MaxLng, cellSize, c, cols)
			g.Cells = append(g.Cells, &Cell{
				Row: r,
				Col: c,
				Bounds: geo.BBox{
					MinLng: west, MinLat: south,
					MaxLng: east, MaxLat: north,
				},
			})
		}
	}
	return g, nil
}

// CheckSize returns ErrTooManyCells when a grid over bounds would exceed
// maxCells cells (DefaultMaxCells when maxCells <= 0). The count is taken in
// float64 so tiny cell sizes cannot overflow int.
func CheckSize(bounds geo.BBox, cellSize float64, maxCells int) error {
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}
	n := stepsF(bounds.Height(), cellSize) * stepsF(bounds.Width(), cellSize)
	if math.IsNaN(n) || n > float64(maxCells) {
		return eris.Wrapf(ErrTooManyCells, "%.0f cells of %g° exceed the limit of %d", n, cellSize, maxCells)
	}
	return nil
}

func stepsF(span, size float64) float64 {
	return math.Max(math.Ceil(span/size-1e-9), 1)
}

// steps returns how many cells of size fit in span, rounding partial cells
// up. The small epsilon absorbs floating-point noise on exact multiples.
func steps(span, size float64) int {
	return int(stepsF(span, size))
}

func edges(min, max, size float64, i, n int) (float64, float64) {
	lo := min + float64(i)*size
	hi := min + float64(i+1)*size
	if i == n-1 && max > lo {
		hi = max
	}
	return lo, hi
}

// Cell returns the cell at (row, col), or nil when out of range.
func (g *Grid) Cell(row, col int) *Cell {
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return nil
	}
	return g.Cells[row*g.Cols+col]
}

// Locate returns the cell containing p, or nil when p is outside the grid.
func (g *Grid) Locate(p geo.LatLng) *Cell {
	row, ok := index(p.Lat, g.Bounds.MinLat, g.CellSize, g.Rows, func(i int) (float64, float64) {
		c := g.Cells[i*g.Cols]
		return c.Bounds.MinLat, c.Bounds.MaxLat
	})
	if !ok {
		return nil
	}
	col, ok := index(p.Lng, g.Bounds.MinLng, g.CellSize, g.Cols, func(i int) (float64, float64) {
		c := g.Cells[i]
		return c.Bounds.MinLng, c.Bounds.MaxLng
	})
	if !ok {
		return nil
	}
	return g.Cell(row, col)
}

// index finds the half-open interval holding v. The arithmetic guess is
// corrected against the stored edges so Locate agrees with cell bounds.
func index(v, min, size float64, n int, span func(i int) (float64, float64)) (int, bool) {
	i := int(math.Floor((v - min) / size))
	if i == n {
		i = n - 1
	}
	if i < 0 || i >= n {
		return 0, false
	}
	lo, hi := span(i)
	if v < lo && i > 0 {
		i--
	} else if v >= hi && i < n-1 {
		i++
	}
	lo, hi = span(i)
	if v < lo || v > hi || (v == hi && i < n-1) {
		return 0, false
	}
	return i, true
}

// Assign bins each point into at most one cell, updating Count, Weight and
// Points. Points outside the grid are counted but otherwise ignored.
func (g *Grid) Assign(points []school.Point) AssignStats {
	var stats AssignStats
	for _, p := range points {
		c := g.Locate(p.LatLng())
		if c == nil {
			stats.OutOfBounds++
			continue
		}
		c.Count++
		c.Weight += p.Weight
		c.Points = append(c.Points, p)
		stats.Assigned++
	}
	return stats
}

// NonEmpty returns the cells holding at least one point, in row-major order.
func (g *Grid) NonEmpty() []*Cell {
	var out []*Cell
	for _, c := range g.Cells {
		if c.Count > 0 {
			out = append(out, c)
		}
	}
	return out
}

// ForPoints builds a grid over bounds, or over the points' extent when
// bounds is nil, and assigns the points to it. maxCells is passed to Build.
func ForPoints(points []school.Point, bounds *geo.BBox, cellSize float64, maxCells int) (*Grid, AssignStats, error) {
	var b geo.BBox
	if bounds != nil {
		b = *bounds
	} else {
		coords := make([]geo.LatLng, len(points))
		for i, p := range points {
			coords[i] = p.LatLng()
		}
		ext, ok := geo.Extent(coords)
		if !ok {
			return nil, AssignStats{}, eris.New("grid: no points to derive bounds from")
		}
		b = ext
	}
	g, err := Build(b, cellSize, maxCells)
	if err != nil {
		return nil, AssignStats{}, err
	}
	return g, g.Assign(points), nil
}
