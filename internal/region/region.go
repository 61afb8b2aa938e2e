// Package region builds approximate influence regions around seed schools
// and simulates closing a seed.
//
// A region is not a true Voronoi cell: its polygon is made of the midpoints
// between the seed and its nearest seeds, so regions may overlap or leave
// gaps. Every result is flagged Approximate. Neighbor search is O(seeds²)
// and membership is O(regions × points).
package region

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/school"
)

// MinSeeds is the smallest seed count that yields regions.
const MinSeeds = 3

// DefaultNeighbors is the number of nearest seeds used for a polygon.
const DefaultNeighbors = 3

// Options controls region construction.
type Options struct {
	SeedClass school.Class
	Neighbors int
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{SeedClass: school.ClassCritical, Neighbors: DefaultNeighbors}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SeedClass == "" {
		o.SeedClass = d.SeedClass
	}
	if o.Neighbors <= 0 {
		o.Neighbors = d.Neighbors
	}
	return o
}

// Region is the influence area of one seed.
type Region struct {
	Seed        school.Point   `json:"seed"`
	Neighbors   []string       `json:"neighbors"`
	Vertices    geo.Ring       `json:"vertices"`
	AreaKM2     float64        `json:"area_km2"`
	MemberIDs   []string       `json:"member_ids"`
	Members     []school.Point `json:"-"`
	Schools     int            `json:"schools"`
	Critical    int            `json:"critical"`
	CriticalPct float64        `json:"critical_pct"`
	Enrollment  int            `json:"enrollment"`
	Impact      Impact         `json:"impact"`
	Approximate bool           `json:"approximate"`
}

// Result is the output of Build.
type Result struct {
	Status      indicator.Status `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	Points      int              `json:"points"`
	Seeds       int              `json:"seeds"`
	Skipped     []string         `json:"skipped,omitempty"`
	Regions     []Region         `json:"regions"`
	Approximate bool             `json:"approximate"`
}

// Region returns the region seeded by id.
func (r *Result) Region(seedID string) (*Region, bool) {
	for i := range r.Regions {
		if r.Regions[i].Seed.ID == seedID {
			return &r.Regions[i], true
		}
	}
	return nil, false
}

// Build derives one region per seed-class point. With fewer than MinSeeds
// seeds the result is insufficient_data and holds no regions. Regions whose
// polygon collapses to fewer than three distinct vertices are skipped and
// listed in Skipped.
func Build(points []school.Point, opts Options) *Result {
	opts = opts.withDefaults()

	var seeds []school.Point
	for _, p := range points {
		if p.Class == opts.SeedClass {
			seeds = append(seeds, p)
		}
	}
	sort.SliceStable(seeds, func(i, j int) bool { return seeds[i].ID < seeds[j].ID })

	res := &Result{Points: len(points), Seeds: len(seeds), Approximate: true}
	if len(seeds) < MinSeeds {
		res.Status = indicator.StatusInsufficientData
		res.Reason = fmt.Sprintf("minimum %d seeds required, found %d", MinSeeds, len(seeds))
		return res
	}
	res.Status = indicator.StatusOK

	for i, seed := range seeds {
		neighbors := nearestSeeds(seeds, i, opts.Neighbors)
		ring := polygon(seed.LatLng(), seeds, neighbors)
		if len(ring) < 3 {
			zap.L().Debug("region: degenerate polygon", zap.String("seed", seed.ID))
			res.Skipped = append(res.Skipped, seed.ID)
			continue
		}

		reg := Region{
			Seed:        seed,
			Vertices:    ring,
			AreaKM2:     geo.RingAreaKM2(ring),
			Approximate: true,
		}
		for _, n := range neighbors {
			reg.Neighbors = append(reg.Neighbors, seeds[n].ID)
		}
		reg.collect(points)
		reg.Impact = ScoreImpact(reg.AreaKM2, reg.Enrollment, reg.CriticalPct, reg.Schools)
		res.Regions = append(res.Regions, reg)
	}
	return res
}

// nearestSeeds returns the indexes of the k seeds closest to seeds[i] in
// degree space, ties broken by id.
func nearestSeeds(seeds []school.Point, i, k int) []int {
	type cand struct {
		idx  int
		dist float64
	}
	origin := seeds[i].LatLng()
	cands := make([]cand, 0, len(seeds)-1)
	for j := range seeds {
		if j == i {
			continue
		}
		cands = append(cands, cand{idx: j, dist: geo.DegreeDistance(origin, seeds[j].LatLng())})
	}
	sort.SliceStable(cands, func(a, b int) bool {
		if cands[a].dist != cands[b].dist {
			return cands[a].dist < cands[b].dist
		}
		return seeds[cands[a].idx].ID < seeds[cands[b].idx].ID
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]int, len(cands))
	for n, c := range cands {
		out[n] = c.idx
	}
	return out
}

// polygon builds the clockwise region ring from the seed/neighbor
// midpoints. The ring need not contain the seed: seeds on the hull of the
// seed set get a ring that lies on their inner side. Only when fewer than
// three distinct midpoints exist, as with two neighbors, are the midpoints
// reflected through the seed to close a ring around it.
func polygon(seed geo.LatLng, seeds []school.Point, neighbors []int) geo.Ring {
	var mids []geo.LatLng
	for _, n := range neighbors {
		mids = append(mids, geo.Midpoint(seed, seeds[n].LatLng()))
	}

	ring := orderRing(seed, mids)
	if len(ring) >= 3 {
		return ring
	}
	for _, m := range ring {
		mids = append(mids, geo.LatLng{Lat: 2*seed.Lat - m.Lat, Lng: 2*seed.Lng - m.Lng})
	}
	return orderRing(seed, mids)
}

// orderRing drops coincident vertices and sorts the rest clockwise.
func orderRing(center geo.LatLng, vertices []geo.LatLng) geo.Ring {
	seen := make(map[[2]int64]bool, len(vertices))
	var ring geo.Ring
	for _, v := range vertices {
		key := [2]int64{int64(math.Round(v.Lat * 1e9)), int64(math.Round(v.Lng * 1e9))}
		if seen[key] || v == center {
			continue
		}
		seen[key] = true
		ring = append(ring, v)
	}
	geo.SortClockwise(center, ring)
	return ring
}

// collect fills the membership fields from every point inside the ring.
// The seed always belongs to its region. Critical counts the critical
// class whatever the seed class: the impact vulnerability term measures
// critical schools.
func (r *Region) collect(points []school.Point) {
	for _, p := range points {
		if p.ID != r.Seed.ID && !r.Vertices.Contains(p.LatLng()) {
			continue
		}
		r.Members = append(r.Members, p)
		r.MemberIDs = append(r.MemberIDs, p.ID)
		r.Enrollment += p.Enrollment
		if p.Class == school.ClassCritical {
			r.Critical++
		}
	}
	r.Schools = len(r.Members)
	if r.Schools > 0 {
		r.CriticalPct = float64(r.Critical) / float64(r.Schools) * 100
	}
}
