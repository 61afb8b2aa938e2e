package region

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/school"
)

// Closure verdicts.
const (
	VerdictSufficient   = "sufficient"
	VerdictInsufficient = "insufficient"
)

// ClosureOptions controls the reallocation simulation.
type ClosureOptions struct {
	MaxReceivers    int            `json:"max_receivers"`
	SafetyMargin    float64        `json:"safety_margin"`
	DefaultCapacity int            `json:"default_capacity"`
	Capacities      map[string]int `json:"capacities,omitempty"`
	ClassroomSize   int            `json:"classroom_size"`
}

// DefaultClosureOptions returns the standard settings.
func DefaultClosureOptions() ClosureOptions {
	return ClosureOptions{
		MaxReceivers:    5,
		SafetyMargin:    0.9,
		DefaultCapacity: 200,
		ClassroomSize:   200,
	}
}

func (o ClosureOptions) withDefaults() ClosureOptions {
	d := DefaultClosureOptions()
	if o.MaxReceivers <= 0 {
		o.MaxReceivers = d.MaxReceivers
	}
	if o.SafetyMargin <= 0 {
		o.SafetyMargin = d.SafetyMargin
	}
	if o.DefaultCapacity <= 0 {
		o.DefaultCapacity = d.DefaultCapacity
	}
	if o.ClassroomSize <= 0 {
		o.ClassroomSize = d.ClassroomSize
	}
	return o
}

// Capacity returns the capacity for a school type, case-insensitively,
// falling back to DefaultCapacity.
func (o ClosureOptions) Capacity(schoolType string) int {
	key := strings.ToLower(strings.TrimSpace(schoolType))
	for k, v := range o.Capacities {
		if strings.ToLower(k) == key && v > 0 {
			return v
		}
	}
	return o.DefaultCapacity
}

// Allocation is the share of displaced students sent to one receiver.
type Allocation struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	DistanceKM  float64 `json:"distance_km"`
	Capacity    int     `json:"capacity"`
	Enrollment  int     `json:"enrollment"`
	Spare       float64 `json:"spare"`
	Allocated   float64 `json:"allocated"`
	OverloadPct float64 `json:"overload_pct"`
}

// ClosureResult reports whether neighbors can absorb a closed school.
type ClosureResult struct {
	Status      indicator.Status `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	SeedID      string           `json:"seed_id"`
	SeedName    string           `json:"seed_name"`
	Displaced   int              `json:"displaced"`
	Candidates  int              `json:"candidates"`
	TotalSpare  float64          `json:"total_spare"`
	Allocations []Allocation     `json:"allocations"`
	Verdict     string           `json:"verdict"`
	Deficit     float64          `json:"deficit"`
	Classrooms  int              `json:"classrooms"`
}

// Closure simulates closing the seed of the named region, using the other
// region members as receivers.
func (r *Result) Closure(seedID string, opts ClosureOptions) (*ClosureResult, error) {
	reg, ok := r.Region(seedID)
	if !ok {
		return nil, eris.Errorf("region: no region for seed %q", seedID)
	}
	return SimulateClosure(reg.Seed, reg.Members, opts), nil
}

// SimulateClosure reallocates the closed school's enrollment to the nearest
// candidates (the closed school itself is ignored) in proportion to their
// spare capacity. Spare capacity is max(capacity − enrollment, 0) scaled by
// the safety margin. The verdict is sufficient when the receivers' total
// spare capacity covers the displaced enrollment; otherwise the deficit and
// the classrooms needed to absorb it are reported.
func SimulateClosure(closed school.Point, candidates []school.Point, opts ClosureOptions) *ClosureResult {
	opts = opts.withDefaults()
	res := &ClosureResult{
		Status:    indicator.StatusOK,
		SeedID:    closed.ID,
		SeedName:  closed.Name,
		Displaced: closed.Enrollment,
	}

	for _, p := range candidates {
		if p.ID == closed.ID {
			continue
		}
		capacity := opts.Capacity(p.Type)
		spare := math.Max(float64(capacity-p.Enrollment), 0) * opts.SafetyMargin
		res.Allocations = append(res.Allocations, Allocation{
			ID:         p.ID,
			Name:       p.Name,
			DistanceKM: geo.HaversineKM(closed.LatLng(), p.LatLng()),
			Capacity:   capacity,
			Enrollment: p.Enrollment,
			Spare:      spare,
		})
	}
	res.Candidates = len(res.Allocations)
	sort.SliceStable(res.Allocations, func(i, j int) bool {
		if res.Allocations[i].DistanceKM != res.Allocations[j].DistanceKM {
			return res.Allocations[i].DistanceKM < res.Allocations[j].DistanceKM
		}
		return res.Allocations[i].ID < res.Allocations[j].ID
	})
	if len(res.Allocations) > opts.MaxReceivers {
		res.Allocations = res.Allocations[:opts.MaxReceivers]
	}
	if len(res.Allocations) == 0 {
		res.Reason = "no receiving schools in region"
	}

	for _, a := range res.Allocations {
		res.TotalSpare += a.Spare
	}
	displaced := float64(res.Displaced)
	for i := range res.Allocations {
		a := &res.Allocations[i]
		if res.TotalSpare > 0 {
			a.Allocated = displaced * a.Spare / res.TotalSpare
		}
		if a.Capacity > 0 {
			load := float64(a.Enrollment) + a.Allocated
			a.OverloadPct = math.Max(0, (load-float64(a.Capacity))/float64(a.Capacity)*100)
		}
	}

	if res.TotalSpare >= displaced {
		res.Verdict = VerdictSufficient
		return res
	}
	res.Verdict = VerdictInsufficient
	res.Deficit = displaced - res.TotalSpare
	res.Classrooms = int(math.Ceil(res.Deficit / float64(opts.ClassroomSize)))
	return res
}
