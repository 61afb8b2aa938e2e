package analysis

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/ivc"
	"github.com/sells-group/schoolmap/internal/region"
	"github.com/sells-group/schoolmap/internal/school"
)

// RegionsReport is the region set of one data version.
type RegionsReport struct {
	Version int64 `json:"version"`
	*region.Result
}

// ClosureReport is one closure simulation.
type ClosureReport struct {
	Version int64 `json:"version"`
	*region.ClosureResult
}

// VulnerabilityReport holds the IVC scores of one data version.
type VulnerabilityReport struct {
	Version int64 `json:"version"`
	*ivc.Result
}

// Regions builds the influence regions of the points inside
// req.Params.Bounds (all points when unset).
func (e *Engine) Regions(ctx context.Context, req Request) (*RegionsReport, error) {
	if err := validateBounds(req); err != nil {
		return nil, err
	}
	data, err := e.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	key := cacheKey{Op: "regions", Version: data.Version, Params: boundsOnly(req), Extra: e.cfg.Regions}
	rep, err := cached(ctx, e, key, func() (*RegionsReport, error) {
		var res *region.Result
		e.observe("regions", func() indicator.Status {
			res = region.Build(inBounds(data.Points, req.Params.Bounds), e.cfg.Regions)
			return res.Status
		})
		return &RegionsReport{Version: data.Version, Result: res}, nil
	})
	if err != nil {
		return nil, err
	}
	hydrate(rep.Result, data.Points)
	return rep, nil
}

// hydrate restores region members, which are not serialized, from their
// ids.
func hydrate(res *region.Result, points []school.Point) {
	if res == nil {
		return
	}
	byID := make(map[string]school.Point, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}
	for i := range res.Regions {
		reg := &res.Regions[i]
		if len(reg.Members) == len(reg.MemberIDs) {
			continue
		}
		reg.Members = make([]school.Point, 0, len(reg.MemberIDs))
		for _, id := range reg.MemberIDs {
			if p, ok := byID[id]; ok {
				reg.Members = append(reg.Members, p)
			}
		}
	}
}

// Closure simulates closing the seed school seedID. It returns ErrNotFound
// when no region is seeded by seedID.
func (e *Engine) Closure(ctx context.Context, req Request, seedID string) (*ClosureReport, error) {
	regions, err := e.Regions(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, ok := regions.Region(seedID); !ok {
		return nil, eris.Wrapf(ErrNotFound, "analysis: seed %q", seedID)
	}

	start := time.Now()
	res, err := regions.Closure(seedID, e.cfg.Closure)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: closure")
	}
	e.metrics.ObserveCompute("closure", string(res.Status), time.Since(start))
	return &ClosureReport{Version: regions.Version, ClosureResult: res}, nil
}

// Vulnerability scores every point inside req.Params.Bounds.
func (e *Engine) Vulnerability(ctx context.Context, req Request) (*VulnerabilityReport, error) {
	if err := validateBounds(req); err != nil {
		return nil, err
	}
	data, err := e.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	key := cacheKey{Op: "ivc", Version: data.Version, Params: boundsOnly(req), Extra: e.cfg.IVC}
	return cached(ctx, e, key, func() (*VulnerabilityReport, error) {
		var res *ivc.Result
		e.observe("ivc", func() indicator.Status {
			res = ivc.Compute(inBounds(data.Points, req.Params.Bounds), e.cfg.IVC)
			return res.Status
		})
		return &VulnerabilityReport{Version: data.Version, Result: res}, nil
	})
}

// boundsOnly keeps the only request field regions and IVC depend on.
func boundsOnly(req Request) indicator.Params {
	return indicator.Params{Bounds: req.Params.Bounds}
}

func validateBounds(req Request) error {
	if req.Params.Bounds == nil {
		return nil
	}
	if err := req.Params.Bounds.Validate(); err != nil {
		return eris.Wrap(ErrInvalidRequest, err.Error())
	}
	return nil
}
