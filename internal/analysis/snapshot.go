package analysis

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/school"
)

// Snapshot bundles the indicator results of one request.
type Snapshot struct {
	Version    int64            `json:"version"`
	Points     int              `json:"points"`
	Dropped    int              `json:"dropped"`
	Duplicates int              `json:"duplicates"`
	Bounds     geo.BBox         `json:"bounds"`
	Params     indicator.Params `json:"params"`
	Classes    map[string]int   `json:"classes"`

	KDE   *indicator.KDEResult   `json:"kde,omitempty"`
	LQ    *indicator.LQResult    `json:"lq,omitempty"`
	Gini  *indicator.GiniResult  `json:"gini,omitempty"`
	Moran *indicator.MoranResult `json:"moran,omitempty"`
	ISS   *indicator.ISSResult   `json:"iss,omitempty"`
}

// Result returns the result for kind, or nil when it was not requested.
func (s *Snapshot) Result(kind indicator.Kind) indicator.Result {
	switch kind {
	case indicator.KindKDE:
		if s.KDE != nil {
			return s.KDE
		}
	case indicator.KindLQ:
		if s.LQ != nil {
			return s.LQ
		}
	case indicator.KindGini:
		if s.Gini != nil {
			return s.Gini
		}
	case indicator.KindMoran:
		if s.Moran != nil {
			return s.Moran
		}
	case indicator.KindISS:
		if s.ISS != nil {
			return s.ISS
		}
	}
	return nil
}

func (s *Snapshot) set(r indicator.Result) {
	switch v := r.(type) {
	case *indicator.KDEResult:
		s.KDE = v
	case *indicator.LQResult:
		s.LQ = v
	case *indicator.GiniResult:
		s.Gini = v
	case *indicator.MoranResult:
		s.Moran = v
	case *indicator.ISSResult:
		s.ISS = v
	}
}

// kinds deduplicates and orders the requested kinds. An empty request
// selects every kind.
func kinds(req []indicator.Kind) ([]indicator.Kind, error) {
	if len(req) == 0 {
		return slices.Clone(indicator.Kinds), nil
	}
	var out []indicator.Kind
	for _, k := range indicator.Kinds {
		if slices.Contains(req, k) {
			out = append(out, k)
		}
	}
	for _, k := range req {
		if !slices.Contains(indicator.Kinds, k) {
			return nil, eris.Wrapf(ErrInvalidRequest, "unknown indicator %q", k)
		}
	}
	return out, nil
}

// Snapshot computes the requested indicators (all of them when req.Kinds is
// empty) over the current dataset.
func (e *Engine) Snapshot(ctx context.Context, req Request) (*Snapshot, error) {
	ks, err := kinds(req.Kinds)
	if err != nil {
		return nil, err
	}
	params := e.params(req.Params)
	if err := params.Validate(); err != nil {
		return nil, eris.Wrap(ErrInvalidRequest, err.Error())
	}

	data, err := e.Dataset(ctx)
	if err != nil {
		return nil, err
	}

	key := cacheKey{Op: "snapshot", Version: data.Version, Kinds: ks, Params: params}
	return cached(ctx, e, key, func() (*Snapshot, error) {
		results, err := e.compute(ctx, data.Points, ks, params)
		if err != nil {
			return nil, err
		}
		snap := &Snapshot{
			Version:    data.Version,
			Points:     len(data.Points),
			Dropped:    data.Dropped,
			Duplicates: data.Duplicates,
			Params:     params,
			Classes:    classCounts(data.Points),
		}
		for _, r := range results {
			snap.set(r)
		}
		if len(results) > 0 {
			snap.Bounds = results[0].Metadata().Bounds
		}
		return snap, nil
	})
}

func classCounts(points []school.Point) map[string]int {
	out := make(map[string]int, len(school.Classes))
	for _, c := range school.Classes {
		out[string(c)] = 0
	}
	for _, p := range points {
		out[string(p.Class)]++
	}
	return out
}
