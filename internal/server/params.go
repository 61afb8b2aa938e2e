package server

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/analysis"
	"github.com/sells-group/schoolmap/internal/geo"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/school"
)

// ParseBBox parses "minLng,minLat,maxLng,maxLat".
func ParseBBox(s string) (*geo.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, eris.Errorf("bbox must have 4 comma-separated values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, eris.Errorf("bbox value %q is not a number", p)
		}
		v[i] = f
	}
	b := geo.BBox{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func parseFloat(q url.Values, name string) (float64, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Errorf("%s must be a number, got %q", name, raw)
	}
	if f <= 0 {
		return 0, eris.Errorf("%s must be positive, got %q", name, raw)
	}
	return f, nil
}

// parseRequest reads the shared query parameters: bbox, cell, bandwidth,
// class, cutoff and kinds.
func parseRequest(q url.Values) (analysis.Request, error) {
	var req analysis.Request
	var err error

	if raw := q.Get("bbox"); raw != "" {
		if req.Params.Bounds, err = ParseBBox(raw); err != nil {
			return req, err
		}
	}
	if req.Params.CellSize, err = parseFloat(q, "cell"); err != nil {
		return req, err
	}
	if req.Params.Bandwidth, err = parseFloat(q, "bandwidth"); err != nil {
		return req, err
	}
	if req.Params.CutoffBandwidths, err = parseFloat(q, "cutoff"); err != nil {
		return req, err
	}
	if raw := q.Get("class"); raw != "" {
		if req.Params.TargetClass, err = school.ParseClass(raw); err != nil {
			return req, err
		}
	}
	if raw := q.Get("kinds"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			k, err := indicator.ParseKind(strings.TrimSpace(name))
			if err != nil {
				return req, err
			}
			req.Kinds = append(req.Kinds, k)
		}
	}
	return req, nil
}
