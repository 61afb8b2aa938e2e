package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/schoolmap/internal/analysis"
	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/school"
	"github.com/sells-group/schoolmap/internal/server"
)

// addRequestFlags registers the parameter overrides shared by the analysis
// commands. Zero values keep the configured defaults.
func addRequestFlags(c *cobra.Command) {
	c.Flags().String("bbox", "", "limit to minLng,minLat,maxLng,maxLat")
	c.Flags().Float64("cell", 0, "grid cell size in degrees")
	c.Flags().Float64("bandwidth", 0, "KDE bandwidth in km")
	c.Flags().String("class", "", "target class")
	c.Flags().Bool("json", false, "print JSON instead of a table")
}

// requestFromFlags builds a Request from the flags added by addRequestFlags.
func requestFromFlags(c *cobra.Command, kinds []string) (analysis.Request, error) {
	var req analysis.Request

	bbox, _ := c.Flags().GetString("bbox")
	if bbox != "" {
		b, err := server.ParseBBox(bbox)
		if err != nil {
			return req, eris.Wrap(err, "parse --bbox")
		}
		req.Params.Bounds = b
	}

	req.Params.CellSize, _ = c.Flags().GetFloat64("cell")
	req.Params.Bandwidth, _ = c.Flags().GetFloat64("bandwidth")
	if req.Params.CellSize < 0 || req.Params.Bandwidth < 0 {
		return req, eris.New("--cell and --bandwidth must be positive")
	}

	class, _ := c.Flags().GetString("class")
	if class != "" {
		cl, err := school.ParseClass(class)
		if err != nil {
			return req, eris.Wrap(err, "parse --class")
		}
		req.Params.TargetClass = cl
	}

	for _, k := range kinds {
		kind, err := indicator.ParseKind(k)
		if err != nil {
			return req, err
		}
		req.Kinds = append(req.Kinds, kind)
	}

	return req, nil
}

func jsonOutput(c *cobra.Command) bool {
	v, _ := c.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
