package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/schoolmap/internal/analysis"
	"github.com/sells-group/schoolmap/internal/config"
	"github.com/sells-group/schoolmap/internal/indicator"
)

var analyzeCmd = &cobra.Command{
	Use:       "analyze [kind...]",
	Short:     "Compute spatial indicators",
	Long:      "Computes the requested indicators (kde, lq, gini, moran, iss) over the stored records. With no kinds every indicator is computed.",
	ValidArgs: []string{"kde", "lq", "gini", "moran", "iss"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req, err := requestFromFlags(cmd, args)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, config.ModeAnalyze)
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Engine.Snapshot(ctx, req)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		out := cmd.OutOrStdout()
		if jsonOutput(cmd) {
			return printJSON(out, snap)
		}
		printSnapshot(out, snap)
		return nil
	},
}

func printSnapshot(out io.Writer, snap *analysis.Snapshot) {
	fmt.Fprintf(out, "Version %d: %d points (%d dropped, %d duplicates)\n",
		snap.Version, snap.Points, snap.Dropped, snap.Duplicates)
	fmt.Fprintf(out, "Bounds: %.5f,%.5f,%.5f,%.5f  cell %.4f°  target %s\n\n",
		snap.Bounds.MinLng, snap.Bounds.MinLat, snap.Bounds.MaxLng, snap.Bounds.MaxLat,
		snap.Params.CellSize, snap.Params.TargetClass)

	classes := make([]string, 0, len(snap.Classes))
	for c := range snap.Classes {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLASS\tSCHOOLS")
	for _, c := range classes {
		fmt.Fprintf(w, "%s\t%d\n", c, snap.Classes[c])
	}
	_ = w.Flush()
	fmt.Fprintln(out)

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDICATOR\tSTATUS\tCELLS\tRESULT")
	for _, kind := range indicator.Kinds {
		res := snap.Result(kind)
		if res == nil {
			continue
		}
		meta := res.Metadata()
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n", kind, meta.Status, meta.NonEmptyCells, meta.Cells, headline(res))
	}
	_ = w.Flush()
}

// headline summarizes a result in one line.
func headline(res indicator.Result) string {
	if !res.Metadata().OK() {
		return res.Metadata().Reason
	}
	switch r := res.(type) {
	case *indicator.KDEResult:
		return fmt.Sprintf("max density %.4f (h=%.2f km)", r.Max, r.Bandwidth)
	case *indicator.LQResult:
		if r.ZeroReference {
			return "no target-class schools"
		}
		return fmt.Sprintf("reference share %.3f", r.Reference)
	case *indicator.GiniResult:
		return fmt.Sprintf("G=%.3f (%s)", r.Gini, r.Level)
	case *indicator.MoranResult:
		return fmt.Sprintf("I=%.4f z=%.2f %s, %s", r.I, r.Z, r.Significance, r.Pattern)
	case *indicator.ISSResult:
		best := 0.0
		for _, c := range r.Cells {
			if c.Score > best {
				best = c.Score
			}
		}
		return fmt.Sprintf("max ISS %.1f over %d cells", best, len(r.Cells))
	}
	return ""
}

func init() {
	addRequestFlags(analyzeCmd)
	rootCmd.AddCommand(analyzeCmd)
}
