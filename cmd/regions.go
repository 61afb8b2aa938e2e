package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/schoolmap/internal/config"
	"github.com/sells-group/schoolmap/internal/indicator"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Build regions of influence around critical schools",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req, err := requestFromFlags(cmd, nil)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, config.ModeAnalyze)
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Engine.Regions(ctx, req)
		if err != nil {
			return eris.Wrap(err, "regions")
		}

		out := cmd.OutOrStdout()
		if jsonOutput(cmd) {
			return printJSON(out, rep)
		}

		fmt.Fprintf(out, "Version %d: %d seeds, %d regions (%s)\n", rep.Version, rep.Seeds, len(rep.Regions), rep.Status)
		if rep.Reason != "" {
			fmt.Fprintln(out, rep.Reason)
		}
		if len(rep.Skipped) > 0 {
			fmt.Fprintf(out, "Skipped seeds: %v\n", rep.Skipped)
		}
		if len(rep.Regions) == 0 {
			return nil
		}
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEED\tNAME\tSCHOOLS\tCRITICAL\tENROLLMENT\tAREA KM²\tIMPACT\tLEVEL")
		for _, r := range rep.Regions {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.2f\t%.1f\t%s\n",
				r.Seed.ID, truncate(r.Seed.Name, 40), r.Schools, r.Critical, r.Enrollment,
				r.AreaKM2, r.Impact.Score, r.Impact.Level)
		}
		return w.Flush()
	},
}

var closureCmd = &cobra.Command{
	Use:   "closure <seed-id>",
	Short: "Simulate closing a seed school and reallocating its students",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req, err := requestFromFlags(cmd, nil)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, config.ModeAnalyze)
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Engine.Closure(ctx, req, args[0])
		if err != nil {
			return eris.Wrapf(err, "closure %s", args[0])
		}

		out := cmd.OutOrStdout()
		if jsonOutput(cmd) {
			return printJSON(out, rep)
		}

		fmt.Fprintf(out, "Closing %s (%s): %d students displaced\n", rep.SeedName, rep.SeedID, rep.Displaced)
		fmt.Fprintf(out, "Receivers: %d, spare capacity %.0f\n", rep.Candidates, rep.TotalSpare)
		fmt.Fprintf(out, "Verdict: %s\n", rep.Verdict)
		if rep.Deficit > 0 {
			fmt.Fprintf(out, "Deficit: %.0f students (%d classrooms)\n", rep.Deficit, rep.Classrooms)
		}
		if len(rep.Allocations) == 0 {
			return nil
		}
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RECEIVER\tNAME\tKM\tCAPACITY\tENROLLMENT\tSPARE\tALLOCATED\tOVERLOAD %")
		for _, a := range rep.Allocations {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%d\t%.0f\t%.0f\t%.1f\n",
				a.ID, truncate(a.Name, 40), a.DistanceKM, a.Capacity, a.Enrollment,
				a.Spare, a.Allocated, a.OverloadPct)
		}
		return w.Flush()
	},
}

var ivcTop int

var ivcCmd = &cobra.Command{
	Use:   "ivc",
	Short: "Score school vulnerability (IVC)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req, err := requestFromFlags(cmd, nil)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, config.ModeAnalyze)
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Engine.Vulnerability(ctx, req)
		if err != nil {
			return eris.Wrap(err, "ivc")
		}

		out := cmd.OutOrStdout()
		scores := rep.Top(ivcTop)
		if jsonOutput(cmd) {
			return printJSON(out, scores)
		}

		fmt.Fprintf(out, "Version %d: %d schools scored (%s)\n", rep.Version, rep.Points, rep.Status)
		for _, lvl := range []string{indicator.LevelCritical, indicator.LevelHigh, indicator.LevelModerate, indicator.LevelLow, indicator.LevelMinimal} {
			if n, ok := rep.Levels[lvl]; ok {
				fmt.Fprintf(out, "  %-9s %d\n", lvl, n)
			}
		}
		if len(scores) == 0 {
			return nil
		}
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCLASS\tIVC\tLEVEL\tTIER\tNEIGHBORS")
		for _, s := range scores {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%d\n",
				s.ID, truncate(s.Name, 40), s.Class, s.Total, s.Level, s.Tier, s.Neighbors)
		}
		return w.Flush()
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	addRequestFlags(regionsCmd)
	addRequestFlags(closureCmd)
	addRequestFlags(ivcCmd)
	ivcCmd.Flags().IntVar(&ivcTop, "top", 20, "number of schools to list (0 for all)")
	rootCmd.AddCommand(regionsCmd, closureCmd, ivcCmd)
}
