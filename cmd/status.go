package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored records per source and the data version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.Counts(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		out := cmd.OutOrStdout()
		if v, _ := cmd.Flags().GetBool("json"); v {
			return printJSON(out, counts)
		}

		fmt.Fprintf(out, "Records: %d  Version: %d", counts.Records, counts.Version)
		if counts.ChangedAt != nil {
			fmt.Fprintf(out, "  Changed: %s", counts.ChangedAt.Format(time.RFC3339))
		}
		fmt.Fprintln(out)
		if len(counts.Sources) == 0 {
			fmt.Fprintln(out, "No records imported.")
			return nil
		}
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tRECORDS\tUPDATED")
		for _, s := range counts.Sources {
			updated := "-"
			if s.UpdatedAt != nil {
				updated = s.UpdatedAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%d\t%s\n", s.Source, s.Records, updated)
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print JSON instead of a table")
	rootCmd.AddCommand(statusCmd)
}
