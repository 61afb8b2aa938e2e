package main

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/fetcher"
	"github.com/sells-group/schoolmap/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import <file|url>",
	Short: "Import school records from JSON, GeoJSON, CSV, XLSX or a shapefile",
	Long:  "Reads raw school records from a local file or an http(s) URL and stores them under a source name. Records keep their original fields; normalization happens at analysis time.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		file := args[0]

		source, _ := cmd.Flags().GetString("source")
		if source == "" {
			source = sourceName(file)
		}
		format, _ := cmd.Flags().GetString("format")
		sheet, _ := cmd.Flags().GetString("sheet")
		delimiter, _ := cmd.Flags().GetString("delimiter")
		replace, _ := cmd.Flags().GetBool("replace")

		opts := ingest.Options{Format: ingest.Format(format), Sheet: sheet}
		if delimiter != "" {
			r := []rune(delimiter)
			if len(r) != 1 {
				return eris.New("--delimiter must be a single character")
			}
			opts.Delimiter = r[0]
		}

		if fetcher.IsURL(file) {
			f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
				UserAgent:         cfg.Fetch.UserAgent,
				Timeout:           time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
				MaxRetries:        cfg.Fetch.MaxRetries,
				RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
			})
			local, cleanup, err := fetcher.ToTemp(ctx, f, file)
			if err != nil {
				return eris.Wrapf(err, "fetch %s", file)
			}
			defer cleanup()
			zap.L().Info("downloaded import file", zap.String("url", file))
			file = local
		}

		recs, err := ingest.ReadFile(ctx, file, opts)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if replace {
			removed, err := st.DeleteSource(ctx, source)
			if err != nil {
				return eris.Wrapf(err, "replace source %s", source)
			}
			zap.L().Info("removed previous records", zap.String("source", source), zap.Int("removed", removed))
		}

		written, err := st.UpsertRecords(ctx, source, recs)
		if err != nil {
			return eris.Wrapf(err, "store records from %s", file)
		}

		zap.L().Info("import complete",
			zap.String("file", args[0]),
			zap.String("source", source),
			zap.Int("read", len(recs)),
			zap.Int("written", written),
		)
		return nil
	},
}

// sourceName derives a source from a file path or URL: the base name
// without its extension.
func sourceName(arg string) string {
	name := filepath.Base(arg)
	if fetcher.IsURL(arg) {
		if u, err := url.Parse(arg); err == nil {
			name = path.Base(u.Path)
		}
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

func init() {
	importCmd.Flags().String("source", "", "source name (default: file name without extension)")
	importCmd.Flags().String("format", "", "json, geojson, csv, xlsx or shp (default: from extension)")
	importCmd.Flags().String("sheet", "", "XLSX sheet name (default: first sheet)")
	importCmd.Flags().String("delimiter", "", "CSV delimiter (default: sniffed)")
	importCmd.Flags().Bool("replace", false, "delete the source's existing records first")
	rootCmd.AddCommand(importCmd)
}
