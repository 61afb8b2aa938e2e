package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/config"
	"github.com/sells-group/schoolmap/internal/report"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export results as a GeoJSON layer or an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		layerName, _ := cmd.Flags().GetString("layer")
		outPath, _ := cmd.Flags().GetString("out")

		var layers []report.Layer
		switch format {
		case "geojson":
			if layerName == "" {
				return eris.New("--layer is required for geojson export")
			}
			layer, err := report.ParseLayer(layerName)
			if err != nil {
				return err
			}
			layers = []report.Layer{layer}
		case "xlsx":
			if outPath == "" {
				return eris.New("--out is required for xlsx export")
			}
		default:
			return eris.Errorf("unsupported export format %q (want geojson or xlsx)", format)
		}

		req, err := requestFromFlags(cmd, nil)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, config.ModeAnalyze)
		if err != nil {
			return err
		}
		defer env.Close()

		b, err := report.Build(ctx, env.Engine, req, layers...)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		var out io.Writer = cmd.OutOrStdout()
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return eris.Wrap(err, "create export file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		if format == "xlsx" {
			err = report.WriteXLSX(out, b)
		} else {
			fc, lerr := b.Layer(layers[0])
			if lerr != nil {
				return lerr
			}
			err = report.WriteGeoJSON(out, fc)
		}
		if err != nil {
			return err
		}

		if outPath != "" {
			zap.L().Info("export complete", zap.String("format", format), zap.String("file", outPath))
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "geojson", "geojson or xlsx")
	exportCmd.Flags().String("layer", "", "GeoJSON layer: kde, lq, iss, regions, vulnerability or points")
	exportCmd.Flags().String("out", "", "output file (default stdout for geojson)")
	addRequestFlags(exportCmd)
	rootCmd.AddCommand(exportCmd)
}
