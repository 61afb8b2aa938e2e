// Package ingest reads raw school records from files. Every reader returns
// untyped records; turning them into points is the normalizer's job.
package ingest

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/school"
)

// Format names a supported file format.
type Format string

// Supported formats.
const (
	FormatJSON      Format = "json"
	FormatGeoJSON   Format = "geojson"
	FormatCSV       Format = "csv"
	FormatXLSX      Format = "xlsx"
	FormatShapefile Format = "shp"
)

// Options tunes the readers. Zero values pick per-format defaults.
type Options struct {
	// Format overrides detection from the file extension.
	Format Format
	// Delimiter is the CSV field separator. Zero sniffs ',' or ';' from
	// the header line.
	Delimiter rune
	// Sheet selects an XLSX sheet by name; empty means the first sheet.
	Sheet string
}

// DetectFormat maps a file extension to a Format.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".geojson":
		return FormatGeoJSON, nil
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".shp", ".zip":
		return FormatShapefile, nil
	default:
		return "", eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}
}

// ReadFile reads every record of path.
func ReadFile(ctx context.Context, path string, opts Options) ([]school.Record, error) {
	format := opts.Format
	if format == "" {
		var err error
		if format, err = DetectFormat(path); err != nil {
			return nil, err
		}
	}

	switch format {
	case FormatJSON:
		return ReadJSONFile(ctx, path)
	case FormatGeoJSON:
		return ReadGeoJSONFile(path)
	case FormatCSV:
		return ReadCSVFile(ctx, path, opts.Delimiter)
	case FormatXLSX:
		return ReadXLSX(path, opts.Sheet)
	case FormatShapefile:
		return ReadShapefile(path)
	default:
		return nil, eris.Errorf("ingest: unsupported format %q", format)
	}
}

// headerRecord zips a header row with a data row. Empty cells are left out
// so the normalizer sees them as missing.
func headerRecord(header, row []string) school.Record {
	rec := make(school.Record, len(header))
	for i, name := range header {
		if name == "" || i >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[i])
		if v == "" {
			continue
		}
		rec[name] = v
	}
	return rec
}

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return out
}
