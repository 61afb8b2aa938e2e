package ingest

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/school"
)

// ReadShapefile reads a point shapefile, or a ZIP archive holding one. DBF
// attributes become record fields and the point becomes latitude/longitude.
// Shapes that are not points are skipped.
func ReadShapefile(path string) ([]school.Record, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return readShapefileZIP(path)
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	recs := []school.Record{}
	skipped := 0
	for reader.Next() {
		_, shape := reader.Shape()

		lat, lng, ok := pointOf(shape)
		if !ok {
			skipped++
			continue
		}

		rec := school.Record{"latitude": lat, "longitude": lng}
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val == "" {
				continue
			}
			// Geometry wins over attribute columns of the same name.
			if _, taken := rec[strings.ToLower(name)]; taken {
				continue
			}
			rec[name] = val
		}
		recs = append(recs, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "ingest: read shapefile %s", path)
	}

	if skipped > 0 {
		zap.L().Warn("ingest: skipped non-point shapes",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return recs, nil
}

func pointOf(shape shp.Shape) (lat, lng float64, ok bool) {
	switch p := shape.(type) {
	case *shp.Point:
		return p.Y, p.X, true
	case *shp.PointZ:
		return p.Y, p.X, true
	case *shp.PointM:
		return p.Y, p.X, true
	default:
		return 0, 0, false
	}
}

// readShapefileZIP extracts the archive to a temp dir and reads the first
// .shp in it. The .dbf and .shx must sit next to it in the archive.
func readShapefileZIP(path string) ([]school.Record, error) {
	dir, err := os.MkdirTemp("", "schoolmap-shp-*")
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	if err := extractZIP(path, dir); err != nil {
		return nil, err
	}
	shpPath, err := findFileByExt(dir, ".shp")
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: %s", path)
	}
	return ReadShapefile(shpPath)
}

// extractZIP flattens the archive's files into destDir.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrapf(err, "ingest: open zip %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		// Base drops any directory part, so entries cannot escape destDir.
		destPath := filepath.Join(destDir, filepath.Base(f.Name))
		if err := extractEntry(f, destPath); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "ingest: open zip entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return eris.Wrapf(err, "ingest: create %s", destPath)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "ingest: extract %s", f.Name)
	}
	return eris.Wrapf(out.Close(), "ingest: close %s", destPath)
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
