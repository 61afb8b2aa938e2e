package report

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/schoolmap/internal/indicator"
	"github.com/sells-group/schoolmap/internal/school"
)

// Sheet names written by WriteXLSX.
const (
	SheetSummary       = "Summary"
	SheetKDE           = "KDE"
	SheetLQ            = "LQ"
	SheetISS           = "ISS"
	SheetRegions       = "Regions"
	SheetVulnerability = "Vulnerability"
	SheetSchools       = "Schools"
)

// WriteXLSX writes one sheet per result present in b, preceded by a summary
// sheet.
func WriteXLSX(w io.Writer, b *Bundle) error {
	f := xlsx.NewFile()

	sw := &sheetWriter{file: f}
	sw.summary(b)
	if s := b.Snapshot; s != nil {
		if s.KDE != nil {
			sh := sw.sheet(SheetKDE, "row", "col", "count", "density", "intensity", "density_per_km2", "center_lat", "center_lng")
			for _, c := range s.KDE.Cells {
				addRow(sh, c.Row, c.Col, c.Count, c.Density, c.Intensity, c.DensityPerKM2, c.Center.Lat, c.Center.Lng)
			}
		}
		if s.LQ != nil {
			sh := sw.sheet(SheetLQ, "row", "col", "count", "target", "local", "lq", "level")
			for _, c := range s.LQ.Cells {
				addRow(sh, c.Row, c.Col, c.Count, c.Target, c.Local, c.LQ, c.Level)
			}
		}
		if s.ISS != nil {
			sh := sw.sheet(SheetISS, "row", "col", "count", "kde_component", "lq_component", "crit_component", "score", "level")
			for _, c := range s.ISS.Cells {
				addRow(sh, c.Row, c.Col, c.Count, c.KDEComponent, c.LQComponent, c.CritComponent, c.Score, c.Level)
			}
		}
	}
	if b.Regions != nil && b.Regions.Result != nil {
		sh := sw.sheet(SheetRegions, "seed_id", "seed_name", "neighbors", "area_km2", "schools", "critical", "critical_pct", "enrollment", "impact", "impact_level")
		for _, r := range b.Regions.Regions {
			addRow(sh, r.Seed.ID, r.Seed.Name, strings.Join(r.Neighbors, ","), r.AreaKM2, r.Schools, r.Critical, r.CriticalPct, r.Enrollment, r.Impact.Score, r.Impact.Level)
		}
	}
	if b.Vulnerability != nil && b.Vulnerability.Result != nil {
		sh := sw.sheet(SheetVulnerability, "id", "name", "class", "total", "level", "tier", "criticality", "density", "accessibility", "infrastructure")
		for _, s := range b.Vulnerability.Scores {
			addRow(sh, s.ID, s.Name, string(s.Class), s.Total, s.Level, s.Tier,
				s.Components.Criticality, s.Components.Density, s.Components.Accessibility, s.Components.Infrastructure)
		}
	}
	if len(b.Points) > 0 {
		sh := sw.sheet(SheetSchools, "id", "name", "lat", "lng", "class", "score", "enrollment", "weight", "type", "source")
		for _, p := range b.Points {
			var score any = ""
			if p.HasScore {
				score = p.Score
			}
			addRow(sh, p.ID, p.Name, p.Lat, p.Lng, string(p.Class), score, p.Enrollment, p.Weight, p.Type, p.Source)
		}
	}
	if sw.err != nil {
		return sw.err
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "report: write xlsx")
	}
	return nil
}

type sheetWriter struct {
	file *xlsx.File
	err  error
}

// sheet adds a sheet with a header row. After the first failure it returns
// a detached sheet so callers need no error checks per row.
func (sw *sheetWriter) sheet(name string, header ...string) *xlsx.Sheet {
	if sw.err != nil {
		return &xlsx.Sheet{}
	}
	sh, err := sw.file.AddSheet(name)
	if err != nil {
		sw.err = eris.Wrapf(err, "report: add sheet %s", name)
		return &xlsx.Sheet{}
	}
	row := sh.AddRow()
	for _, h := range header {
		row.AddCell().SetString(h)
	}
	return sh
}

func (sw *sheetWriter) summary(b *Bundle) {
	sh := sw.sheet(SheetSummary, "metric", "value")
	s := b.Snapshot
	if s != nil {
		addRow(sh, "data_version", s.Version)
		addRow(sh, "points", s.Points)
		addRow(sh, "dropped", s.Dropped)
		addRow(sh, "duplicates", s.Duplicates)
		addRow(sh, "cell_size", s.Params.CellSize)
		addRow(sh, "target_class", string(s.Params.TargetClass))
		addRow(sh, "bandwidth_km", s.Params.Bandwidth)
		for _, c := range school.Classes {
			addRow(sh, "class_"+string(c), s.Classes[string(c)])
		}
		if s.KDE != nil {
			addRow(sh, "kde_status", string(s.KDE.Status))
			addRow(sh, "kde_max", s.KDE.Max)
		}
		if s.LQ != nil {
			addRow(sh, "lq_status", string(s.LQ.Status))
			addRow(sh, "lq_reference", s.LQ.Reference)
		}
		if s.Gini != nil {
			addRow(sh, "gini_status", string(s.Gini.Status))
			addRow(sh, "gini", s.Gini.Gini)
			addRow(sh, "gini_level", s.Gini.Level)
		}
		if s.Moran != nil {
			addRow(sh, "moran_status", string(s.Moran.Status))
			addRow(sh, "moran_i", s.Moran.I)
			addRow(sh, "moran_expected", s.Moran.Expected)
			addRow(sh, "moran_z", s.Moran.Z)
			addRow(sh, "moran_significance", s.Moran.Significance)
			addRow(sh, "moran_pattern", s.Moran.Pattern)
		}
		if s.ISS != nil {
			addRow(sh, "iss_status", string(s.ISS.Status))
		}
	}
	if b.Regions != nil && b.Regions.Result != nil {
		addRow(sh, "regions_status", string(b.Regions.Status))
		addRow(sh, "regions", len(b.Regions.Regions))
		addRow(sh, "regions_approximate", b.Regions.Approximate)
	}
	if b.Vulnerability != nil && b.Vulnerability.Result != nil {
		addRow(sh, "vulnerability_status", string(b.Vulnerability.Status))
		for _, level := range []string{indicator.LevelCritical, indicator.LevelHigh, indicator.LevelModerate, indicator.LevelLow, indicator.LevelMinimal} {
			addRow(sh, "ivc_"+level, b.Vulnerability.Levels[level])
		}
	}
}

func addRow(sh *xlsx.Sheet, values ...any) {
	row := sh.AddRow()
	for _, v := range values {
		cell := row.AddCell()
		switch x := v.(type) {
		case string:
			cell.SetString(x)
		case int:
			cell.SetInt(x)
		case int64:
			cell.SetInt64(x)
		case float64:
			cell.SetFloat(x)
		case bool:
			cell.SetBool(x)
		default:
			cell.SetValue(x)
		}
	}
}
