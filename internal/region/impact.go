package region

import (
	"math"

	"github.com/sells-group/schoolmap/internal/indicator"
)

// Impact caps per component.
const (
	impactAreaCap    = 25.0
	impactDensityCap = 25.0
	impactVulnCap    = 30.0
	impactCountCap   = 20.0
)

// Impact scores how much a region matters if its seed fails.
type Impact struct {
	AreaPts          float64 `json:"area_pts"`
	DensityPts       float64 `json:"density_pts"`
	VulnerabilityPts float64 `json:"vulnerability_pts"`
	CountPts         float64 `json:"count_pts"`
	EnrollmentPerKM2 float64 `json:"enrollment_per_km2"`
	Score            float64 `json:"score"`
	Level            string  `json:"level"`
}

// ScoreImpact combines region area (5 pts per km²), enrollment density
// (1 pt per 100 students/km²), critical share (0.3 pts per percent) and
// school count (2 pts each), each capped, into a 0–100 score.
func ScoreImpact(areaKM2 float64, enrollment int, criticalPct float64, schools int) Impact {
	var im Impact
	im.AreaPts = math.Min(areaKM2*5, impactAreaCap)
	if areaKM2 > 0 {
		im.EnrollmentPerKM2 = float64(enrollment) / areaKM2
	}
	im.DensityPts = math.Min(im.EnrollmentPerKM2/100, impactDensityCap)
	im.VulnerabilityPts = math.Min(criticalPct*0.30, impactVulnCap)
	im.CountPts = math.Min(float64(schools)*2, impactCountCap)
	im.Score = math.Max(0, math.Min(100, im.AreaPts+im.DensityPts+im.VulnerabilityPts+im.CountPts))
	im.Level = indicator.BandLevel(im.Score)
	return im
}
