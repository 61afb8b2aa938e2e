package school

import (
	"strconv"
	"time"

	"github.com/sells-group/schoolmap/internal/geo"
)

// DefaultEnrollment is assumed when a record carries no usable enrollment.
const DefaultEnrollment = 200

// Point is the canonical school record consumed by the engine.
type Point struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	Class      Class      `json:"class"`
	Score      float64    `json:"score"`
	HasScore   bool       `json:"has_score"`
	Weight     float64    `json:"weight"`
	Enrollment int        `json:"enrollment"`
	Type       string     `json:"type,omitempty"`
	Source     string     `json:"source,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// LatLng returns the point's coordinate.
func (p Point) LatLng() geo.LatLng {
	return geo.LatLng{Lat: p.Lat, Lng: p.Lng}
}

// HeatWeight returns the weight in heat-layer units (0..~2).
func (p Point) HeatWeight() float64 {
	return p.Weight / 100
}

// Record converts the point back into a raw record. Normalizing the result
// with the same clock yields the same point.
func (p Point) Record() Record {
	r := Record{
		"id":         p.ID,
		"name":       p.Name,
		"latitude":   p.Lat,
		"longitude":  p.Lng,
		"status":     string(p.Class),
		"enrollment": p.Enrollment,
	}
	if p.HasScore {
		r["score"] = p.Score
	}
	if p.Type != "" {
		r["type"] = p.Type
	}
	if p.Source != "" {
		r["source"] = p.Source
	}
	if p.UpdatedAt != nil {
		r["updated_at"] = p.UpdatedAt.Format(time.RFC3339Nano)
	}
	return r
}

// classBaseWeight is the severity base of each class.
var classBaseWeight = map[Class]float64{
	ClassCritical:  100,
	ClassAttention: 70,
	ClassAlert:     40,
	ClassAdequate:  10,
	ClassUnrated:   0,
}

// RecencyBonus scores how recently a record was updated: ≤7 days +20,
// ≤30 days +10, ≤90 days +5, otherwise (or unknown) 0.
func RecencyBonus(updatedAt *time.Time, now time.Time) float64 {
	if updatedAt == nil {
		return 0
	}
	days := now.Sub(*updatedAt).Hours() / 24
	switch {
	case days <= 7:
		return 20
	case days <= 30:
		return 10
	case days <= 90:
		return 5
	default:
		return 0
	}
}

// ComputeWeight derives the severity weight from class, score, recency and,
// for critical schools, enrollment.
func ComputeWeight(class Class, score float64, enrollment int, updatedAt *time.Time, now time.Time) float64 {
	w := classBaseWeight[class] + score/10 + RecencyBonus(updatedAt, now)
	if class == ClassCritical {
		w += float64(enrollment) / 100
	}
	return w
}

// RecordError describes a record that was dropped during normalization.
type RecordError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (e *RecordError) Error() string {
	return "school: record " + strconv.Itoa(e.Index) + ": " + e.Reason
}
