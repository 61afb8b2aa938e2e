package school

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/geo"
)

// Record is a raw, heterogeneous input record (typically decoded JSON).
type Record map[string]any

// Candidate field names, in priority order. Lookups are case-insensitive.
var (
	nameFields       = []string{"nome", "name", "escola", "nome_escola", "school", "school_name", "titulo", "title"}
	classFields      = []string{"status", "class", "classe", "classificacao", "situacao", "criticidade", "nivel"}
	latFields        = []string{"lat", "latitude"}
	lngFields        = []string{"lng", "lon", "long", "longitude"}
	scoreFields      = []string{"score", "pontuacao", "nota", "indice"}
	enrollmentFields = []string{"enrollment", "matriculas", "alunos", "students"}
	updatedFields    = []string{"updated_at", "ultima_atualizacao", "data_atualizacao", "last_update", "lastupdate"}
	idFields         = []string{"id", "codigo", "code", "inep"}
	typeFields       = []string{"tipo", "type", "school_type", "modalidade"}
	sourceFields     = []string{"source", "fonte"}
)

// pointNamespace seeds the deterministic ids of records that carry none.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("schoolmap/point"))

// Options configures a Normalizer.
type Options struct {
	// Now supplies the reference time for recency bonuses. Default time.Now.
	Now func() time.Time
	// DefaultEnrollment is used when a record has no usable enrollment.
	DefaultEnrollment int
	// DedupePrecision is the number of decimals coordinates are rounded to
	// when detecting duplicates. Default 4 (≈11 m).
	DedupePrecision int
	// Source tags points whose record has no source field.
	Source string
	// Synonyms extends the built-in class synonym table. Keys must be in
	// ClassKey form (LoadSynonyms returns them that way).
	Synonyms map[string]Class
}

// Result is the outcome of normalizing a batch of records.
type Result struct {
	Points     []Point       `json:"points"`
	Dropped    int           `json:"dropped"`
	Duplicates int           `json:"duplicates"`
	Errors     []RecordError `json:"errors,omitempty"`
}

// Normalizer maps raw records to canonical points. It holds no mutable state
// and is safe for concurrent use.
type Normalizer struct {
	now               func() time.Time
	defaultEnrollment int
	precision         int
	source            string
	synonyms          map[string]Class
}

// NewNormalizer creates a Normalizer, filling unset options with defaults.
func NewNormalizer(opts Options) *Normalizer {
	n := &Normalizer{
		now:               opts.Now,
		defaultEnrollment: opts.DefaultEnrollment,
		precision:         opts.DedupePrecision,
		source:            opts.Source,
		synonyms:          defaultSynonyms,
	}
	if n.now == nil {
		n.now = time.Now
	}
	if n.defaultEnrollment <= 0 {
		n.defaultEnrollment = DefaultEnrollment
	}
	if n.precision <= 0 {
		n.precision = 4
	}
	if len(opts.Synonyms) > 0 {
		merged := make(map[string]Class, len(defaultSynonyms)+len(opts.Synonyms))
		for k, v := range defaultSynonyms {
			merged[k] = v
		}
		for k, v := range opts.Synonyms {
			merged[ClassKey(k)] = v
		}
		n.synonyms = merged
	}
	return n
}

// ResolveClass maps a raw status string to a class. Unknown or empty
// strings resolve to ClassUnrated.
func (n *Normalizer) ResolveClass(raw string) Class {
	if c, ok := n.synonyms[ClassKey(raw)]; ok {
		return c
	}
	return ClassUnrated
}

// Normalize converts one record. The returned error is a *RecordError when
// the record cannot become a point.
func (n *Normalizer) Normalize(index int, rec Record) (Point, error) {
	fields := foldKeys(rec)

	lat, okLat := numberField(fields, latFields)
	lng, okLng := numberField(fields, lngFields)
	if !okLat || !okLng {
		return Point{}, &RecordError{Index: index, Reason: "missing or invalid coordinates"}
	}
	if !geo.ValidCoord(lat, lng) {
		return Point{}, &RecordError{Index: index, Reason: fmt.Sprintf("coordinates out of range (%g, %g)", lat, lng)}
	}

	p := Point{
		Name:       stringField(fields, nameFields),
		Lat:        lat,
		Lng:        lng,
		Class:      n.ResolveClass(stringField(fields, classFields)),
		Enrollment: n.defaultEnrollment,
		Type:       stringField(fields, typeFields),
		Source:     stringField(fields, sourceFields),
	}
	if p.Name == "" {
		p.Name = fmt.Sprintf("Unnamed-%d", index)
	}
	if p.Source == "" {
		p.Source = n.source
	}

	if score, ok := numberField(fields, scoreFields); ok {
		p.Score = math.Max(0, math.Min(100, score))
		p.HasScore = true
	}
	if e, ok := numberField(fields, enrollmentFields); ok && e > 0 {
		p.Enrollment = int(math.Round(e))
	}
	if ts, ok := timeField(fields, updatedFields); ok {
		p.UpdatedAt = &ts
	}

	p.ID = idField(fields)
	if p.ID == "" {
		key := fmt.Sprintf("%s|%.6f|%.6f", p.Name, p.Lat, p.Lng)
		p.ID = uuid.NewSHA1(pointNamespace, []byte(key)).String()
	}

	p.Weight = ComputeWeight(p.Class, p.Score, p.Enrollment, p.UpdatedAt, n.now())
	return p, nil
}

// NormalizeAll converts a batch, dropping invalid records and collapsing
// coordinate duplicates (the higher-weight record wins; ties keep the first).
func (n *Normalizer) NormalizeAll(recs []Record) Result {
	var res Result
	slot := make(map[string]int, len(recs))

	for i, rec := range recs {
		p, err := n.Normalize(i, rec)
		if err != nil {
			re, ok := err.(*RecordError)
			if !ok {
				re = &RecordError{Index: i, Reason: err.Error()}
			}
			zap.L().Debug("school: dropping record", zap.Int("index", i), zap.String("reason", re.Reason))
			res.Dropped++
			res.Errors = append(res.Errors, *re)
			continue
		}

		key := fmt.Sprintf("%.*f,%.*f", n.precision, p.Lat, n.precision, p.Lng)
		if at, seen := slot[key]; seen {
			res.Duplicates++
			if p.Weight > res.Points[at].Weight {
				res.Points[at] = p
			}
			continue
		}
		slot[key] = len(res.Points)
		res.Points = append(res.Points, p)
	}

	zap.L().Info("school: normalized records",
		zap.Int("input", len(recs)),
		zap.Int("accepted", len(res.Points)),
		zap.Int("dropped", res.Dropped),
		zap.Int("duplicates", res.Duplicates),
	)
	return res
}

// NormalizeAny accepts a decoded JSON value or raw JSON bytes. Anything that
// is not an array of objects yields an empty result rather than an error.
func (n *Normalizer) NormalizeAny(v any) Result {
	if b, ok := v.([]byte); ok {
		var decoded any
		if err := json.Unmarshal(b, &decoded); err != nil {
			zap.L().Warn("school: input is not valid JSON", zap.Error(err))
			return Result{}
		}
		v = decoded
	}

	var recs []Record
	switch in := v.(type) {
	case []Record:
		recs = in
	case []map[string]any:
		recs = make([]Record, len(in))
		for i, m := range in {
			recs[i] = m
		}
	case []any:
		recs = make([]Record, 0, len(in))
		for _, item := range in {
			m, ok := item.(map[string]any)
			if !ok {
				// Keep the index aligned; an empty record is dropped as invalid.
				m = nil
			}
			recs = append(recs, m)
		}
	default:
		zap.L().Warn("school: input is not an array of records", zap.String("type", fmt.Sprintf("%T", v)))
		return Result{}
	}
	return n.NormalizeAll(recs)
}

func foldKeys(rec Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		key := strings.ToLower(strings.TrimSpace(k))
		if _, exists := out[key]; !exists {
			out[key] = v
		}
	}
	return out
}

func stringField(fields map[string]any, names []string) string {
	for _, name := range names {
		if s, ok := fields[name].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// RecordID returns the record's own identifier field, or "" when it has
// none.
func RecordID(rec Record) string {
	return idField(foldKeys(rec))
}

func idField(fields map[string]any) string {
	for _, name := range idFields {
		switch v := fields[name].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func numberField(fields map[string]any, names []string) (float64, bool) {
	for _, name := range names {
		v, ok := fields[name]
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		if !strings.Contains(s, ".") {
			s = strings.Replace(s, ",", ".", 1)
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

func timeField(fields map[string]any, names []string) (time.Time, bool) {
	for _, name := range names {
		switch v := fields[name].(type) {
		case time.Time:
			return v, true
		case *time.Time:
			if v != nil {
				return *v, true
			}
		case string:
			s := strings.TrimSpace(v)
			for _, layout := range timeLayouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts, true
				}
			}
		case float64:
			// Epoch seconds, or milliseconds for large values.
			if v > 1e12 {
				return time.UnixMilli(int64(v)), true
			}
			if v > 0 {
				return time.Unix(int64(v), 0), true
			}
		}
	}
	return time.Time{}, false
}
