// Package store is the data-access layer: it persists raw school records
// and exposes a monotonically increasing data version that changes on every
// write, which the analysis engine uses to invalidate cached results.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/school"
)

// SourceCount summarizes the records of one source.
type SourceCount struct {
	Source    string     `json:"source"`
	Records   int        `json:"records"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Counts summarizes the store.
type Counts struct {
	Records   int           `json:"records"`
	Version   int64         `json:"version"`
	ChangedAt *time.Time    `json:"changed_at,omitempty"`
	Sources   []SourceCount `json:"sources"`
}

// Store persists raw records.
type Store interface {
	// UpsertRecords writes recs under source, replacing records with the
	// same key, and bumps the version. It returns the number written.
	UpsertRecords(ctx context.Context, source string, recs []school.Record) (int, error)
	// ListRecords returns every record ordered by key. Records missing a
	// source field get the one they were imported under.
	ListRecords(ctx context.Context) ([]school.Record, error)
	// DeleteSource removes every record of source and bumps the version
	// when anything was removed.
	DeleteSource(ctx context.Context, source string) (int, error)
	// Version returns the current data version.
	Version(ctx context.Context) (int64, error)
	Counts(ctx context.Context) (*Counts, error)

	Migrate(ctx context.Context) error
	Close() error
}

var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("schoolmap/record"))

// RecordKey is the record's id field, or a uuid v5 of its JSON encoding
// when it has none, so re-importing the same file updates rather than
// duplicates.
func RecordKey(rec school.Record) (string, error) {
	if id := school.RecordID(rec); id != "" {
		return id, nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal record")
	}
	return uuid.NewSHA1(recordNamespace, data).String(), nil
}

type encodedRecord struct {
	key  string
	data []byte
}

func encodeRecords(recs []school.Record) ([]encodedRecord, error) {
	out := make([]encodedRecord, 0, len(recs))
	seen := make(map[string]int, len(recs))
	for i, rec := range recs {
		key, err := RecordKey(rec)
		if err != nil {
			return nil, eris.Wrapf(err, "store: record %d", i)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal record %d", i)
		}
		// Last write wins inside one batch.
		if j, ok := seen[key]; ok {
			out[j].data = data
			continue
		}
		seen[key] = len(out)
		out = append(out, encodedRecord{key: key, data: data})
	}
	return out, nil
}

func decodeRecord(source string, data []byte) (school.Record, error) {
	var rec school.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal record")
	}
	if rec == nil {
		rec = school.Record{}
	}
	_, hasSource := rec["source"]
	_, hasFonte := rec["fonte"]
	if !hasSource && !hasFonte && source != "" {
		rec["source"] = source
	}
	return rec, nil
}
