package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/school"
)

// ReadJSONFile opens path and decodes it with ReadJSON.
func ReadJSONFile(ctx context.Context, path string) ([]school.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadJSON(ctx, f)
}

// ReadJSON streams a JSON array of objects. Input that is not an array
// yields no records and a warning. Array elements that are not objects are
// skipped. Numbers are kept as json.Number.
func ReadJSON(ctx context.Context, r io.Reader) ([]school.Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err == io.EOF {
		return []school.Record{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		zap.L().Warn("ingest: json input is not an array, ignoring", zap.Any("token", tok))
		return []school.Record{}, nil
	}

	recs := []school.Record{}
	skipped := 0
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "ingest: context cancelled")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, eris.Wrapf(err, "ingest: decode element %d", len(recs)+skipped)
		}
		var rec school.Record
		if err := unmarshalNumber(raw, &rec); err != nil || rec == nil {
			skipped++
			continue
		}
		recs = append(recs, rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "ingest: read closing token")
	}

	if skipped > 0 {
		zap.L().Warn("ingest: skipped non-object json elements", zap.Int("skipped", skipped))
	}
	return recs, nil
}

func unmarshalNumber(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
