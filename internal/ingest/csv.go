package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/school"
)

// ReadCSVFile opens path and decodes it with ReadCSV.
func ReadCSVFile(ctx context.Context, path string, delimiter rune) ([]school.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(ctx, f, delimiter)
}

// ReadCSV reads a CSV file whose first row names the fields. A zero
// delimiter is sniffed from the header line: ';' when it has more
// semicolons than commas, ',' otherwise.
func ReadCSV(ctx context.Context, r io.Reader, delimiter rune) ([]school.Record, error) {
	br := bufio.NewReader(r)
	if delimiter == 0 {
		delimiter = sniffDelimiter(br)
	}

	reader := csv.NewReader(br)
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return []school.Record{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv header")
	}
	header = cleanHeader(header)

	recs := []school.Record{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "ingest: context cancelled")
		}
		row, err := reader.Read()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read csv row %d", len(recs)+1)
		}
		if rec := headerRecord(header, row); len(rec) > 0 {
			recs = append(recs, rec)
		}
	}
}

func sniffDelimiter(br *bufio.Reader) rune {
	line, _ := br.Peek(4096)
	if i := strings.IndexByte(string(line), '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Count(string(line), ";") > strings.Count(string(line), ",") {
		return ';'
	}
	return ','
}
