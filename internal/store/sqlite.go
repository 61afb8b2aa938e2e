package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/schoolmap/internal/school"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS school_records (
	key        TEXT PRIMARY KEY,
	source     TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_school_records_source ON school_records(source);

CREATE TABLE IF NOT EXISTS data_version (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	version    INTEGER NOT NULL DEFAULT 0,
	changed_at DATETIME
);

INSERT OR IGNORE INTO data_version (id, version) VALUES (1, 0);
`

// Migrate creates the tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertRecords implements Store.
func (s *SQLiteStore) UpsertRecords(ctx context.Context, source string, recs []school.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	encoded, err := encodeRecords(recs)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO school_records (key, source, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			source = excluded.source,
			data = excluded.data,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range encoded {
		if _, err := stmt.ExecContext(ctx, r.key, source, string(r.data), now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert record %s", r.key)
		}
	}
	if err := bumpVersion(ctx, tx, now); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return len(encoded), nil
}

// ListRecords implements Store.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]school.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, data FROM school_records ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	var out []school.Record
	for rows.Next() {
		var source, data string
		if err := rows.Scan(&source, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		rec, err := decodeRecord(source, []byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

// DeleteSource implements Store.
func (s *SQLiteStore) DeleteSource(ctx context.Context, source string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM school_records WHERE source = ?`, source)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete source %s", source)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		if err := bumpVersion(ctx, tx, time.Now().UTC()); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return int(n), nil
}

// Version implements Store.
func (s *SQLiteStore) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM data_version WHERE id = 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, eris.Wrap(err, "sqlite: version")
}

// Counts implements Store.
func (s *SQLiteStore) Counts(ctx context.Context) (*Counts, error) {
	c := &Counts{}
	var changed sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT version, changed_at FROM data_version WHERE id = 1`).Scan(&c.Version, &changed)
	if err != nil && err != sql.ErrNoRows {
		return nil, eris.Wrap(err, "sqlite: version")
	}
	if changed.Valid {
		t := changed.Time
		c.ChangedAt = &t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*), MAX(updated_at) FROM school_records
		GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count records")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var sc SourceCount
		var updated sql.NullString
		if err := rows.Scan(&sc.Source, &sc.Records, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		if t, ok := parseSQLiteTime(updated); ok {
			sc.UpdatedAt = &t
		}
		c.Records += sc.Records
		c.Sources = append(c.Sources, sc)
	}
	return c, eris.Wrap(rows.Err(), "sqlite: iterate counts")
}

func bumpVersion(ctx context.Context, tx *sql.Tx, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE data_version SET version = version + 1, changed_at = ? WHERE id = 1`, now)
	return eris.Wrap(err, "sqlite: bump version")
}

// parseSQLiteTime reads MAX(updated_at), which comes back as text because
// aggregate results lose the column's declared type.
func parseSQLiteTime(v sql.NullString) (time.Time, bool) {
	if !v.Valid {
		return time.Time{}, false
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, v.String); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
