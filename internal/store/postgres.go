package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/schoolmap/internal/db"
	"github.com/sells-group/schoolmap/internal/school"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// recordsTable is the upsert target for imported records.
var recordsTable = db.UpsertConfig{
	Table:        "school_records",
	Columns:      []string{"key", "source", "data", "updated_at"},
	ConflictKeys: []string{"key"},
}

// preparedStatements are prepared on every new connection.
var preparedStatements = map[string]string{
	"list_records": `SELECT source, data FROM school_records ORDER BY key`,
	"get_version":  `SELECT version FROM data_version WHERE id = 1`,
}

// NewPostgres connects to Postgres.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg, func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS school_records (
	key        TEXT PRIMARY KEY,
	source     TEXT NOT NULL DEFAULT '',
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_school_records_source ON school_records(source);

CREATE TABLE IF NOT EXISTS data_version (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	version    BIGINT NOT NULL DEFAULT 0,
	changed_at TIMESTAMPTZ
);

INSERT INTO data_version (id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate creates the tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertRecords implements Store. Records are COPYed into a temp table and
// merged in the same transaction that bumps the version.
func (s *PostgresStore) UpsertRecords(ctx context.Context, source string, recs []school.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	encoded, err := encodeRecords(recs)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	rows := make([][]any, len(encoded))
	for i, r := range encoded {
		rows[i] = []any{r.key, source, r.data, now}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.UpsertTx(ctx, tx, recordsTable, rows); err != nil {
		return 0, eris.Wrap(err, "postgres: upsert records")
	}
	if _, err := tx.Exec(ctx, `UPDATE data_version SET version = version + 1, changed_at = $1 WHERE id = 1`, now); err != nil {
		return 0, eris.Wrap(err, "postgres: bump version")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit")
	}
	return len(encoded), nil
}

// ListRecords implements Store.
func (s *PostgresStore) ListRecords(ctx context.Context) ([]school.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT source, data FROM school_records ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []school.Record
	for rows.Next() {
		var source string
		var data []byte
		if err := rows.Scan(&source, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		rec, err := decodeRecord(source, data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

// DeleteSource implements Store.
func (s *PostgresStore) DeleteSource(ctx context.Context, source string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `DELETE FROM school_records WHERE source = $1`, source)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete source %s", source)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `UPDATE data_version SET version = version + 1, changed_at = now() WHERE id = 1`); err != nil {
			return 0, eris.Wrap(err, "postgres: bump version")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit")
	}
	return int(tag.RowsAffected()), nil
}

// Version implements Store.
func (s *PostgresStore) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM data_version WHERE id = 1`).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, eris.Wrap(err, "postgres: version")
}

// Counts implements Store.
func (s *PostgresStore) Counts(ctx context.Context) (*Counts, error) {
	c := &Counts{}
	err := s.pool.QueryRow(ctx, `SELECT version, changed_at FROM data_version WHERE id = 1`).Scan(&c.Version, &c.ChangedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: version")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT source, COUNT(*), MAX(updated_at) FROM school_records
		GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count records")
	}
	defer rows.Close()

	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Records, &sc.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		c.Records += sc.Records
		c.Sources = append(c.Sources, sc)
	}
	return c, eris.Wrap(rows.Err(), "postgres: iterate counts")
}
