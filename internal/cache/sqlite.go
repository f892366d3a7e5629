package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/city-explorer/internal/table"
)

// SQLiteStore keeps encoded tables in a single SQLite file.
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS fused_cache (
	slug     TEXT PRIMARY KEY,
	num_rows INTEGER NOT NULL,
	payload  BLOB NOT NULL,
	built_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*table.Table, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM fused_cache WHERE slug = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: get %s", key)
	}
	t, err := table.Unmarshal(payload)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: decode %s", key)
	}
	return t, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, t *table.Table) error {
	if err := checkKey(key); err != nil {
		return err
	}
	payload, err := t.MarshalBinary()
	if err != nil {
		return eris.Wrapf(err, "sqlite: encode %s", key)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fused_cache (slug, num_rows, payload, built_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET num_rows = excluded.num_rows, payload = excluded.payload, built_at = excluded.built_at`,
		key, t.Len(), payload, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: put %s", key)
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug FROM fused_cache ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: list keys")
}
