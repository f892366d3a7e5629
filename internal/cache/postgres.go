package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/db"
	"github.com/sells-group/city-explorer/internal/table"
)

// PostgresStore keeps encoded tables in a Postgres table.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var putFusedCache = db.UpsertConfig{
	Table:        "fused_cache",
	Columns:      []string{"slug", "num_rows", "payload", "built_at"},
	ConflictKeys: []string{"slug"},
}

// NewPostgres connects a pool and wraps it as a Store.
func NewPostgres(ctx context.Context, dsn string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, dsn, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; Close leaves it open.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool, shared with the export command.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS fused_cache (
	slug     TEXT PRIMARY KEY,
	num_rows INTEGER NOT NULL,
	payload  BYTEA NOT NULL,
	built_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*table.Table, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM fused_cache WHERE slug = $1`, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: get %s", key)
	}
	t, err := table.Unmarshal(payload)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: decode %s", key)
	}
	return t, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, t *table.Table) error {
	if err := checkKey(key); err != nil {
		return err
	}
	payload, err := t.MarshalBinary()
	if err != nil {
		return eris.Wrapf(err, "postgres: encode %s", key)
	}
	if err := db.Upsert(ctx, s.pool, putFusedCache, key, t.Len(), payload, time.Now().UTC()); err != nil {
		return eris.Wrapf(err, "postgres: put %s", key)
	}
	return nil
}

func (s *PostgresStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT slug FROM fused_cache ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list keys")
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan keys")
	}
	return keys, nil
}
