// Package cache persists fused tables keyed by configuration so a build runs
// once per occupation. Every backend stores the table's columnar encoding.
package cache

import (
	"context"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/city-explorer/internal/config"
	"github.com/sells-group/city-explorer/internal/db"
	"github.com/sells-group/city-explorer/internal/table"
)

// Store loads and saves fused tables. Get reports a miss with ok=false and
// a nil error.
type Store interface {
	Get(ctx context.Context, key string) (t *table.Table, ok bool, err error)
	Put(ctx context.Context, key string, t *table.Table) error
	Close() error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// Slug derives a filesystem-safe cache key: diacritics are folded, letters
// lowercased, and every other character becomes '_'.
func Slug(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func checkKey(key string) error {
	if key == "" {
		return eris.New("cache: empty key")
	}
	if key != Slug(key) {
		return eris.Errorf("cache: key %q is not a slug", key)
	}
	return nil
}

// Nop never hits and discards writes.
type Nop struct{}

func (Nop) Get(context.Context, string) (*table.Table, bool, error) { return nil, false, nil }
func (Nop) Put(context.Context, string, *table.Table) error         { return nil }
func (Nop) Close() error                                           { return nil }

// Open builds the Store selected by cfg.Driver and runs its migration.
func Open(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Dir + "/cache.db"
		}
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, cfg.DSN, &db.PoolConfig{})
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "none":
		return Nop{}, nil
	default:
		return nil, eris.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}
