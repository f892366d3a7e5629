package cache

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/city-explorer/internal/config"
	"github.com/sells-group/city-explorer/internal/table"
)

func fused(t *testing.T) *table.Table {
	t.Helper()
	tb := table.New()
	require.NoError(t, tb.AddInts("id", []int64{1840019590, 1840020491}))
	require.NoError(t, tb.AddInts("county_fips", []int64{6075, 53033}))
	require.NoError(t, tb.AddStrings("city", []string{"San Francisco", "Seattle"}))
	require.NoError(t, tb.AddFloats("income", []float64{98000, math.NaN()}))
	return tb
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Registered Nurses", "registered_nurses"},
		{"Software Developers, Applications", "software_developers__applications"},
		{"Café Owners", "cafe_owners"},
		{"Chief Executives", "chief_executives"},
		{"911 Dispatchers", "911_dispatchers"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), tt.in)
	}
}

func TestCheckKey(t *testing.T) {
	require.NoError(t, checkKey("registered_nurses"))
	require.Error(t, checkKey(""))
	require.Error(t, checkKey("../escape"))
}

func TestNop(t *testing.T) {
	var s Store = Nop{}
	require.NoError(t, s.Put(context.Background(), "k", fused(t)))
	_, ok, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Close())
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, "registered_nurses")
	require.NoError(t, err)
	assert.False(t, ok)

	want := fused(t)
	require.NoError(t, s.Put(ctx, "registered_nurses", want))

	got, ok, err := s.Get(ctx, "registered_nurses")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, want.Equal(got))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"registered_nurses"}, keys)
}

func TestFileStore_PutOverwritesAndLeavesNoTemp(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "k", fused(t)))
	smaller := fused(t).Take([]int{0})
	require.NoError(t, s.Put(ctx, "k", smaller))

	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Len())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_CorruptEntry(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("bad"), []byte("not a table"), 0o644))

	_, _, err = s.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache: read bad")
}

func TestNewFileStore_EmptyDir(t *testing.T) {
	_, err := NewFileStore("")
	require.Error(t, err)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	_, ok, err := s.Get(ctx, "registered_nurses")
	require.NoError(t, err)
	assert.False(t, ok)

	want := fused(t)
	require.NoError(t, s.Put(ctx, "registered_nurses", want))
	require.NoError(t, s.Put(ctx, "registered_nurses", want))
	require.NoError(t, s.Put(ctx, "chief_executives", want.Take([]int{1})))

	got, ok, err := s.Get(ctx, "registered_nurses")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, want.Equal(got))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chief_executives", "registered_nurses"}, keys)
}

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS fused_cache`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMiss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT payload FROM fused_cache WHERE slug = \$1`).
		WithArgs("registered_nurses").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := s.Get(context.Background(), "registered_nurses")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetHit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	want := fused(t)
	payload, err := want.MarshalBinary()
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT payload FROM fused_cache WHERE slug = \$1`).
		WithArgs("registered_nurses").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	got, ok, err := s.Get(context.Background(), "registered_nurses")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, want.Equal(got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT payload FROM fused_cache`).
		WithArgs("k").
		WillReturnError(errors.New("connection refused"))

	_, _, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: get k")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Put(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "fused_cache" .* ON CONFLICT \("slug"\) DO UPDATE SET`).
		WithArgs("registered_nurses", 2, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Put(context.Background(), "registered_nurses", fused(t)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Keys(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT slug FROM fused_cache ORDER BY slug`).
		WillReturnRows(pgxmock.NewRows([]string{"slug"}).AddRow("a").AddRow("b"))

	keys, err := s.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, config.CacheConfig{Driver: "none"})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)

	s, err = Open(ctx, config.CacheConfig{Driver: "file", Dir: filepath.Join(dir, "files")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, config.CacheConfig{Driver: "sqlite", Dir: dir})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.CacheConfig{Driver: "redis"})
	require.Error(t, err)
}
