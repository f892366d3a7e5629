package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/table"
)

const fileExt = ".gob"

// FileStore keeps one encoded table per key under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, eris.New("cache: file store needs a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "cache: create dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file backing key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

func (s *FileStore) Get(_ context.Context, key string) (*table.Table, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	f, err := os.Open(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: open %s", key)
	}
	defer f.Close() //nolint:errcheck

	t, err := table.Decode(f)
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: read %s", key)
	}
	return t, true, nil
}

// Put writes to a temp file in the same directory and renames it into
// place, so readers never observe a partial entry.
func (s *FileStore) Put(_ context.Context, key string, t *table.Table) error {
	if err := checkKey(key); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "cache: create temp for %s", key)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if err := t.Encode(tmp); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "cache: write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "cache: close temp for %s", key)
	}
	if err := os.Rename(tmpPath, s.Path(key)); err != nil {
		return eris.Wrapf(err, "cache: rename %s", key)
	}
	return nil
}

// Keys lists the stored keys.
func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileExt))
	if err != nil {
		return nil, eris.Wrap(err, "cache: list")
	}
	keys := make([]string, len(matches))
	for i, m := range matches {
		keys[i] = filepath.Base(m[:len(m)-len(fileExt)])
	}
	return keys, nil
}

func (s *FileStore) Close() error { return nil }
