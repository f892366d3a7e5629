// Package source loads the raw tables named by the catalog: the city list,
// OEWS metro wages, the metro to county crosswalk and the county attribute
// families. Every loader returns a table keyed by an int64 column.
package source

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/fetcher"
	"github.com/sells-group/city-explorer/internal/table"
	"github.com/sells-group/city-explorer/internal/transform"
)

// Canonical column names of loaded tables.
const (
	IDColumn         = "id"
	CityColumn       = "city"
	StateColumn      = "state"
	PopulationColumn = "population"
	DensityColumn    = "density"
	CBSAColumn       = "cbsa"
	OccupationColumn = "occupation"
	EmploymentColumn = "tot_emp"
)

// Loader reads catalog sources from a data directory. The wage file is
// parsed once per Loader and shared by every occupation; a failed parse is
// retried on the next call.
type Loader struct {
	dir   string
	cat   *catalog.Catalog
	rules transform.WageRules
	log   *zap.Logger

	wagesMu sync.Mutex
	wages   *table.Table // nil until a parse succeeds
}

// NewLoader creates a Loader rooted at dir.
func NewLoader(dir string, cat *catalog.Catalog, rules transform.WageRules) *Loader {
	return &Loader{
		dir:   dir,
		cat:   cat,
		rules: rules,
		log:   zap.L().With(zap.String("component", "source")),
	}
}

// Catalog returns the catalog the loader reads.
func (l *Loader) Catalog() *catalog.Catalog { return l.cat }

// Path resolves a catalog file against the data directory.
func (l *Loader) Path(f catalog.File) string {
	if filepath.IsAbs(f.Path) {
		return f.Path
	}
	return filepath.Join(l.dir, f.Path)
}

func (l *Loader) read(ctx context.Context, f catalog.File) ([]string, [][]string, error) {
	path := l.Path(f)
	header, rows, err := fetcher.ReadRecords(ctx, path, f.Sheet)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "source: read %s", f.Path)
	}
	l.log.Debug("read source file", zap.String("path", path), zap.Int("rows", len(rows)))
	return header, rows, nil
}

// requireColumns fails when any named header is absent.
func requireColumns(colIdx map[string]int, file string, names ...string) error {
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := colIdx[normalizeHeader(n)]; !ok {
			return eris.Errorf("source: %s has no column %q", file, n)
		}
	}
	return nil
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
