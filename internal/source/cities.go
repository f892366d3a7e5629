package source

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/fetcher"
	"github.com/sells-group/city-explorer/internal/impute"
	"github.com/sells-group/city-explorer/internal/table"
	"github.com/sells-group/city-explorer/internal/transform"
)

// Cities loads the city base table: id, county_fips, city, state, lat, lng,
// population and density. Rows without a usable county or coordinates are
// skipped; a repeated id fails the load.
func (l *Loader) Cities(ctx context.Context) (*table.Table, error) {
	header, rows, err := l.read(ctx, l.cat.Cities.File)
	if err != nil {
		return nil, err
	}
	t, skipped, err := ParseCities(header, rows, l.cat.Cities.Columns)
	if err != nil {
		return nil, eris.Wrapf(err, "source: cities %s", l.cat.Cities.Path)
	}
	if skipped > 0 {
		l.log.Warn("skipped cities without county or coordinates", zap.Int("skipped", skipped))
	}
	return t, nil
}

// ParseCities converts city records into the base table and reports how
// many rows were skipped.
func ParseCities(header []string, rows [][]string, cols catalog.CityColumns) (*table.Table, int, error) {
	colIdx := fetcher.ColumnIndex(header)
	if err := requireColumns(colIdx, "cities", cols.ID, cols.CountyFIPS, cols.Lat, cols.Lng); err != nil {
		return nil, 0, err
	}

	var (
		ids, fips             []int64
		names, states         []string
		lats, lngs, pop, dens []float64
		skipped               int
	)
	for i, rec := range rows {
		rawID := strings.TrimSpace(fetcher.Field(rec, colIdx, cols.ID))
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return nil, 0, eris.Errorf("source: row %d: invalid city id %q", i+1, rawID)
		}
		county, err := transform.ParseFIPS(fetcher.Field(rec, colIdx, cols.CountyFIPS))
		lat := transform.ParseNumber(fetcher.Field(rec, colIdx, cols.Lat))
		lng := transform.ParseNumber(fetcher.Field(rec, colIdx, cols.Lng))
		if err != nil || math.IsNaN(lat) || math.IsNaN(lng) {
			skipped++
			continue
		}
		ids = append(ids, id)
		fips = append(fips, county)
		names = append(names, fetcher.Field(rec, colIdx, cols.Name))
		states = append(states, fetcher.Field(rec, colIdx, cols.State))
		lats = append(lats, lat)
		lngs = append(lngs, lng)
		pop = append(pop, transform.ParseNumber(fetcher.Field(rec, colIdx, cols.Population)))
		dens = append(dens, transform.ParseNumber(fetcher.Field(rec, colIdx, cols.Density)))
	}

	t := table.New()
	for _, err := range []error{
		t.AddInts(IDColumn, nonNil(ids)),
		t.AddInts(transform.CountyFIPSColumn, nonNil(fips)),
		t.AddStrings(CityColumn, nonNil(names)),
		t.AddStrings(StateColumn, nonNil(states)),
		t.AddFloats(impute.LatColumn, nonNil(lats)),
		t.AddFloats(impute.LngColumn, nonNil(lngs)),
		t.AddFloats(PopulationColumn, nonNil(pop)),
		t.AddFloats(DensityColumn, nonNil(dens)),
	} {
		if err != nil {
			return nil, 0, err
		}
	}

	if _, err := t.KeyIndex(IDColumn); err != nil {
		var dup *table.DuplicateKeyError
		if errors.As(err, &dup) {
			return nil, 0, eris.Errorf("source: duplicate city id %d", dup.Key)
		}
		return nil, 0, err
	}
	return t, skipped, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
