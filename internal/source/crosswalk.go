package source

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/fetcher"
	"github.com/sells-group/city-explorer/internal/table"
	"github.com/sells-group/city-explorer/internal/transform"
)

// Crosswalk loads the metro to county mapping as cbsa and county_fips.
func (l *Loader) Crosswalk(ctx context.Context) (*table.Table, error) {
	header, rows, err := l.read(ctx, l.cat.Crosswalk.File)
	if err != nil {
		return nil, err
	}
	t, err := ParseCrosswalk(header, rows, l.cat.Crosswalk.Columns)
	if err != nil {
		return nil, eris.Wrapf(err, "source: crosswalk %s", l.cat.Crosswalk.Path)
	}
	return t, nil
}

// ParseCrosswalk converts crosswalk records. Counties outside any metro
// area have a blank code and are skipped; a malformed state or county code
// fails with a *transform.KeyDerivationError.
func ParseCrosswalk(header []string, rows [][]string, cols catalog.CrosswalkColumns) (*table.Table, error) {
	colIdx := fetcher.ColumnIndex(header)
	if err := requireColumns(colIdx, "crosswalk", cols.CBSA, cols.State, cols.County); err != nil {
		return nil, err
	}

	var (
		cbsa           []int64
		states, counties []string
	)
	for i, rec := range rows {
		raw := strings.TrimSpace(fetcher.Field(rec, colIdx, cols.CBSA))
		if raw == "" {
			continue
		}
		code, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, eris.Errorf("source: crosswalk row %d: invalid cbsa code %q", i+1, raw)
		}
		cbsa = append(cbsa, code)
		states = append(states, fetcher.Field(rec, colIdx, cols.State))
		counties = append(counties, fetcher.Field(rec, colIdx, cols.County))
	}

	codes := table.New()
	if err := codes.AddStrings("state", nonNil(states)); err != nil {
		return nil, err
	}
	if err := codes.AddStrings("county", nonNil(counties)); err != nil {
		return nil, err
	}
	fips, err := transform.DeriveFIPSColumn(codes, "state", "county")
	if err != nil {
		return nil, err
	}

	t := table.New()
	if err := t.AddInts(CBSAColumn, nonNil(cbsa)); err != nil {
		return nil, err
	}
	if err := t.AddInts(transform.CountyFIPSColumn, fips); err != nil {
		return nil, err
	}
	return t, nil
}
