package source

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/fetcher"
	"github.com/sells-group/city-explorer/internal/table"
	"github.com/sells-group/city-explorer/internal/transform"
)

// County loads one county attribute family as county_fips plus one float
// column per declared feature. Keys may repeat; callers aggregate.
func (l *Loader) County(ctx context.Context, src catalog.CountySource) (*table.Table, error) {
	header, rows, err := l.read(ctx, src.File)
	if err != nil {
		return nil, err
	}
	t, err := ParseCounty(header, rows, src)
	if err != nil {
		return nil, eris.Wrapf(err, "source: county source %s", src.Name)
	}
	return t, nil
}

// ParseCounty converts county records. The key is read from a combined
// FIPS column or derived from state and county code columns.
func ParseCounty(header []string, rows [][]string, src catalog.CountySource) (*table.Table, error) {
	colIdx := fetcher.ColumnIndex(header)
	if src.Key.Derive() {
		if err := requireColumns(colIdx, src.Name, src.Key.State, src.Key.County); err != nil {
			return nil, err
		}
	} else if err := requireColumns(colIdx, src.Name, src.Key.FIPS); err != nil {
		return nil, err
	}
	features := src.Features()
	for _, f := range features {
		if err := requireColumns(colIdx, src.Name, src.Columns[f]); err != nil {
			return nil, err
		}
	}

	keys, err := countyKeys(rows, colIdx, src.Key)
	if err != nil {
		return nil, err
	}

	t := table.New()
	if err := t.AddInts(transform.CountyFIPSColumn, keys); err != nil {
		return nil, err
	}
	for _, f := range features {
		vals := make([]float64, len(rows))
		for i, rec := range rows {
			vals[i] = transform.ParseNumber(fetcher.Field(rec, colIdx, src.Columns[f]))
		}
		if err := t.AddFloats(f, vals); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func countyKeys(rows [][]string, colIdx map[string]int, key catalog.KeySpec) ([]int64, error) {
	if !key.Derive() {
		out := make([]int64, len(rows))
		for i, rec := range rows {
			v, err := transform.ParseFIPS(fetcher.Field(rec, colIdx, key.FIPS))
			if err != nil {
				var kde *transform.KeyDerivationError
				if errors.As(err, &kde) {
					kde.Row = i
				}
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	states := make([]string, len(rows))
	counties := make([]string, len(rows))
	for i, rec := range rows {
		states[i] = fetcher.Field(rec, colIdx, key.State)
		counties[i] = fetcher.Field(rec, colIdx, key.County)
	}
	codes := table.New()
	if err := codes.AddStrings("state", states); err != nil {
		return nil, err
	}
	if err := codes.AddStrings("county", counties); err != nil {
		return nil, err
	}
	return transform.DeriveFIPSColumn(codes, "state", "county")
}
