package source

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/fetcher"
	"github.com/sells-group/city-explorer/internal/table"
	"github.com/sells-group/city-explorer/internal/transform"
)

// Wages returns every OEWS row as cbsa, occupation, income and tot_emp.
// A failed or cancelled parse is not cached.
func (l *Loader) Wages(ctx context.Context) (*table.Table, error) {
	l.wagesMu.Lock()
	defer l.wagesMu.Unlock()

	if l.wages != nil {
		return l.wages, nil
	}
	header, rows, err := l.read(ctx, l.cat.Wages.File)
	if err != nil {
		return nil, err
	}
	t, skipped, err := ParseWages(header, rows, l.cat.Wages.Columns, l.rules)
	if err != nil {
		return nil, eris.Wrapf(err, "source: wages %s", l.cat.Wages.Path)
	}
	if skipped > 0 {
		l.log.Debug("skipped wage rows without an area code", zap.Int("skipped", skipped))
	}
	l.wages = t
	return t, nil
}

// WagesFor returns cbsa, income and tot_emp for one occupation, matched
// case-insensitively. An unknown occupation yields an empty table.
func (l *Loader) WagesFor(ctx context.Context, occupation string) (*table.Table, error) {
	all, err := l.Wages(ctx)
	if err != nil {
		return nil, err
	}
	return FilterOccupation(all, occupation)
}

// Occupations returns the distinct occupation titles in ascending order.
func (l *Loader) Occupations(ctx context.Context) ([]string, error) {
	all, err := l.Wages(ctx)
	if err != nil {
		return nil, err
	}
	return Occupations(all)
}

// ParseWages converts OEWS records into a wage table. The annual median
// comes from transform.AnnualWage; rows whose area is not a numeric code
// (national or state totals in some extracts) are skipped.
func ParseWages(header []string, rows [][]string, cols catalog.WageColumns, rules transform.WageRules) (*table.Table, int, error) {
	colIdx := fetcher.ColumnIndex(header)
	if err := requireColumns(colIdx, "wages", cols.Area, cols.Occupation); err != nil {
		return nil, 0, err
	}
	if cols.Hourly == "" && cols.Annual == "" {
		return nil, 0, eris.New("source: wages need an hourly or annual column")
	}

	var (
		cbsa    []int64
		titles  []string
		income  []float64
		emp     []float64
		skipped int
	)
	for _, rec := range rows {
		area, err := strconv.ParseInt(strings.TrimSpace(fetcher.Field(rec, colIdx, cols.Area)), 10, 64)
		if err != nil {
			skipped++
			continue
		}
		title := strings.TrimSpace(fetcher.Field(rec, colIdx, cols.Occupation))
		if title == "" {
			skipped++
			continue
		}
		cbsa = append(cbsa, area)
		titles = append(titles, title)
		income = append(income, transform.AnnualWage(
			fetcher.Field(rec, colIdx, cols.Hourly),
			fetcher.Field(rec, colIdx, cols.Annual),
			rules,
		))
		w := math.NaN()
		if cols.Employment != "" {
			w = transform.ParseNumber(fetcher.Field(rec, colIdx, cols.Employment))
		}
		emp = append(emp, w)
	}

	t := table.New()
	for _, err := range []error{
		t.AddInts(CBSAColumn, nonNil(cbsa)),
		t.AddStrings(OccupationColumn, nonNil(titles)),
		t.AddFloats(catalog.IncomeColumn, nonNil(income)),
		t.AddFloats(EmploymentColumn, nonNil(emp)),
	} {
		if err != nil {
			return nil, 0, err
		}
	}
	return t, skipped, nil
}

// FilterOccupation keeps the rows of one occupation and drops the title.
func FilterOccupation(wages *table.Table, occupation string) (*table.Table, error) {
	titles, err := wages.Strings(OccupationColumn)
	if err != nil {
		return nil, err
	}
	want := strings.TrimSpace(occupation)
	sub := wages.Filter(func(i int) bool { return strings.EqualFold(titles[i], want) })
	return sub.Drop(OccupationColumn), nil
}

// Occupations returns the distinct titles of a wage table, sorted.
func Occupations(wages *table.Table) ([]string, error) {
	titles, err := wages.Strings(OccupationColumn)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, title := range titles {
		if !seen[title] {
			seen[title] = true
			out = append(out, title)
		}
	}
	sort.Strings(out)
	return out, nil
}
