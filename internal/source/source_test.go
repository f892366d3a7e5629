package source

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/transform"
)

func defaultCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	return cat
}

func TestParseCities(t *testing.T) {
	cat := defaultCatalog(t)
	header := []string{"city", "state_id", "county_fips", "lat", "lng", "population", "density", "id"}
	rows := [][]string{
		{"San Francisco", "CA", "06075", "37.7558", "-122.4449", "3364862", "7141.1", "1840021543"},
		{"Nowhere", "CA", "", "37.0", "-122.0", "10", "1", "1840000001"},
		{"Seattle", "WA", "53033", "47.6211", "-122.3244", "3438221", "3402.5", "1840021117"},
	}

	tb, skipped, err := ParseCities(header, rows, cat.Cities.Columns)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 2, tb.Len())

	ids, err := tb.Ints(IDColumn)
	require.NoError(t, err)
	assert.Equal(t, []int64{1840021543, 1840021117}, ids)

	fips, err := tb.Ints(transform.CountyFIPSColumn)
	require.NoError(t, err)
	assert.Equal(t, []int64{6075, 53033}, fips)

	names, err := tb.Strings(CityColumn)
	require.NoError(t, err)
	assert.Equal(t, []string{"San Francisco", "Seattle"}, names)
}

func TestParseCities_DuplicateID(t *testing.T) {
	cat := defaultCatalog(t)
	header := []string{"id", "city", "state_id", "county_fips", "lat", "lng", "population", "density"}
	rows := [][]string{
		{"7", "A", "CA", "6075", "37", "-122", "1", "1"},
		{"7", "B", "CA", "6001", "37.5", "-122.1", "1", "1"},
	}
	_, _, err := ParseCities(header, rows, cat.Cities.Columns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate city id 7")
}

func TestParseCities_MissingColumn(t *testing.T) {
	cat := defaultCatalog(t)
	_, _, err := ParseCities([]string{"id", "city"}, nil, cat.Cities.Columns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "county_fips")
}

func TestParseWages_SentinelRules(t *testing.T) {
	cat := defaultCatalog(t)
	header := []string{"AREA", "AREA_TITLE", "OCC_TITLE", "TOT_EMP", "H_MEDIAN", "A_MEDIAN"}
	rows := [][]string{
		{"10180", "Abilene, TX", "Chief Executives", "40", "#", "#"},
		{"10180", "Abilene, TX", "Registered Nurses", "1,570", "37.50", "*"},
		{"10420", "Akron, OH", "Registered Nurses", "6,210", "**", "**"},
		{"10420", "Akron, OH", "Actors", "30", "*", "52,000"},
		{"99", "U.S.", "", "1", "1", "1"},
		{"US", "U.S.", "Actors", "1", "1", "1"},
	}

	tb, skipped, err := ParseWages(header, rows, cat.Wages.Columns, transform.DefaultWageRules())
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Equal(t, 4, tb.Len())

	income, err := tb.Floats(catalog.IncomeColumn)
	require.NoError(t, err)
	assert.InDelta(t, 239200.0, income[0], 1e-9)
	assert.InDelta(t, 37.50*40*52, income[1], 1e-9)
	assert.True(t, math.IsNaN(income[2]))
	assert.InDelta(t, 52000.0, income[3], 1e-9)

	emp, err := tb.Floats(EmploymentColumn)
	require.NoError(t, err)
	assert.InDelta(t, 1570.0, emp[1], 1e-9)
}

func TestFilterOccupationAndOccupations(t *testing.T) {
	cat := defaultCatalog(t)
	header := []string{"area", "occ_title", "h_median", "a_median", "tot_emp"}
	rows := [][]string{
		{"10180", "Registered Nurses", "", "75000", "10"},
		{"10420", "Actors", "", "40000", "3"},
		{"10420", "Registered Nurses", "", "80000", "20"},
	}
	tb, _, err := ParseWages(header, rows, cat.Wages.Columns, transform.DefaultWageRules())
	require.NoError(t, err)

	occs, err := Occupations(tb)
	require.NoError(t, err)
	assert.Equal(t, []string{"Actors", "Registered Nurses"}, occs)

	nurses, err := FilterOccupation(tb, "  registered nurses ")
	require.NoError(t, err)
	assert.Equal(t, 2, nurses.Len())
	assert.False(t, nurses.Has(OccupationColumn))
	cbsa, err := nurses.Ints(CBSAColumn)
	require.NoError(t, err)
	assert.Equal(t, []int64{10180, 10420}, cbsa)

	none, err := FilterOccupation(tb, "Astronauts")
	require.NoError(t, err)
	assert.Equal(t, 0, none.Len())
}

func TestParseCrosswalk(t *testing.T) {
	cat := defaultCatalog(t)
	header := []string{"cbsacode", "cbsatitle", "fipsstatecode", "fipscountycode"}
	rows := [][]string{
		{"41860", "San Francisco-Oakland-Berkeley, CA", "06", "075"},
		{"41860", "San Francisco-Oakland-Berkeley, CA", "6", "1"},
		{"", "", "", ""},
	}
	tb, err := ParseCrosswalk(header, rows, cat.Crosswalk.Columns)
	require.NoError(t, err)
	fips, err := tb.Ints(transform.CountyFIPSColumn)
	require.NoError(t, err)
	assert.Equal(t, []int64{6075, 6001}, fips)
}

func TestParseCrosswalk_BadCounty(t *testing.T) {
	cat := defaultCatalog(t)
	header := []string{"cbsacode", "fipsstatecode", "fipscountycode"}
	rows := [][]string{{"41860", "06", "07A"}}
	_, err := ParseCrosswalk(header, rows, cat.Crosswalk.Columns)
	require.Error(t, err)
	var kde *transform.KeyDerivationError
	assert.True(t, errors.As(err, &kde))
}

func TestParseCounty_FIPSKey(t *testing.T) {
	src := catalog.CountySource{
		Name:    "rent",
		Key:     catalog.KeySpec{FIPS: "fips"},
		Columns: map[string]string{"median_rent": "median_gross_rent"},
	}
	header := []string{"fips", "median_gross_rent"}
	rows := [][]string{{"06075", "2,130"}, {"53033", "(X)"}}

	tb, err := ParseCounty(header, rows, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"county_fips", "median_rent"}, tb.Names())
	rent, err := tb.Floats("median_rent")
	require.NoError(t, err)
	assert.InDelta(t, 2130.0, rent[0], 1e-9)
	assert.True(t, math.IsNaN(rent[1]))
}

func TestParseCounty_DerivedKey(t *testing.T) {
	src := catalog.CountySource{
		Name:    "demographics",
		Key:     catalog.KeySpec{State: "state", County: "county"},
		Columns: map[string]string{"median_age": "median_age", "pct_female": "pct_female"},
	}
	header := []string{"state", "county", "median_age", "pct_female"}
	rows := [][]string{{"6", "75", "38.2", "49.1"}, {"6", "5", "51.0", "48.0"}}

	tb, err := ParseCounty(header, rows, src)
	require.NoError(t, err)
	fips, err := tb.Ints(transform.CountyFIPSColumn)
	require.NoError(t, err)
	assert.Equal(t, []int64{6075, 6005}, fips)
	assert.Equal(t, []string{"county_fips", "median_age", "pct_female"}, tb.Names())
}

func TestParseCounty_BadFIPS(t *testing.T) {
	src := catalog.CountySource{Name: "rent", Key: catalog.KeySpec{FIPS: "fips"}, Columns: map[string]string{"r": "r"}}
	_, err := ParseCounty([]string{"fips", "r"}, [][]string{{"06075", "1"}, {"xx", "2"}}, src)
	require.Error(t, err)
	var kde *transform.KeyDerivationError
	require.True(t, errors.As(err, &kde))
	assert.Equal(t, 1, kde.Row)
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoader_ReadsCatalogFiles(t *testing.T) {
	dir := t.TempDir()
	cat := defaultCatalog(t)
	cat.Wages.Path = "income/oews.csv"

	writeFile(t, dir, "cities/uscities.csv", strings.Join([]string{
		"id,city,state_id,county_fips,lat,lng,population,density",
		"1,San Francisco,CA,06075,37.7558,-122.4449,3364862,7141.1",
	}, "\n"))
	writeFile(t, dir, "income/oews.csv", strings.Join([]string{
		"area,occ_title,h_median,a_median,tot_emp",
		"41860,Registered Nurses,,150000,100",
	}, "\n"))
	writeFile(t, dir, "crosswalk/cbsa2fipsxw.csv", strings.Join([]string{
		"cbsacode,fipsstatecode,fipscountycode",
		"41860,06,075",
	}, "\n"))
	writeFile(t, dir, "county/rent.csv", "fips,median_gross_rent\n06075,2130\n")

	l := NewLoader(dir, cat, transform.DefaultWageRules())
	ctx := context.Background()

	cities, err := l.Cities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cities.Len())

	occs, err := l.Occupations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Registered Nurses"}, occs)

	// The wage file is memoized: removing it does not affect later calls.
	require.NoError(t, os.Remove(filepath.Join(dir, "income/oews.csv")))
	nurses, err := l.WagesFor(ctx, "Registered Nurses")
	require.NoError(t, err)
	assert.Equal(t, 1, nurses.Len())

	xw, err := l.Crosswalk(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, xw.Len())

	reg := NewRegistry(cat)
	rent, err := reg.Get("rent")
	require.NoError(t, err)
	rt, err := l.County(ctx, rent)
	require.NoError(t, err)
	assert.Equal(t, 1, rt.Len())

	housing, err := reg.Get("housing")
	require.NoError(t, err)
	_, err = l.County(ctx, housing)
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	cat := defaultCatalog(t)
	reg := NewRegistry(cat)

	assert.Equal(t, []string{"demographics", "rent", "housing", "politics", "climate", "education"}, reg.Names())

	sel, err := reg.Select([]string{"climate", "rent"})
	require.NoError(t, err)
	require.Len(t, sel, 2)
	assert.Equal(t, "rent", sel[0].Name)
	assert.Equal(t, "climate", sel[1].Name)

	_, err = reg.Select([]string{"weather"})
	require.Error(t, err)

	_, err = reg.Get("weather")
	require.Error(t, err)

	all, err := reg.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, len(cat.Counties))
}

func TestLoader_WagesRetryAfterCancelledLoad(t *testing.T) {
	dir := t.TempDir()
	cat := defaultCatalog(t)
	cat.Wages.Path = "oews.csv"
	writeFile(t, dir, "oews.csv", strings.Join([]string{
		"area,occ_title,h_median,a_median,tot_emp",
		"41860,Registered Nurses,,150000,100",
		"41860,Actors,20.00,*,5",
	}, "\n"))
	l := NewLoader(dir, cat, transform.DefaultWageRules())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Occupations(cancelled)
	require.Error(t, err)

	occs, err := l.Occupations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Actors", "Registered Nurses"}, occs)
}
