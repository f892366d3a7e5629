package merge

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/city-explorer/internal/table"
)

func cities(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New()
	require.NoError(t, tbl.AddInts("id", []int64{10, 11, 12, 13}))
	require.NoError(t, tbl.AddInts("county_fips", []int64{6075, 6001, 6075, 48453}))
	require.NoError(t, tbl.AddStrings("name", []string{"San Francisco", "Oakland", "Daly City", "Austin"}))
	return tbl
}

func counties(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New()
	require.NoError(t, tbl.AddInts("county_fips", []int64{6001, 6075}))
	require.NoError(t, tbl.AddFloats("median_rent", []float64{2100, 2600}))
	require.NoError(t, tbl.AddInts("households", []int64{600, 350}))
	require.NoError(t, tbl.AddStrings("name", []string{"Alameda", "San Francisco"}))
	return tbl
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"inner", Inner},
		{"INNER", Inner},
		{"left", Left},
		{"broadcast", Left},
		{"", Left},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		require.NoError(t, err, "input: %q", tt.in)
		assert.Equal(t, tt.want, got, "input: %q", tt.in)
	}

	_, err := ParseMode("outer")
	require.Error(t, err)
	assert.Equal(t, "inner", Inner.String())
	assert.Equal(t, "left", Left.String())
}

func TestJoin_LeftBroadcastsCountyValues(t *testing.T) {
	out, err := Join(cities(t), counties(t), Key("county_fips"), Left)
	require.NoError(t, err)

	assert.Equal(t, 4, out.Len())
	assert.Equal(t, []string{"id", "county_fips", "name", "median_rent", "households", "name_right"}, out.Names())

	ids, _ := out.Ints("id")
	assert.Equal(t, []int64{10, 11, 12, 13}, ids)

	rent, err := out.Floats("median_rent")
	require.NoError(t, err)
	assert.Equal(t, 2600.0, rent[0])
	assert.Equal(t, 2100.0, rent[1])
	assert.Equal(t, 2600.0, rent[2])
	assert.True(t, math.IsNaN(rent[3]))

	// Int secondary columns turn into floats so unmatched rows stay missing.
	hh, err := out.Floats("households")
	require.NoError(t, err)
	assert.Equal(t, 350.0, hh[0])
	assert.True(t, math.IsNaN(hh[3]))

	right, _ := out.Strings("name_right")
	assert.Equal(t, "", right[3])
}

func TestJoin_InnerDropsUnmatched(t *testing.T) {
	out, err := Join(cities(t), counties(t), Key("county_fips"), Inner)
	require.NoError(t, err)

	ids, _ := out.Ints("id")
	assert.Equal(t, []int64{10, 11, 12}, ids)

	hh, err := out.Ints("households")
	require.NoError(t, err)
	assert.Equal(t, []int64{350, 600, 350}, hh)
}

func TestJoin_DoesNotMutateInputs(t *testing.T) {
	base := cities(t)
	other := counties(t)
	before := base.Clone()

	_, err := Join(base, other, Key("county_fips"), Left)
	require.NoError(t, err)
	assert.True(t, base.Equal(before))
	assert.Equal(t, 3, base.Width())
}

func TestJoin_DuplicateSecondaryKey(t *testing.T) {
	other := table.New()
	require.NoError(t, other.AddInts("county_fips", []int64{6075, 6075, 6001}))
	require.NoError(t, other.AddFloats("income", []float64{1, 2, 3}))

	_, err := Join(cities(t), other, Key("county_fips"), Left)
	var ce *CardinalityError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, int64(6075), ce.Key)
	assert.Equal(t, 2, ce.Rows)
}

func TestJoin_DifferentKeyNames(t *testing.T) {
	other := table.New()
	require.NoError(t, other.AddInts("fips", []int64{48453}))
	require.NoError(t, other.AddFloats("snowfall", []float64{0.2}))

	out, err := Join(cities(t), other, On{Left: "county_fips", Right: "fips"}, Inner)
	require.NoError(t, err)
	assert.False(t, out.Has("fips"))
	assert.Equal(t, 1, out.Len())
}

func TestJoin_RejectsNonIntKey(t *testing.T) {
	_, err := Join(cities(t), counties(t), Key("name"), Left)
	require.Error(t, err)
}

func TestAggregate_Mean(t *testing.T) {
	tbl := table.New()
	require.NoError(t, tbl.AddInts("county_fips", []int64{6075, 6001, 6075, 6075}))
	require.NoError(t, tbl.AddFloats("income", []float64{50000, 80000, 70000, math.NaN()}))
	require.NoError(t, tbl.AddInts("tot_emp", []int64{100, 50, 300, 10}))
	require.NoError(t, tbl.AddStrings("area", []string{"", "Oakland", "SF", "SF2"}))

	out, err := Aggregate(tbl, "county_fips", AggregateOptions{})
	require.NoError(t, err)

	keys, _ := out.Ints("county_fips")
	assert.Equal(t, []int64{6075, 6001}, keys)

	income, _ := out.Floats("income")
	assert.Equal(t, []float64{60000, 80000}, income)

	emp, err := out.Floats("tot_emp")
	require.NoError(t, err)
	assert.InDelta(t, 136.6666, emp[0], 1e-3)

	area, _ := out.Strings("area")
	assert.Equal(t, []string{"SF", "Oakland"}, area)

	dup, err := HasDuplicates(out, "county_fips")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestAggregate_Weighted(t *testing.T) {
	tbl := table.New()
	require.NoError(t, tbl.AddInts("county_fips", []int64{6075, 6075, 6001}))
	require.NoError(t, tbl.AddFloats("income", []float64{50000, 70000, 80000}))
	require.NoError(t, tbl.AddFloats("tot_emp", []float64{100, 300, math.NaN()}))

	out, err := Aggregate(tbl, "county_fips", AggregateOptions{Reduce: Weighted, Weight: "tot_emp"})
	require.NoError(t, err)

	income, _ := out.Floats("income")
	assert.InDelta(t, 65000, income[0], 1e-9)
	// No usable weight: unweighted fallback.
	assert.InDelta(t, 80000, income[1], 1e-9)

	emp, _ := out.Floats("tot_emp")
	assert.Equal(t, 400.0, emp[0])
	assert.True(t, math.IsNaN(emp[1]))
}

func TestAggregate_WeightedNeedsColumn(t *testing.T) {
	tbl := table.New()
	require.NoError(t, tbl.AddInts("county_fips", []int64{1}))

	_, err := Aggregate(tbl, "county_fips", AggregateOptions{Reduce: Weighted})
	require.Error(t, err)

	_, err = Aggregate(tbl, "county_fips", AggregateOptions{Reduce: Weighted, Weight: "missing"})
	require.Error(t, err)
}

func TestParseReduce(t *testing.T) {
	r, err := ParseReduce("weighted")
	require.NoError(t, err)
	assert.Equal(t, Weighted, r)
	assert.Equal(t, "weighted", r.String())

	r, err = ParseReduce("")
	require.NoError(t, err)
	assert.Equal(t, Mean, r)

	_, err = ParseReduce("median")
	require.Error(t, err)
}
