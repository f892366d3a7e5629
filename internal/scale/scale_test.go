package scale

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/city-explorer/internal/table"
)

func TestStandard(t *testing.T) {
	s := &Standard{}
	require.NoError(t, s.Fit([][]float64{{2, 4, 4, 4, 5, 5, 7, 9}}))
	assert.Equal(t, 5.0, s.Means[0])
	assert.Equal(t, 2.0, s.Stds[0])

	out, err := s.Transform([][]float64{{5, 7, 1}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, -2}, out[0])
}

func TestStandard_ConstantColumnMapsToZero(t *testing.T) {
	s := &Standard{}
	require.NoError(t, s.Fit([][]float64{{0.1, 0.1, 0.1}, {1, 2, 3}}))

	out, err := s.Transform([][]float64{{0.1, 0.1, 0.1}, {1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, out[0])
	for _, v := range out[1] {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}

func TestMinMax(t *testing.T) {
	m := &MinMax{}
	require.NoError(t, m.Fit([][]float64{{10, 20, 30}, {7, 7, 7}}))

	out, err := m.Transform([][]float64{{10, 25, 30}, {7, 8, 7}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.75, 1}, out[0])
	assert.Equal(t, []float64{0, 0, 0}, out[1])
}

func TestNormalizer_Errors(t *testing.T) {
	for _, n := range []Normalizer{&Standard{}, &MinMax{}} {
		_, err := n.Transform([][]float64{{1}})
		assert.True(t, errors.Is(err, ErrNotFitted), "%T", n)

		assert.Error(t, n.Fit(nil), "%T", n)
		assert.Error(t, n.Fit([][]float64{{}}), "%T", n)
		assert.Error(t, n.Fit([][]float64{{1, math.NaN()}}), "%T", n)

		require.NoError(t, n.Fit([][]float64{{1, 2}}))
		_, err = n.Transform([][]float64{{1}, {2}})
		assert.Error(t, err, "%T", n)
		_, err = n.Transform([][]float64{{math.Inf(1)}})
		assert.Error(t, err, "%T", n)
	}
}

func corpus(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New()
	require.NoError(t, tbl.AddInts("id", []int64{1, 2, 3}))
	require.NoError(t, tbl.AddInts("population", []int64{100, 200, 300}))
	require.NoError(t, tbl.AddFloats("rent", []float64{1000, 1000, 1000}))
	require.NoError(t, tbl.AddStrings("city", []string{"a", "b", "c"}))
	return tbl
}

func TestNew(t *testing.T) {
	s, err := New("standard", []string{"population"})
	require.NoError(t, err)
	assert.IsType(t, &Standard{}, s.norm)

	s, err = New("minmax", []string{"population"})
	require.NoError(t, err)
	assert.IsType(t, &MinMax{}, s.norm)

	_, err = New("robust", []string{"population"})
	require.Error(t, err)

	_, err = New("standard", nil)
	require.Error(t, err)

	_, err = New("standard", []string{"a", "a"})
	require.Error(t, err)
}

func TestColumnScaler_FitTransform(t *testing.T) {
	s, err := New("minmax", []string{"population", "rent"})
	require.NoError(t, err)

	out, err := s.FitTransform(corpus(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "population", "rent", "city"}, out.Names())

	pop, err := out.Floats("population")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1}, pop)

	rent, _ := out.Floats("rent")
	assert.Equal(t, []float64{0, 0, 0}, rent)

	ids, err := out.Ints("id")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.Equal(t, []string{"population", "rent"}, s.Columns())
}

func TestColumnScaler_TransformDoesNotRefit(t *testing.T) {
	s, err := New("minmax", []string{"population"})
	require.NoError(t, err)
	require.NoError(t, s.Fit(corpus(t)))

	other := table.New()
	require.NoError(t, other.AddInts("population", []int64{400}))
	out, err := s.Transform(other)
	require.NoError(t, err)

	pop, _ := out.Floats("population")
	assert.Equal(t, 1.5, pop[0])
}

func TestColumnScaler_Errors(t *testing.T) {
	s, err := New("standard", []string{"population"})
	require.NoError(t, err)

	_, err = s.Transform(corpus(t))
	assert.True(t, errors.Is(err, ErrNotFitted))

	bad, err := New("standard", []string{"city"})
	require.NoError(t, err)
	assert.Error(t, bad.Fit(corpus(t)))

	missing, err := New("standard", []string{"nope"})
	require.NoError(t, err)
	assert.Error(t, missing.Fit(corpus(t)))
}
