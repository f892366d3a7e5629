package explorer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/config"
	"github.com/sells-group/city-explorer/internal/fusion"
	"github.com/sells-group/city-explorer/internal/rank"
	"github.com/sells-group/city-explorer/internal/table"
)

const testCatalog = `
cities:
  file: cities.csv
  columns: {id: id, name: city, state: state_id, county_fips: county_fips, lat: lat, lng: lng, population: population, density: density}
wages:
  file: wages.csv
  columns: {area: area, occupation: occ_title, annual: a_median}
crosswalk:
  file: xw.csv
  columns: {cbsa: cbsacode, state: fipsstatecode, county: fipscountycode}
counties:
  - name: demographics
    file: demo.csv
    join: inner
    key: {fips: fips}
    columns: {median_age: median_age}
sliders:
  - {name: population, columns: [population]}
  - {name: population_density, aliases: [population_denisty], columns: [density]}
  - {name: income, columns: [income]}
  - {name: age, columns: [median_age]}
`

// fakeBuilder returns a fixed fused table for the known occupations.
type fakeBuilder struct {
	occupations []string
	calls       atomic.Int32
	forced      atomic.Int32
	err         error
	gate        chan struct{}
}

func (f *fakeBuilder) Occupations(context.Context) ([]string, error) {
	return f.occupations, nil
}

func (f *fakeBuilder) Build(_ context.Context, occupation string, opts ...fusion.BuildOption) (*fusion.Result, error) {
	n := f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(opts) > 0 {
		f.forced.Add(1)
	}
	t := table.New()
	for _, err := range []error{
		t.AddInts("id", []int64{1, 2, 3, 4}),
		t.AddStrings("city", []string{"Alpha", "Bravo", "Charlie", "Delta"}),
		t.AddStrings("state", []string{"NE", "NE", "CA", "NE"}),
		t.AddInts("county_fips", []int64{1001, 1003, 6075, 1001}),
		t.AddFloats("population", []float64{1000, 1100, 5000, 1000}),
		t.AddFloats("density", []float64{10, 11, 50, 10}),
		t.AddFloats("income", []float64{50000, 51000, 90000, 50000}),
		t.AddFloats("median_age", []float64{30, 31, 45, 30}),
	} {
		if err != nil {
			return nil, err
		}
	}
	return &fusion.Result{
		Table:      t,
		BuildID:    fmt.Sprintf("build-%d", n),
		Occupation: occupation,
		CacheKey:   fusion.CacheKey(occupation),
	}, nil
}

func newExplorer(t *testing.T, b Builder) *Explorer {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	return New(b, cat, Options{Scaler: "standard", Metric: rank.Euclidean, Concurrency: 2})
}

func nurses() *fakeBuilder {
	return &fakeBuilder{occupations: []string{"Actors", "Registered Nurses"}}
}

func ids(results []rank.Result) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.CityID
	}
	return out
}

func TestPredictSimilarCities_Ordering(t *testing.T) {
	e := newExplorer(t, nurses())

	results, err := e.PredictSimilarCities(context.Background(), 1, "Registered Nurses", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4, 2, 3}, ids(results))
	assert.Zero(t, results[0].Score)
	assert.Zero(t, results[1].Score, "identical city")
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestPredictSimilarCities_LimitAndExcludeSelf(t *testing.T) {
	e := newExplorer(t, nurses())
	ctx := context.Background()

	results, err := e.PredictSimilarCities(ctx, 1, "registered nurses", nil, 2, WithExcludeSelf())
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2}, ids(results))

	results, err = e.PredictSimilarCities(ctx, 3, "Registered Nurses", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(results))
}

func TestPredictSimilarCities_MetricOverride(t *testing.T) {
	e := newExplorer(t, nurses())
	ctx := context.Background()

	l2, err := e.PredictSimilarCities(ctx, 1, "Actors", nil, 0)
	require.NoError(t, err)
	l1, err := e.PredictSimilarCities(ctx, 1, "Actors", nil, 0, WithMetric(rank.Manhattan))
	require.NoError(t, err)
	assert.Equal(t, ids(l2), ids(l1))
	assert.Greater(t, l1[3].Score, l2[3].Score)
}

func TestPredictSimilarCities_SliderWeights(t *testing.T) {
	e := newExplorer(t, nurses())
	ctx := context.Background()

	only := map[string]float64{"population": 0, "population_denisty": 0, "income": 1, "age": 0}
	results, err := e.PredictSimilarCities(ctx, 1, "Actors", only, 0)
	require.NoError(t, err)

	doubled := map[string]float64{"population": 0, "population_density": 0, "income": 2, "age": 0}
	twice, err := e.PredictSimilarCities(ctx, 1, "Actors", doubled, 0)
	require.NoError(t, err)
	require.Len(t, twice, len(results))
	for i := range results {
		assert.InDelta(t, 2*results[i].Score, twice[i].Score, 1e-9)
	}
}

func TestPredictSimilarCities_Errors(t *testing.T) {
	e := newExplorer(t, nurses())
	ctx := context.Background()

	_, err := e.PredictSimilarCities(ctx, 99, "Actors", nil, 0)
	var uce *rank.UnknownCityError
	require.True(t, errors.As(err, &uce))
	assert.Equal(t, int64(99), uce.CityID)

	zero := map[string]float64{"population": 0, "population_density": 0, "income": 0, "age": 0}
	_, err = e.PredictSimilarCities(ctx, 1, "Actors", zero, 0)
	var efe *rank.EmptyFeatureSetError
	assert.True(t, errors.As(err, &efe))

	_, err = e.PredictSimilarCities(ctx, 1, "Astronauts", nil, 0)
	var uke *UnknownConfigError
	require.True(t, errors.As(err, &uke))
	assert.Equal(t, "occupation_title", uke.Parameter)
	assert.Contains(t, err.Error(), "Registered Nurses")

	_, err = e.PredictSimilarCities(ctx, 1, "Actors", map[string]float64{"weather": 1}, 0)
	require.True(t, errors.As(err, &uke))
	assert.Equal(t, "slider", uke.Parameter)
}

func TestWeights(t *testing.T) {
	e := newExplorer(t, nurses())

	w, err := e.Weights(map[string]float64{"AGE": 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"population": 1, "density": 1, "income": 1, "median_age": 3}, w)
}

func TestSnapshot_SharedBuild(t *testing.T) {
	b := nurses()
	b.gate = make(chan struct{})
	e := newExplorer(t, b)
	ctx := context.Background()

	var wg sync.WaitGroup
	snaps := make([]*Snapshot, 8)
	for i := range snaps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := e.Snapshot(ctx, "Actors")
			assert.NoError(t, err)
			snaps[i] = s
		}()
	}
	close(b.gate)
	wg.Wait()

	assert.Equal(t, int32(1), b.calls.Load())
	for _, s := range snaps {
		assert.Same(t, snaps[0], s)
	}
}

func TestRebuild_SwapsSnapshot(t *testing.T) {
	b := nurses()
	e := newExplorer(t, b)
	ctx := context.Background()

	before, err := e.Snapshot(ctx, "Actors")
	require.NoError(t, err)
	after, err := e.Rebuild(ctx, "actors")
	require.NoError(t, err)

	assert.NotEqual(t, before.BuildID, after.BuildID)
	assert.Equal(t, int32(1), b.forced.Load())
	current, ok := e.Loaded("Actors")
	require.True(t, ok)
	assert.Same(t, after, current)
	assert.Equal(t, 4, before.Fused.Len(), "old snapshot stays usable")
}

func TestSnapshot_TitlesWithSameSlug(t *testing.T) {
	b := &fakeBuilder{occupations: []string{"Cafe Owners", "Café Owners"}}
	e := newExplorer(t, b)
	ctx := context.Background()

	plain, err := e.Snapshot(ctx, "Cafe Owners")
	require.NoError(t, err)
	accented, err := e.Snapshot(ctx, "café owners")
	require.NoError(t, err)

	assert.Equal(t, int32(2), b.calls.Load())
	assert.NotSame(t, plain, accented)
	assert.Equal(t, "Cafe Owners", plain.Occupation)
	assert.Equal(t, "Café Owners", accented.Occupation)
	assert.NotEqual(t, fusion.CacheKey(plain.Occupation), fusion.CacheKey(accented.Occupation))
	assert.Equal(t, []string{"Cafe Owners", "Café Owners"}, e.LoadedOccupations())
}

func TestWarm(t *testing.T) {
	b := nurses()
	e := newExplorer(t, b)

	require.NoError(t, e.Warm(context.Background(), nil))
	assert.Equal(t, int32(2), b.calls.Load())
	assert.ElementsMatch(t, []string{"Actors", "Registered Nurses"}, e.LoadedOccupations())

	failing := &fakeBuilder{occupations: []string{"Actors"}, err: errors.New("disk gone")}
	err := newExplorer(t, failing).Warm(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestSnapshot_ContextCancelled(t *testing.T) {
	b := nurses()
	b.gate = make(chan struct{})
	e := newExplorer(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Snapshot(ctx, "Actors")
	assert.ErrorIs(t, err, context.Canceled)
	close(b.gate)
}

func TestSimilar_Describe(t *testing.T) {
	e := newExplorer(t, nurses())

	matches, err := e.Similar(context.Background(), 3, "Actors", nil, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, Match{CityID: 3, City: "Charlie", State: "CA", CountyFIPS: "06075", Score: 0}, matches[0])
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.RankingConfig{Scaler: "minmax", Metric: "manhattan"}, config.FusionConfig{BuildConcurrency: 3})
	require.NoError(t, err)
	assert.Equal(t, Options{Scaler: "minmax", Metric: rank.Manhattan, Concurrency: 3}, opts)

	_, err = OptionsFromConfig(config.RankingConfig{Scaler: "robust", Metric: "euclidean"}, config.FusionConfig{})
	require.Error(t, err)
}

func TestUnknownConfigError_Truncates(t *testing.T) {
	valid := make([]string, 25)
	for i := range valid {
		valid[i] = fmt.Sprintf("occ%02d", i)
	}
	err := &UnknownConfigError{Parameter: "occupation_title", Value: "x", Valid: valid}
	assert.Contains(t, err.Error(), "occ19")
	assert.NotContains(t, err.Error(), "occ20")
	assert.Contains(t, err.Error(), "(and 5 more)")

	bare := &UnknownConfigError{Parameter: "slider", Value: "y"}
	assert.Equal(t, `explorer: unknown slider "y"`, bare.Error())
}
