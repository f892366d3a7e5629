// Package explorer serves similarity queries over fused city tables. One
// snapshot is kept per occupation; rebuilds replace the whole snapshot map
// so readers never lock.
package explorer

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/config"
	"github.com/sells-group/city-explorer/internal/fusion"
	"github.com/sells-group/city-explorer/internal/rank"
	"github.com/sells-group/city-explorer/internal/scale"
)

// Builder produces fused tables. *fusion.Builder implements it.
type Builder interface {
	Build(ctx context.Context, occupation string, opts ...fusion.BuildOption) (*fusion.Result, error)
	Occupations(ctx context.Context) ([]string, error)
}

// Options configures an Explorer.
type Options struct {
	Scaler      string
	Metric      rank.Metric
	Concurrency int
}

// OptionsFromConfig converts the ranking and fusion settings.
func OptionsFromConfig(r config.RankingConfig, f config.FusionConfig) (Options, error) {
	m, err := rank.ParseMetric(r.Metric)
	if err != nil {
		return Options{}, err
	}
	if _, err := scale.New(r.Scaler, []string{"population"}); err != nil {
		return Options{}, err
	}
	return Options{Scaler: r.Scaler, Metric: m, Concurrency: f.BuildConcurrency}, nil
}

// Explorer answers similarity queries.
type Explorer struct {
	builder Builder
	cat     *catalog.Catalog
	opts    Options
	log     *zap.Logger

	snaps  atomic.Pointer[map[string]*Snapshot]
	swapMu sync.Mutex // serializes writers of snaps
	group  singleflight.Group
}

// New creates an Explorer over b and the catalog it fuses.
func New(b Builder, cat *catalog.Catalog, opts Options) *Explorer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	e := &Explorer{
		builder: b,
		cat:     cat,
		opts:    opts,
		log:     zap.L().With(zap.String("component", "explorer")),
	}
	empty := map[string]*Snapshot{}
	e.snaps.Store(&empty)
	return e
}

// Catalog returns the catalog whose sliders the explorer accepts.
func (e *Explorer) Catalog() *catalog.Catalog { return e.cat }

// Metric returns the configured distance metric.
func (e *Explorer) Metric() rank.Metric { return e.opts.Metric }

// Occupations returns the valid occupation titles, sorted.
func (e *Explorer) Occupations(ctx context.Context) ([]string, error) {
	return e.builder.Occupations(ctx)
}

// ResolveOccupation maps a title onto its canonical spelling, ignoring case
// and surrounding space. An unknown title fails with *UnknownConfigError.
func (e *Explorer) ResolveOccupation(ctx context.Context, occupation string) (string, error) {
	valid, err := e.Occupations(ctx)
	if err != nil {
		return "", err
	}
	if len(valid) == 0 && e.cat.Wages.Path == "" {
		return "", nil
	}
	want := strings.TrimSpace(occupation)
	for _, v := range valid {
		if strings.EqualFold(v, want) {
			return v, nil
		}
	}
	return "", &UnknownConfigError{Parameter: "occupation_title", Value: occupation, Valid: valid}
}

// Loaded returns the snapshot for the canonical title occupation if it is
// already in memory.
func (e *Explorer) Loaded(occupation string) (*Snapshot, bool) {
	s, ok := (*e.snaps.Load())[occupation]
	return s, ok
}

// LoadedOccupations lists the occupations with an in-memory snapshot,
// sorted.
func (e *Explorer) LoadedOccupations() []string {
	m := *e.snaps.Load()
	out := make([]string, 0, len(m))
	for _, s := range m {
		out = append(out, s.Occupation)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns the snapshot for occupation, building it on first use.
// Concurrent callers for the same occupation share one build.
func (e *Explorer) Snapshot(ctx context.Context, occupation string) (*Snapshot, error) {
	occ, err := e.ResolveOccupation(ctx, occupation)
	if err != nil {
		return nil, err
	}
	if s, ok := e.Loaded(occ); ok {
		return s, nil
	}
	return e.load(ctx, occ, false)
}

// Rebuild builds occupation from the sources, bypassing the cache, and
// swaps the new snapshot in. Queries in flight keep the old one.
func (e *Explorer) Rebuild(ctx context.Context, occupation string) (*Snapshot, error) {
	occ, err := e.ResolveOccupation(ctx, occupation)
	if err != nil {
		return nil, err
	}
	return e.load(ctx, occ, true)
}

func (e *Explorer) load(ctx context.Context, occ string, force bool) (*Snapshot, error) {
	flight := "load:" + occ
	if force {
		flight = "rebuild:" + occ
	}

	// The shared build outlives any single caller's cancellation.
	ch := e.group.DoChan(flight, func() (any, error) {
		if !force {
			if s, ok := e.Loaded(occ); ok {
				return s, nil
			}
		}
		var opts []fusion.BuildOption
		if force {
			opts = append(opts, fusion.Force())
		}
		res, err := e.builder.Build(context.WithoutCancel(ctx), occ, opts...)
		if err != nil {
			return nil, err
		}
		snap, err := newSnapshot(e.cat, res, e.opts.Scaler)
		if err != nil {
			return nil, err
		}
		e.swap(occ, snap)
		e.log.Info("snapshot ready",
			zap.String("occupation", occ),
			zap.String("build_id", snap.BuildID),
			zap.Bool("cache_hit", snap.CacheHit),
			zap.Int("cities", snap.Fused.Len()),
			zap.Int("features", len(snap.Features)),
		)
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Snapshot), nil
	}
}

func (e *Explorer) swap(occ string, snap *Snapshot) {
	e.swapMu.Lock()
	defer e.swapMu.Unlock()

	old := *e.snaps.Load()
	next := make(map[string]*Snapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[occ] = snap
	e.snaps.Store(&next)
}

// Warm loads the given occupations in parallel, or every occupation when
// none are given. The first failure cancels the rest.
func (e *Explorer) Warm(ctx context.Context, occupations []string) error {
	if len(occupations) == 0 {
		all, err := e.Occupations(ctx)
		if err != nil {
			return err
		}
		occupations = all
	}
	if len(occupations) == 0 {
		occupations = []string{""}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for _, occ := range occupations {
		g.Go(func() error {
			if _, err := e.Snapshot(gctx, occ); err != nil {
				return eris.Wrapf(err, "explorer: warm %q", occ)
			}
			return nil
		})
	}
	return g.Wait()
}

// Weights expands slider values into feature weights. Sliders missing from
// sliders take their catalog default; each column of a slider receives the
// slider's weight. An unknown slider fails with *UnknownConfigError.
func (e *Explorer) Weights(sliders map[string]float64) (map[string]float64, error) {
	values := make(map[string]float64, len(e.cat.Sliders))
	for _, s := range e.cat.Sliders {
		values[s.Name] = s.DefaultWeight()
	}
	for name, w := range sliders {
		s, ok := e.cat.Slider(name)
		if !ok {
			return nil, &UnknownConfigError{Parameter: "slider", Value: name, Valid: e.cat.SliderNames()}
		}
		values[s.Name] = w
	}

	weights := make(map[string]float64)
	for _, s := range e.cat.Sliders {
		for _, col := range s.Columns {
			weights[col] = values[s.Name]
		}
	}
	return weights, nil
}

type queryOptions struct {
	metric      *rank.Metric
	excludeSelf bool
}

// QueryOption adjusts one PredictSimilarCities call.
type QueryOption func(*queryOptions)

// WithMetric overrides the configured distance metric.
func WithMetric(m rank.Metric) QueryOption {
	return func(o *queryOptions) { o.metric = &m }
}

// WithExcludeSelf leaves the reference city out of the results.
func WithExcludeSelf() QueryOption {
	return func(o *queryOptions) { o.excludeSelf = true }
}

// PredictSimilarCities ranks every city of the occupation's table by
// distance to cityID under the slider weights, most similar first. limit
// <= 0 returns every city.
func (e *Explorer) PredictSimilarCities(ctx context.Context, cityID int64, occupation string, sliders map[string]float64, limit int, opts ...QueryOption) ([]rank.Result, error) {
	_, results, err := e.predict(ctx, cityID, occupation, sliders, limit, opts...)
	return results, err
}

// Similar is PredictSimilarCities with city names attached.
func (e *Explorer) Similar(ctx context.Context, cityID int64, occupation string, sliders map[string]float64, limit int, opts ...QueryOption) ([]Match, error) {
	snap, results, err := e.predict(ctx, cityID, occupation, sliders, limit, opts...)
	if err != nil {
		return nil, err
	}
	return snap.Describe(results), nil
}

func (e *Explorer) predict(ctx context.Context, cityID int64, occupation string, sliders map[string]float64, limit int, opts ...QueryOption) (*Snapshot, []rank.Result, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	metric := e.opts.Metric
	if o.metric != nil {
		metric = *o.metric
	}

	weights, err := e.Weights(sliders)
	if err != nil {
		return nil, nil, err
	}
	snap, err := e.Snapshot(ctx, occupation)
	if err != nil {
		return nil, nil, err
	}

	// Features of dropped families are absent from this snapshot.
	present := make(map[string]float64, len(snap.Features))
	for _, f := range snap.Features {
		if w, ok := weights[f]; ok {
			present[f] = w
		}
	}

	results, err := rank.Rank(snap.Scaled, rank.Query{
		Reference:   cityID,
		Weights:     present,
		Limit:       limit,
		ExcludeSelf: o.excludeSelf,
		Metric:      metric,
	})
	if err != nil {
		return nil, nil, err
	}
	return snap, results, nil
}
