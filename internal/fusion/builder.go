// Package fusion builds the complete per-city feature table for one
// occupation: cities joined with every county attribute family, income from
// metro wages mapped onto counties, gaps filled by spatial imputation.
package fusion

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/city-explorer/internal/cache"
	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/config"
	"github.com/sells-group/city-explorer/internal/impute"
	"github.com/sells-group/city-explorer/internal/merge"
	"github.com/sells-group/city-explorer/internal/source"
	"github.com/sells-group/city-explorer/internal/table"
	"github.com/sells-group/city-explorer/internal/transform"
)

// Builder constructs fused tables. It is safe for concurrent use; each Build
// owns its intermediate tables.
type Builder struct {
	loader   *source.Loader
	cat      *catalog.Catalog
	registry *source.Registry
	store    cache.Store
	imputer  *impute.Imputer
	income   merge.AggregateOptions
	log      *zap.Logger
}

// New creates a Builder. A nil store disables caching.
func New(cfg config.FusionConfig, loader *source.Loader, store cache.Store) (*Builder, error) {
	reduce, err := merge.ParseReduce(cfg.Aggregate)
	if err != nil {
		return nil, eris.Wrap(err, "fusion: aggregate mode")
	}
	if store == nil {
		store = cache.Nop{}
	}
	return &Builder{
		loader:   loader,
		cat:      loader.Catalog(),
		registry: source.NewRegistry(loader.Catalog()),
		store:    store,
		imputer:  impute.New(cfg.Neighbors),
		income:   merge.AggregateOptions{Reduce: reduce, Weight: cfg.AggregateWeight},
		log:      zap.L().With(zap.String("component", "fusion")),
	}, nil
}

// Catalog returns the catalog the builder fuses.
func (b *Builder) Catalog() *catalog.Catalog { return b.cat }

// Occupations returns the valid occupation titles, sorted. It is empty when
// the catalog has no wage source.
func (b *Builder) Occupations(ctx context.Context) ([]string, error) {
	if b.cat.Wages.Path == "" {
		return nil, nil
	}
	return b.loader.Occupations(ctx)
}

// Result is a fused table and what happened while building it.
type Result struct {
	Table      *table.Table
	BuildID    string
	Occupation string
	CacheKey   string
	CacheHit   bool
	// Imputed counts imputed counties per source ("income" for wages).
	Imputed map[string]int
	// Dropped lists optional families left out because they stayed incomplete.
	Dropped  []string
	Duration time.Duration
}

type buildOptions struct {
	force bool
}

// BuildOption adjusts one Build call.
type BuildOption func(*buildOptions)

// Force skips the cache lookup; the result still replaces the cache entry.
func Force() BuildOption {
	return func(o *buildOptions) { o.force = true }
}

// family is a set of columns that enter or leave the fused table together.
type family struct {
	name     string
	columns  []string
	required bool
}

// Build returns the fused table for occupation, from the cache when present.
func (b *Builder) Build(ctx context.Context, occupation string, opts ...BuildOption) (*Result, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	started := time.Now()
	res := &Result{
		BuildID:    uuid.New().String(),
		Occupation: occupation,
		CacheKey:   CacheKey(occupation),
		Imputed:    make(map[string]int),
	}
	log := b.log.With(zap.String("build_id", res.BuildID), zap.String("occupation", occupation))

	if !o.force {
		t, ok, err := b.store.Get(ctx, res.CacheKey)
		if err != nil {
			return nil, eris.Wrapf(err, "fusion: cache get %s", res.CacheKey)
		}
		if ok {
			log.Info("fused table loaded from cache", zap.String("key", res.CacheKey), zap.Int("rows", t.Len()))
			res.Table, res.CacheHit, res.Duration = t, true, time.Since(started)
			return res, nil
		}
		log.Debug("cache miss", zap.String("key", res.CacheKey))
	}

	fused, err := b.fuse(ctx, occupation, res, log)
	if err != nil {
		return nil, err
	}
	res.Table = fused

	if err := b.store.Put(ctx, res.CacheKey, fused); err != nil {
		return nil, eris.Wrapf(err, "fusion: cache put %s", res.CacheKey)
	}
	res.Duration = time.Since(started)
	log.Info("fused table built",
		zap.Int("rows", fused.Len()),
		zap.Int("columns", fused.Width()),
		zap.Strings("dropped_families", res.Dropped),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// CacheKey is the cache slug of an occupation. A catalog without wages
// builds a single table under "all". Titles with characters the slug folds
// away (accents, punctuation) get a short name-based UUID suffix, so
// "Café Owners" and "Cafe Owners" never share an entry.
func CacheKey(occupation string) string {
	title := strings.TrimSpace(occupation)
	k := cache.Slug(title)
	if k == "" {
		return "all"
	}
	if strings.IndexFunc(title, lossyRune) >= 0 {
		k += "_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(title)).String()[:8]
	}
	return k
}

func lossyRune(r rune) bool {
	return !(r == ' ' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
}

func (b *Builder) fuse(ctx context.Context, occupation string, res *Result, log *zap.Logger) (*table.Table, error) {
	cities, err := b.loader.Cities(ctx)
	if err != nil {
		return nil, err
	}
	centroids, err := CountyCentroids(cities)
	if err != nil {
		return nil, err
	}
	log.Debug("loaded cities", zap.Int("cities", cities.Len()), zap.Int("counties", centroids.Len()))

	fused := cities
	var families []family
	for _, src := range b.registry.All() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		county, err := b.loader.County(ctx, src)
		if err != nil {
			return nil, err
		}
		county, err = b.collapse(county, merge.AggregateOptions{Reduce: merge.Mean})
		if err != nil {
			return nil, eris.Wrapf(err, "fusion: source %s", src.Name)
		}
		features := src.Features()

		mode := src.Mode()
		if src.Required {
			targets := centroids
			if mode == merge.Inner {
				// An inner source only completes the counties it reports.
				if targets, err = restrict(centroids, county); err != nil {
					return nil, err
				}
			}
			county, err = b.impute(targets, county, features, src.Name, res, log)
			if err != nil {
				return nil, eris.Wrapf(err, "fusion: source %s", src.Name)
			}
		}

		fused, err = merge.Join(fused, county, merge.Key(transform.CountyFIPSColumn), mode)
		if err != nil {
			return nil, eris.Wrapf(err, "fusion: join %s", src.Name)
		}
		if mode == merge.Inner {
			if centroids, err = CountyCentroids(fused); err != nil {
				return nil, err
			}
		}
		families = append(families, family{name: src.Name, columns: features, required: src.Required})
		log.Debug("joined county source",
			zap.String("source", src.Name),
			zap.String("mode", mode.String()),
			zap.Int("rows", fused.Len()),
		)
	}

	if b.cat.Wages.Path != "" {
		income, err := b.incomeByCounty(ctx, occupation, centroids, res, log)
		if err != nil {
			return nil, err
		}
		fused, err = merge.Join(fused, income, merge.Key(transform.CountyFIPSColumn), merge.Left)
		if err != nil {
			return nil, eris.Wrap(err, "fusion: join income")
		}
		families = append(families, family{name: catalog.IncomeColumn, columns: []string{catalog.IncomeColumn}, required: true})
	}

	fused, err = b.complete(fused, families, res, log)
	if err != nil {
		return nil, err
	}

	var derived []family
	for _, d := range b.cat.Derived {
		if !fused.Has(d.Numerator) || !fused.Has(d.Denominator) {
			log.Debug("derived feature inputs unavailable", zap.String("feature", d.Name))
			continue
		}
		if fused, err = AddDerived(fused, d); err != nil {
			return nil, err
		}
		derived = append(derived, family{name: d.Name, columns: []string{d.Name}})
	}
	return b.complete(fused, derived, res, log)
}

// incomeByCounty maps the occupation's metro wages onto counties through the
// crosswalk, collapses counties reached by several metros and imputes the
// counties no metro covers.
func (b *Builder) incomeByCounty(ctx context.Context, occupation string, centroids *table.Table, res *Result, log *zap.Logger) (*table.Table, error) {
	wages, err := b.loader.WagesFor(ctx, occupation)
	if err != nil {
		return nil, err
	}
	if wages.Len() == 0 {
		return nil, eris.Errorf("fusion: no wage rows for occupation %q", occupation)
	}
	wages, err = merge.Aggregate(wages, source.CBSAColumn, b.income)
	if err != nil {
		return nil, eris.Wrap(err, "fusion: collapse metro wages")
	}

	xw, err := b.loader.Crosswalk(ctx)
	if err != nil {
		return nil, err
	}
	byCounty, err := merge.Join(xw, wages, merge.Key(source.CBSAColumn), merge.Inner)
	if err != nil {
		return nil, eris.Wrap(err, "fusion: map wages to counties")
	}
	byCounty, err = byCounty.Select(transform.CountyFIPSColumn, catalog.IncomeColumn, source.EmploymentColumn)
	if err != nil {
		return nil, err
	}
	byCounty, err = b.collapse(byCounty, b.income)
	if err != nil {
		return nil, eris.Wrap(err, "fusion: collapse county wages")
	}
	byCounty, err = byCounty.Select(transform.CountyFIPSColumn, catalog.IncomeColumn)
	if err != nil {
		return nil, err
	}
	log.Debug("mapped wages to counties", zap.Int("metros", wages.Len()), zap.Int("counties", byCounty.Len()))

	return b.impute(centroids, byCounty, []string{catalog.IncomeColumn}, catalog.IncomeColumn, res, log)
}

// collapse aggregates repeated county keys; tables that are already 1:1
// pass through unchanged.
func (b *Builder) collapse(t *table.Table, opts merge.AggregateOptions) (*table.Table, error) {
	dup, err := merge.HasDuplicates(t, transform.CountyFIPSColumn)
	if err != nil {
		return nil, err
	}
	if !dup {
		return t, nil
	}
	if opts.Reduce == merge.Weighted && !t.Has(opts.Weight) {
		opts = merge.AggregateOptions{Reduce: merge.Mean}
	}
	return merge.Aggregate(t, transform.CountyFIPSColumn, opts)
}

func (b *Builder) impute(centroids, known *table.Table, attrs []string, name string, res *Result, log *zap.Logger) (*table.Table, error) {
	out, err := b.imputer.Impute(centroids, known, attrs)
	if err != nil {
		return nil, err
	}
	res.Imputed[name] = len(out.Imputed)
	if len(out.Imputed) > 0 {
		log.Info("imputed county values",
			zap.String("source", name),
			zap.Int("counties", len(out.Imputed)),
			zap.Int("neighbors", b.imputer.Neighbors()),
		)
	}
	return out.Table, nil
}

// complete enforces the all-or-nothing rule: a required family with a gap
// fails the build, an optional one is dropped as a whole. Cities missing a
// base numeric feature are dropped first.
func (b *Builder) complete(t *table.Table, families []family, res *Result, log *zap.Logger) (*table.Table, error) {
	var base []*table.Column
	for _, name := range []string{source.PopulationColumn, source.DensityColumn} {
		if c, ok := t.Column(name); ok {
			base = append(base, c)
		}
	}
	before := t.Len()
	t = t.Filter(func(row int) bool {
		for _, c := range base {
			if c.Missing(row) {
				return false
			}
		}
		return true
	})
	if n := before - t.Len(); n > 0 {
		log.Warn("dropped cities missing population or density", zap.Int("cities", n))
	}

	var drop []string
	for _, f := range families {
		if t.Complete(f.columns...) {
			continue
		}
		if f.required {
			return nil, eris.Errorf("fusion: required family %s is incomplete after imputation", f.name)
		}
		log.Warn("dropping incomplete optional family", zap.String("family", f.name), zap.Strings("columns", f.columns))
		res.Dropped = append(res.Dropped, f.name)
		drop = append(drop, f.columns...)
	}
	if len(drop) == 0 {
		return t, nil
	}
	return t.Drop(drop...), nil
}

// restrict keeps the centroid rows whose key appears in t.
func restrict(centroids, t *table.Table) (*table.Table, error) {
	keys, err := t.Ints(transform.CountyFIPSColumn)
	if err != nil {
		return nil, err
	}
	want := make(map[int64]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	cKeys, err := centroids.Ints(impute.KeyColumn)
	if err != nil {
		return nil, err
	}
	return centroids.Filter(func(row int) bool { return want[cKeys[row]] }), nil
}

// PresentFeatures returns the catalog features that t carries, sorted.
func PresentFeatures(cat *catalog.Catalog, t *table.Table) []string {
	return slices.DeleteFunc(cat.Features(), func(f string) bool { return !t.Has(f) })
}
