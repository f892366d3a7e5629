package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/cache"
	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/config"
	"github.com/sells-group/city-explorer/internal/explorer"
	"github.com/sells-group/city-explorer/internal/fusion"
	"github.com/sells-group/city-explorer/internal/source"
	"github.com/sells-group/city-explorer/internal/transform"
)

// appEnv holds everything a command needs to build or query tables.
type appEnv struct {
	Catalog  *catalog.Catalog
	Loader   *source.Loader
	Store    cache.Store
	Builder  *fusion.Builder
	Explorer *explorer.Explorer
}

// Close releases the cache backend.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func loadCatalog(c *config.Config) (*catalog.Catalog, error) {
	cat, err := catalog.Load(c.Data.CatalogPath)
	if err != nil {
		return nil, eris.Wrap(err, "load catalog")
	}
	return cat, nil
}

func wageRules(w config.WagesConfig) transform.WageRules {
	return transform.WageRules{
		HourlyCeiling: w.HourlyCeiling,
		AnnualCeiling: w.AnnualCeiling,
		HoursPerWeek:  w.HoursPerWeek,
		WeeksPerYear:  w.WeeksPerYear,
	}
}

// initEnv wires the catalog, loaders, cache, builder and explorer from c.
func initEnv(ctx context.Context, c *config.Config) (*appEnv, error) {
	cat, err := loadCatalog(c)
	if err != nil {
		return nil, err
	}
	loader := source.NewLoader(c.Data.Dir, cat, wageRules(c.Fusion.Wages))

	store, err := cache.Open(ctx, c.Cache)
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}

	builder, err := fusion.New(c.Fusion, loader, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	opts, err := explorer.OptionsFromConfig(c.Ranking, c.Fusion)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &appEnv{
		Catalog:  cat,
		Loader:   loader,
		Store:    store,
		Builder:  builder,
		Explorer: explorer.New(builder, cat, opts),
	}, nil
}
