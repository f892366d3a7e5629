package fusion

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/impute"
	"github.com/sells-group/city-explorer/internal/source"
	"github.com/sells-group/city-explorer/internal/table"
	"github.com/sells-group/city-explorer/internal/transform"
)

// CountyCentroids reduces a city table to one row per county: the mean of
// its cities' coordinates and the sum of their population, ordered by key.
func CountyCentroids(cities *table.Table) (*table.Table, error) {
	keys, err := cities.Ints(transform.CountyFIPSColumn)
	if err != nil {
		return nil, eris.Wrap(err, "fusion: centroid keys")
	}
	lats, err := cities.AsFloats(impute.LatColumn)
	if err != nil {
		return nil, eris.Wrap(err, "fusion: centroid latitude")
	}
	lngs, err := cities.AsFloats(impute.LngColumn)
	if err != nil {
		return nil, eris.Wrap(err, "fusion: centroid longitude")
	}
	var pops []float64
	if cities.Has(source.PopulationColumn) {
		if pops, err = cities.AsFloats(source.PopulationColumn); err != nil {
			return nil, eris.Wrap(err, "fusion: centroid population")
		}
	}

	type acc struct {
		lat, lng, pop float64
		n             int
	}
	groups := make(map[int64]*acc)
	for i, k := range keys {
		g, ok := groups[k]
		if !ok {
			g = &acc{}
			groups[k] = g
		}
		g.lat += lats[i]
		g.lng += lngs[i]
		g.n++
		if pops != nil && !math.IsNaN(pops[i]) {
			g.pop += pops[i]
		}
	}

	order := make([]int64, 0, len(groups))
	for k := range groups {
		order = append(order, k)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	cLat := make([]float64, len(order))
	cLng := make([]float64, len(order))
	cPop := make([]float64, len(order))
	for i, k := range order {
		g := groups[k]
		cLat[i] = g.lat / float64(g.n)
		cLng[i] = g.lng / float64(g.n)
		cPop[i] = g.pop
	}

	out := table.New()
	for _, err := range []error{
		out.AddInts(impute.KeyColumn, order),
		out.AddFloats(impute.LatColumn, cLat),
		out.AddFloats(impute.LngColumn, cLng),
		out.AddFloats(source.PopulationColumn, cPop),
	} {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
