// Package impute fills missing county attributes from the nearest counties
// that have them, measured between county centroids on the sphere.
package impute

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/city-explorer/internal/table"
)

// Column names read from the centroid and known tables.
const (
	KeyColumn = "county_fips"
	LatColumn = "lat"
	LngColumn = "lng"
)

// DefaultNeighbors is the number of donor counties averaged per imputation.
const DefaultNeighbors = 3

// InsufficientDataError is returned when counties need values but no county
// can donate them.
type InsufficientDataError struct {
	Attributes []string
	Pending    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("impute: no donor county has all of [%s]; %d counties left without values",
		strings.Join(e.Attributes, ", "), e.Pending)
}

// Imputer fills gaps by the mean of the k nearest donor counties.
type Imputer struct {
	k int
}

// New creates an Imputer averaging k donors. k <= 0 selects DefaultNeighbors.
func New(k int) *Imputer {
	if k <= 0 {
		k = DefaultNeighbors
	}
	return &Imputer{k: k}
}

// Neighbors returns the donor count.
func (im *Imputer) Neighbors() int { return im.k }

// Result is the output of Impute.
type Result struct {
	// Table holds KeyColumn followed by the imputed attributes: the fully
	// known rows first, unmodified and in input order, then the imputed rows
	// in ascending key order.
	Table *table.Table
	// Imputed lists the keys that received at least one imputed value.
	Imputed []int64
	// Dropped lists partially known keys that had no centroid to search from.
	Dropped []int64
}

// Impute completes attrs for every county of centroids. centroids holds
// KeyColumn, LatColumn and LngColumn for every county that must end up with
// values; known holds KeyColumn and attrs for counties with observations,
// where NaN marks a missing value.
//
// A known county is a donor when all attrs are present and it has a
// centroid. A county is pending when it has a centroid but is absent from
// known, or when it is in known with some attr missing; observed attrs of a
// pending county are kept and only the gaps are filled.
func (im *Imputer) Impute(centroids, known *table.Table, attrs []string) (*Result, error) {
	if len(attrs) == 0 {
		return nil, eris.New("impute: no attributes to impute")
	}
	log := zap.L().With(zap.String("component", "impute"), zap.Strings("attributes", attrs))

	cIndex, err := centroids.KeyIndex(KeyColumn)
	if err != nil {
		return nil, eris.Wrap(err, "impute: centroid keys")
	}
	lats, err := centroids.AsFloats(LatColumn)
	if err != nil {
		return nil, eris.Wrap(err, "impute: centroid latitude")
	}
	lngs, err := centroids.AsFloats(LngColumn)
	if err != nil {
		return nil, eris.Wrap(err, "impute: centroid longitude")
	}
	cKeys, _ := centroids.Ints(KeyColumn)

	kIndex, err := known.KeyIndex(KeyColumn)
	if err != nil {
		return nil, eris.Wrap(err, "impute: known keys")
	}
	kKeys, _ := known.Ints(KeyColumn)
	values := make([][]float64, len(attrs))
	for a, name := range attrs {
		if values[a], err = known.AsFloats(name); err != nil {
			return nil, eris.Wrapf(err, "impute: attribute %q", name)
		}
	}

	complete := func(row int) bool {
		for a := range attrs {
			if math.IsNaN(values[a][row]) {
				return false
			}
		}
		return true
	}
	hasCentroid := func(key int64) (int, bool) {
		i, ok := cIndex[key]
		if !ok || math.IsNaN(lats[i]) || math.IsNaN(lngs[i]) {
			return 0, false
		}
		return i, true
	}

	var (
		keepRows   []int
		donorKeys  []int64
		donorLats  []float64
		donorLngs  []float64
		donorRows  = make(map[int64]int)
		pending    []int64
		pendingRow = make(map[int64]int) // known row of a partial county, absent when unobserved
		res        = &Result{}
	)
	for row, key := range kKeys {
		ci, located := hasCentroid(key)
		if complete(row) {
			keepRows = append(keepRows, row)
			if located {
				donorKeys = append(donorKeys, key)
				donorLats = append(donorLats, lats[ci])
				donorLngs = append(donorLngs, lngs[ci])
				donorRows[key] = row
			}
			continue
		}
		if !located {
			res.Dropped = append(res.Dropped, key)
			continue
		}
		pending = append(pending, key)
		pendingRow[key] = row
	}
	for i, key := range cKeys {
		if _, ok := kIndex[key]; ok {
			continue
		}
		if math.IsNaN(lats[i]) || math.IsNaN(lngs[i]) {
			res.Dropped = append(res.Dropped, key)
			continue
		}
		pending = append(pending, key)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	if len(res.Dropped) > 0 {
		log.Warn("counties without centroid left out of imputation", zap.Int("count", len(res.Dropped)))
	}
	if len(pending) > 0 && len(donorKeys) == 0 {
		return nil, &InsufficientDataError{Attributes: append([]string(nil), attrs...), Pending: len(pending)}
	}

	ix, err := NewIndex(donorKeys, donorLats, donorLngs)
	if err != nil {
		return nil, err
	}

	outKeys := make([]int64, 0, len(keepRows)+len(pending))
	outVals := make([][]float64, len(attrs))
	for a := range attrs {
		outVals[a] = make([]float64, 0, len(keepRows)+len(pending))
	}
	for _, row := range keepRows {
		outKeys = append(outKeys, kKeys[row])
		for a := range attrs {
			outVals[a] = append(outVals[a], values[a][row])
		}
	}

	for _, key := range pending {
		ci := cIndex[key]
		nbrs := ix.Nearest(lats[ci], lngs[ci], im.k)
		row, partial := pendingRow[key]
		outKeys = append(outKeys, key)
		for a := range attrs {
			if partial && !math.IsNaN(values[a][row]) {
				outVals[a] = append(outVals[a], values[a][row])
				continue
			}
			var s float64
			for _, n := range nbrs {
				s += values[a][donorRows[n.Key]]
			}
			outVals[a] = append(outVals[a], s/float64(len(nbrs)))
		}
		res.Imputed = append(res.Imputed, key)
	}

	out := table.New()
	if err := out.AddInts(KeyColumn, outKeys); err != nil {
		return nil, err
	}
	for a, name := range attrs {
		if err := out.AddFloats(name, outVals[a]); err != nil {
			return nil, err
		}
	}
	res.Table = out

	log.Debug("imputation complete",
		zap.Int("observed", len(keepRows)),
		zap.Int("imputed", len(res.Imputed)),
		zap.Int("donors", ix.Len()),
	)
	return res, nil
}
