// Package rank scores every city by its weighted distance to a reference
// city over scaled feature columns.
package rank

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/city-explorer/internal/table"
)

// Metric selects the distance function.
type Metric int

const (
	Euclidean Metric = iota
	Manhattan
)

// String returns the configuration name of the metric.
func (m Metric) String() string {
	switch m {
	case Euclidean:
		return "euclidean"
	case Manhattan:
		return "manhattan"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// norm returns the Lp order passed to floats.Distance.
func (m Metric) norm() float64 {
	if m == Manhattan {
		return 1
	}
	return 2
}

// ParseMetric parses "euclidean" or "manhattan". The empty string means
// Euclidean.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "euclidean", "l2":
		return Euclidean, nil
	case "manhattan", "cityblock", "l1":
		return Manhattan, nil
	default:
		return 0, eris.Errorf("rank: unknown metric %q", s)
	}
}

// DefaultIDColumn is the city id column of the fused table.
const DefaultIDColumn = "id"

// Query describes one similarity request.
type Query struct {
	// IDColumn is the int city id column; empty means DefaultIDColumn.
	IDColumn  string
	Reference int64
	// Weights maps a scaled feature column to its non-negative weight.
	// Features with weight 0 do not take part in the distance.
	Weights     map[string]float64
	Limit       int
	ExcludeSelf bool
	Metric      Metric
}

// Result is one ranked city.
type Result struct {
	CityID int64   `json:"city_id"`
	Score  float64 `json:"score"`
}

// UnknownCityError is returned when the reference city is not in the table.
type UnknownCityError struct {
	CityID int64
}

func (e *UnknownCityError) Error() string {
	return fmt.Sprintf("rank: unknown city id %d", e.CityID)
}

// EmptyFeatureSetError is returned when no feature has a positive weight.
type EmptyFeatureSetError struct {
	Requested int
}

func (e *EmptyFeatureSetError) Error() string {
	if e.Requested == 0 {
		return "rank: no features selected"
	}
	return fmt.Sprintf("rank: all %d requested features have zero weight", e.Requested)
}

// InvalidWeightError is returned for a negative or non-finite weight.
type InvalidWeightError struct {
	Feature string
	Weight  float64
}

func (e *InvalidWeightError) Error() string {
	return fmt.Sprintf("rank: weight for %q must be a non-negative number, got %g", e.Feature, e.Weight)
}

// Features returns the names with a positive weight in ascending order, or
// *InvalidWeightError for a negative or non-finite weight.
func Features(weights map[string]float64) ([]string, error) {
	names := make([]string, 0, len(weights))
	for name, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, &InvalidWeightError{Feature: name, Weight: w}
		}
		if w > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, &EmptyFeatureSetError{Requested: len(weights)}
	}
	sort.Strings(names)
	return names, nil
}

// Rank scores every row of t against the reference city and returns the
// results ascending by score, ties broken by ascending city id. The
// reference scores 0 and is included unless q.ExcludeSelf is set. A
// positive q.Limit truncates the result.
func Rank(t *table.Table, q Query) ([]Result, error) {
	idCol := q.IDColumn
	if idCol == "" {
		idCol = DefaultIDColumn
	}
	ids, err := t.Ints(idCol)
	if err != nil {
		return nil, eris.Wrap(err, "rank: city ids")
	}
	features, err := Features(q.Weights)
	if err != nil {
		return nil, err
	}

	ref := -1
	for i, id := range ids {
		if id == q.Reference {
			ref = i
			break
		}
	}
	if ref < 0 {
		return nil, &UnknownCityError{CityID: q.Reference}
	}

	// Row-major weighted vectors: vecs[i][f].
	vecs := make([][]float64, len(ids))
	for i := range vecs {
		vecs[i] = make([]float64, len(features))
	}
	for f, name := range features {
		col, err := t.AsFloats(name)
		if err != nil {
			return nil, eris.Wrapf(err, "rank: feature %q", name)
		}
		w := q.Weights[name]
		for i, v := range col {
			if math.IsNaN(v) {
				return nil, eris.Errorf("rank: feature %q is missing for city %d", name, ids[i])
			}
			vecs[i][f] = v * w
		}
	}

	refVec := vecs[ref]
	p := q.Metric.norm()
	out := make([]Result, 0, len(ids))
	for i, id := range ids {
		if q.ExcludeSelf && i == ref {
			continue
		}
		score := 0.0
		if i != ref {
			score = floats.Distance(refVec, vecs[i], p)
		}
		out = append(out, Result{CityID: id, Score: score})
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score < out[b].Score
		}
		return out[a].CityID < out[b].CityID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
