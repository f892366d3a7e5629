package merge

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/table"
)

// Reduce selects how duplicate-key rows are collapsed.
type Reduce int

const (
	// Mean averages each numeric column, skipping missing values.
	Mean Reduce = iota
	// Weighted averages each numeric column weighted by AggregateOptions.Weight.
	Weighted
)

// String returns the configuration name of the reduction.
func (r Reduce) String() string {
	if r == Weighted {
		return "weighted"
	}
	return "mean"
}

// ParseReduce parses "mean" or "weighted". The empty string means Mean.
func ParseReduce(s string) (Reduce, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mean":
		return Mean, nil
	case "weighted":
		return Weighted, nil
	default:
		return 0, eris.Errorf("merge: unknown aggregate mode %q", s)
	}
}

// AggregateOptions configures Aggregate.
type AggregateOptions struct {
	Reduce Reduce
	// Weight names the numeric column used by Weighted. The weight column
	// itself is summed.
	Weight string
}

// Aggregate collapses rows sharing a key into one row per key, in first-seen
// key order. Numeric columns become float means with missing values skipped;
// a key whose values are all missing stays missing. String columns keep the
// first non-empty value. Under Weighted a group whose weights are all missing
// or zero falls back to the unweighted mean.
func Aggregate(t *table.Table, key string, opts AggregateOptions) (*table.Table, error) {
	keys, err := t.Ints(key)
	if err != nil {
		return nil, eris.Wrap(err, "merge: aggregate key")
	}

	var weights []float64
	if opts.Reduce == Weighted {
		if opts.Weight == "" {
			return nil, eris.New("merge: weighted aggregate needs a weight column")
		}
		weights, err = t.AsFloats(opts.Weight)
		if err != nil {
			return nil, eris.Wrap(err, "merge: aggregate weight")
		}
	}

	order := make([]int64, 0, len(keys))
	groups := make(map[int64][]int, len(keys))
	for i, k := range keys {
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	out := table.New()
	if err := out.AddInts(key, order); err != nil {
		return nil, err
	}
	for _, c := range t.Columns() {
		if c.Name == key {
			continue
		}
		var col *table.Column
		switch {
		case c.Kind == table.String:
			col = firstString(c, order, groups)
		case opts.Reduce == Weighted && c.Name == opts.Weight:
			col = reduceFloat(c, order, groups, sum)
		case opts.Reduce == Weighted:
			col = reduceFloat(c, order, groups, func(c *table.Column, rows []int) float64 {
				return weightedMean(c, rows, weights)
			})
		default:
			col = reduceFloat(c, order, groups, mean)
		}
		if err := out.Add(col); err != nil {
			return nil, eris.Wrapf(err, "merge: aggregate column %q", c.Name)
		}
	}
	return out, nil
}

// HasDuplicates reports whether the int column holds any value twice.
func HasDuplicates(t *table.Table, key string) (bool, error) {
	keys, err := t.Ints(key)
	if err != nil {
		return false, err
	}
	seen := make(map[int64]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			return true, nil
		}
		seen[k] = struct{}{}
	}
	return false, nil
}

func reduceFloat(c *table.Column, order []int64, groups map[int64][]int, fn func(*table.Column, []int) float64) *table.Column {
	out := &table.Column{Name: c.Name, Kind: table.Float, Floats: make([]float64, len(order))}
	for i, k := range order {
		out.Floats[i] = fn(c, groups[k])
	}
	return out
}

func mean(c *table.Column, rows []int) float64 {
	var s float64
	n := 0
	for _, r := range rows {
		v := c.FloatAt(r)
		if math.IsNaN(v) {
			continue
		}
		s += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return s / float64(n)
}

func sum(c *table.Column, rows []int) float64 {
	var s float64
	n := 0
	for _, r := range rows {
		v := c.FloatAt(r)
		if math.IsNaN(v) {
			continue
		}
		s += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return s
}

func weightedMean(c *table.Column, rows []int, weights []float64) float64 {
	var s, ws float64
	for _, r := range rows {
		v, w := c.FloatAt(r), weights[r]
		if math.IsNaN(v) || math.IsNaN(w) || w <= 0 {
			continue
		}
		s += v * w
		ws += w
	}
	if ws == 0 {
		return mean(c, rows)
	}
	return s / ws
}

func firstString(c *table.Column, order []int64, groups map[int64][]int) *table.Column {
	out := &table.Column{Name: c.Name, Kind: table.String, Strings: make([]string, len(order))}
	for i, k := range order {
		for _, r := range groups[k] {
			if s := c.Strings[r]; s != "" {
				out.Strings[i] = s
				break
			}
		}
	}
	return out
}
