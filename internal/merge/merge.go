// Package merge joins county-keyed tables onto the city table and collapses
// duplicate keys ahead of a join.
package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/table"
)

// Mode selects how unmatched base rows are handled.
type Mode int

const (
	// Inner drops base rows with no match in the secondary table.
	Inner Mode = iota
	// Left keeps every base row and fills unmatched rows with missing values,
	// broadcasting one county's values onto every city in it.
	Left
)

// String returns the mode name used in configuration.
func (m Mode) String() string {
	switch m {
	case Inner:
		return "inner"
	case Left:
		return "left"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "inner" or "left". The empty string means Left.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inner":
		return Inner, nil
	case "", "left", "broadcast":
		return Left, nil
	default:
		return 0, eris.Errorf("merge: unknown join mode %q", s)
	}
}

// RightSuffix is appended to a secondary column whose name collides with a
// base column.
const RightSuffix = "_right"

// On names the key column on each side of a join.
type On struct {
	Left  string
	Right string
}

// Key joins on the same column name on both sides.
func Key(name string) On {
	return On{Left: name, Right: name}
}

// CardinalityError reports a duplicate key on the secondary side of a join.
// Duplicates must be collapsed with Aggregate before joining.
type CardinalityError struct {
	Column string
	Key    int64
	Rows   int
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("merge: secondary key %q is not unique: %d appears %d times", e.Column, e.Key, e.Rows)
}

// Join appends the non-key columns of other to base, matching base[on.Left]
// against other[on.Right]. Base row order is preserved and neither input is
// modified. The secondary key column is not carried into the result.
func Join(base, other *table.Table, on On, mode Mode) (*table.Table, error) {
	if mode != Inner && mode != Left {
		return nil, eris.Errorf("merge: unsupported join mode %s", mode)
	}
	baseKeys, err := base.Ints(on.Left)
	if err != nil {
		return nil, eris.Wrap(err, "merge: base key")
	}
	index, err := other.KeyIndex(on.Right)
	if err != nil {
		var dup *table.DuplicateKeyError
		if errors.As(err, &dup) {
			return nil, &CardinalityError{Column: on.Right, Key: dup.Key, Rows: countKey(other, on.Right, dup.Key)}
		}
		return nil, eris.Wrap(err, "merge: secondary key")
	}

	rows := make([]int, 0, len(baseKeys))
	match := make([]int, 0, len(baseKeys))
	for i, k := range baseKeys {
		j, ok := index[k]
		if !ok {
			if mode == Inner {
				continue
			}
			j = -1
		}
		rows = append(rows, i)
		match = append(match, j)
	}

	out := base.Take(rows)
	for _, c := range other.Columns() {
		if c.Name == on.Right {
			continue
		}
		g := c.Gather(match)
		if mode == Left && g.Kind == table.Int {
			g = toFloat(g)
		}
		if out.Has(g.Name) {
			g.Name += RightSuffix
		}
		if err := out.Add(g); err != nil {
			return nil, eris.Wrapf(err, "merge: append column %q", c.Name)
		}
	}
	return out, nil
}

func countKey(t *table.Table, col string, key int64) int {
	keys, _ := t.Ints(col)
	n := 0
	for _, k := range keys {
		if k == key {
			n++
		}
	}
	return n
}

func toFloat(c *table.Column) *table.Column {
	out := &table.Column{Name: c.Name, Kind: table.Float, Floats: make([]float64, len(c.Ints))}
	for i, v := range c.Ints {
		out.Floats[i] = float64(v)
	}
	return out
}
