// Package table provides the columnar in-memory table shared by the fusion,
// imputation, scaling and ranking stages.
package table

import (
	"math"
	"strconv"

	"github.com/rotisserie/eris"
)

// Kind is the storage type of a column.
type Kind int

const (
	Int Kind = iota + 1 // int64 values, never missing
	Float               // float64 values, NaN marks a missing value
	String              // string values, "" marks a missing value
)

// String returns the human-readable kind name.
func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// Column is a named, typed slice of values. Exactly one of the value slices
// is populated, selected by Kind.
type Column struct {
	Name    string
	Kind    Kind
	Ints    []int64
	Floats  []float64
	Strings []string
}

// Len returns the number of values in the column.
func (c *Column) Len() int {
	switch c.Kind {
	case Int:
		return len(c.Ints)
	case Float:
		return len(c.Floats)
	case String:
		return len(c.Strings)
	default:
		return 0
	}
}

// Missing reports whether the value at row i is missing.
func (c *Column) Missing(i int) bool {
	switch c.Kind {
	case Float:
		return math.IsNaN(c.Floats[i])
	case String:
		return c.Strings[i] == ""
	default:
		return false
	}
}

// StringAt renders the value at row i as a string. Whole floats render
// without a decimal point so numeric codes stringify the same way regardless
// of how a source typed them; missing values render as "".
func (c *Column) StringAt(i int) string {
	switch c.Kind {
	case Int:
		return strconv.FormatInt(c.Ints[i], 10)
	case Float:
		v := c.Floats[i]
		if math.IsNaN(v) {
			return ""
		}
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case String:
		return c.Strings[i]
	default:
		return ""
	}
}

// FloatAt returns the value at row i as a float64. Strings parse as numbers
// and yield NaN when they do not.
func (c *Column) FloatAt(i int) float64 {
	switch c.Kind {
	case Int:
		return float64(c.Ints[i])
	case Float:
		return c.Floats[i]
	case String:
		v, err := strconv.ParseFloat(c.Strings[i], 64)
		if err != nil {
			return math.NaN()
		}
		return v
	default:
		return math.NaN()
	}
}

func (c *Column) clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case Int:
		out.Ints = append([]int64(nil), c.Ints...)
	case Float:
		out.Floats = append([]float64(nil), c.Floats...)
	case String:
		out.Strings = append([]string(nil), c.Strings...)
	}
	return out
}

// Gather builds a new column whose row j is this column's row idx[j].
// An index of -1 produces a missing value; an int column that receives a
// missing value is promoted to a float column.
func (c *Column) Gather(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	promote := false
	if c.Kind == Int {
		for _, i := range idx {
			if i < 0 {
				promote = true
				break
			}
		}
	}
	switch {
	case promote:
		out.Kind = Float
		out.Floats = make([]float64, len(idx))
		for j, i := range idx {
			if i < 0 {
				out.Floats[j] = math.NaN()
				continue
			}
			out.Floats[j] = float64(c.Ints[i])
		}
	case c.Kind == Int:
		out.Ints = make([]int64, len(idx))
		for j, i := range idx {
			out.Ints[j] = c.Ints[i]
		}
	case c.Kind == Float:
		out.Floats = make([]float64, len(idx))
		for j, i := range idx {
			if i < 0 {
				out.Floats[j] = math.NaN()
				continue
			}
			out.Floats[j] = c.Floats[i]
		}
	case c.Kind == String:
		out.Strings = make([]string, len(idx))
		for j, i := range idx {
			if i < 0 {
				continue
			}
			out.Strings[j] = c.Strings[i]
		}
	}
	return out
}

// Table is an ordered set of equal-length columns. Tables handed between
// pipeline stages are treated as immutable: every operation returns a new
// table and slices returned by accessors must not be modified.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New creates an empty table.
func New() *Table {
	return &Table{index: make(map[string]int)}
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Width returns the number of columns.
func (t *Table) Width() int { return len(t.cols) }

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Has reports whether the table has a column with the given name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Columns returns the columns in order.
func (t *Table) Columns() []*Column {
	return append([]*Column(nil), t.cols...)
}

func (t *Table) typed(name string, kind Kind) (*Column, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, eris.Errorf("table: unknown column %q", name)
	}
	if c.Kind != kind {
		return nil, eris.Errorf("table: column %q is %s, not %s", name, c.Kind, kind)
	}
	return c, nil
}

// Ints returns the values of an int column.
func (t *Table) Ints(name string) ([]int64, error) {
	c, err := t.typed(name, Int)
	if err != nil {
		return nil, err
	}
	return c.Ints, nil
}

// Floats returns the values of a float column.
func (t *Table) Floats(name string) ([]float64, error) {
	c, err := t.typed(name, Float)
	if err != nil {
		return nil, err
	}
	return c.Floats, nil
}

// Strings returns the values of a string column.
func (t *Table) Strings(name string) ([]string, error) {
	c, err := t.typed(name, String)
	if err != nil {
		return nil, err
	}
	return c.Strings, nil
}

// AsFloats returns a fresh float64 copy of a numeric column. Int columns
// are converted; string columns are rejected.
func (t *Table) AsFloats(name string) ([]float64, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, eris.Errorf("table: unknown column %q", name)
	}
	switch c.Kind {
	case Int:
		out := make([]float64, len(c.Ints))
		for i, v := range c.Ints {
			out[i] = float64(v)
		}
		return out, nil
	case Float:
		return append([]float64(nil), c.Floats...), nil
	default:
		return nil, eris.Errorf("table: column %q is %s, not numeric", name, c.Kind)
	}
}

// Add appends a column. The first column fixes the row count; later columns
// must match it and names must be unique.
func (t *Table) Add(c *Column) error {
	if c == nil {
		return eris.New("table: nil column")
	}
	if c.Name == "" {
		return eris.New("table: column name is empty")
	}
	if _, dup := t.index[c.Name]; dup {
		return eris.Errorf("table: duplicate column %q", c.Name)
	}
	if len(t.cols) > 0 && c.Len() != t.rows {
		return eris.Errorf("table: column %q has %d rows, table has %d", c.Name, c.Len(), t.rows)
	}
	if t.index == nil {
		t.index = make(map[string]int)
	}
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
	t.rows = c.Len()
	return nil
}

// AddInts appends an int column.
func (t *Table) AddInts(name string, v []int64) error {
	return t.Add(&Column{Name: name, Kind: Int, Ints: v})
}

// AddFloats appends a float column.
func (t *Table) AddFloats(name string, v []float64) error {
	return t.Add(&Column{Name: name, Kind: Float, Floats: v})
}

// AddStrings appends a string column.
func (t *Table) AddStrings(name string, v []string) error {
	return t.Add(&Column{Name: name, Kind: String, Strings: v})
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := New()
	for _, c := range t.cols {
		_ = out.Add(c.clone())
	}
	out.rows = t.rows
	return out
}

// Select returns a copy holding only the named columns, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	out := New()
	for _, name := range names {
		c, ok := t.Column(name)
		if !ok {
			return nil, eris.Errorf("table: unknown column %q", name)
		}
		if err := out.Add(c.clone()); err != nil {
			return nil, err
		}
	}
	out.rows = t.rows
	return out, nil
}

// Drop returns a copy without the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	out := New()
	for _, c := range t.cols {
		if skip[c.Name] {
			continue
		}
		_ = out.Add(c.clone())
	}
	out.rows = t.rows
	return out
}

// Take returns a copy whose rows are the given row indices, in order.
func (t *Table) Take(idx []int) *Table {
	out := New()
	for _, c := range t.cols {
		_ = out.Add(c.Gather(idx))
	}
	out.rows = len(idx)
	return out
}

// Filter returns a copy holding the rows for which keep is true.
func (t *Table) Filter(keep func(row int) bool) *Table {
	idx := make([]int, 0, t.rows)
	for i := 0; i < t.rows; i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return t.Take(idx)
}

// Concat appends the rows of other, which must have an identical schema.
func (t *Table) Concat(other *Table) (*Table, error) {
	if len(t.cols) != len(other.cols) {
		return nil, eris.Errorf("table: concat width mismatch: %d vs %d", len(t.cols), len(other.cols))
	}
	out := New()
	for i, c := range t.cols {
		o := other.cols[i]
		if c.Name != o.Name || c.Kind != o.Kind {
			return nil, eris.Errorf("table: concat schema mismatch at column %d: %s %s vs %s %s",
				i, c.Name, c.Kind, o.Name, o.Kind)
		}
		merged := &Column{Name: c.Name, Kind: c.Kind}
		switch c.Kind {
		case Int:
			merged.Ints = append(append([]int64(nil), c.Ints...), o.Ints...)
		case Float:
			merged.Floats = append(append([]float64(nil), c.Floats...), o.Floats...)
		case String:
			merged.Strings = append(append([]string(nil), c.Strings...), o.Strings...)
		}
		if err := out.Add(merged); err != nil {
			return nil, err
		}
	}
	out.rows = t.rows + other.rows
	return out, nil
}

// KeyIndex maps each value of an int column to its row. It fails on the
// first duplicate value, returning the duplicated key.
func (t *Table) KeyIndex(name string) (map[int64]int, error) {
	keys, err := t.Ints(name)
	if err != nil {
		return nil, err
	}
	idx := make(map[int64]int, len(keys))
	for i, k := range keys {
		if _, dup := idx[k]; dup {
			return nil, &DuplicateKeyError{Column: name, Key: k}
		}
		idx[k] = i
	}
	return idx, nil
}

// DuplicateKeyError reports a key that occurs more than once in a column
// that must be unique.
type DuplicateKeyError struct {
	Column string
	Key    int64
}

func (e *DuplicateKeyError) Error() string {
	return "table: duplicate key " + strconv.FormatInt(e.Key, 10) + " in column " + strconv.Quote(e.Column)
}

// Complete reports whether no value of the named columns is missing.
func (t *Table) Complete(names ...string) bool {
	for _, name := range names {
		c, ok := t.Column(name)
		if !ok {
			return false
		}
		for i := 0; i < c.Len(); i++ {
			if c.Missing(i) {
				return false
			}
		}
	}
	return true
}

// Equal reports whether two tables have the same schema and values. Missing
// float values compare equal to each other.
func (t *Table) Equal(other *Table) bool {
	if t.rows != other.rows || len(t.cols) != len(other.cols) {
		return false
	}
	for i, c := range t.cols {
		o := other.cols[i]
		if c.Name != o.Name || c.Kind != o.Kind {
			return false
		}
		switch c.Kind {
		case Int:
			for j := range c.Ints {
				if c.Ints[j] != o.Ints[j] {
					return false
				}
			}
		case Float:
			for j := range c.Floats {
				a, b := c.Floats[j], o.Floats[j]
				if math.IsNaN(a) && math.IsNaN(b) {
					continue
				}
				if a != b {
					return false
				}
			}
		case String:
			for j := range c.Strings {
				if c.Strings[j] != o.Strings[j] {
					return false
				}
			}
		}
	}
	return true
}
