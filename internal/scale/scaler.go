package scale

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/table"
)

// Scaler fits a normalization over named table columns and applies it.
type Scaler interface {
	Fit(t *table.Table) error
	Transform(t *table.Table) (*table.Table, error)
	FitTransform(t *table.Table) (*table.Table, error)
	Columns() []string
}

// Kinds accepted by New.
const (
	KindStandard = "standard"
	KindMinMax   = "minmax"
)

// New builds a ColumnScaler of the given kind over columns.
func New(kind string, columns []string) (*ColumnScaler, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindStandard, "":
		return NewColumnScaler(&Standard{}, columns)
	case KindMinMax, "min_max":
		return NewColumnScaler(&MinMax{}, columns)
	default:
		return nil, eris.Errorf("scale: unknown scaler %q (want %s or %s)", kind, KindStandard, KindMinMax)
	}
}

// ColumnScaler adapts a Normalizer to tables: it extracts the named numeric
// columns, normalizes them and writes them back as float columns, leaving
// every other column untouched.
type ColumnScaler struct {
	norm    Normalizer
	columns []string
	fitted  bool
}

var _ Scaler = (*ColumnScaler)(nil)

// NewColumnScaler wraps norm over the given columns.
func NewColumnScaler(norm Normalizer, columns []string) (*ColumnScaler, error) {
	if norm == nil {
		return nil, eris.New("scale: nil normalizer")
	}
	if len(columns) == 0 {
		return nil, eris.New("scale: no columns to scale")
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c] {
			return nil, eris.Errorf("scale: column %q listed twice", c)
		}
		seen[c] = true
	}
	return &ColumnScaler{norm: norm, columns: append([]string(nil), columns...)}, nil
}

// Columns returns the scaled column names.
func (s *ColumnScaler) Columns() []string {
	return append([]string(nil), s.columns...)
}

// Fit fits the normalizer over the columns of t.
func (s *ColumnScaler) Fit(t *table.Table) error {
	cols, err := s.extract(t)
	if err != nil {
		return err
	}
	if err := s.norm.Fit(cols); err != nil {
		return eris.Wrap(err, "scale: fit")
	}
	s.fitted = true
	return nil
}

// Transform returns a copy of t whose scaled columns hold normalized values.
// It never refits, so tables transformed by one scaler are comparable.
func (s *ColumnScaler) Transform(t *table.Table) (*table.Table, error) {
	if !s.fitted {
		return nil, ErrNotFitted
	}
	cols, err := s.extract(t)
	if err != nil {
		return nil, err
	}
	scaled, err := s.norm.Transform(cols)
	if err != nil {
		return nil, eris.Wrap(err, "scale: transform")
	}
	replaced := make(map[string][]float64, len(s.columns))
	for j, name := range s.columns {
		replaced[name] = scaled[j]
	}
	out := table.New()
	for _, c := range t.Columns() {
		col := c
		if v, ok := replaced[c.Name]; ok {
			col = &table.Column{Name: c.Name, Kind: table.Float, Floats: v}
		}
		if err := out.Add(col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FitTransform fits over t and transforms it.
func (s *ColumnScaler) FitTransform(t *table.Table) (*table.Table, error) {
	if err := s.Fit(t); err != nil {
		return nil, err
	}
	return s.Transform(t)
}

func (s *ColumnScaler) extract(t *table.Table) ([][]float64, error) {
	cols := make([][]float64, len(s.columns))
	for j, name := range s.columns {
		v, err := t.AsFloats(name)
		if err != nil {
			return nil, eris.Wrap(err, "scale: extract")
		}
		cols[j] = v
	}
	return cols, nil
}
