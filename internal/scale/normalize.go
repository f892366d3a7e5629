// Package scale normalizes feature columns so every feature contributes on a
// comparable scale to the similarity distance.
package scale

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrNotFitted is returned by Transform before Fit has been called.
var ErrNotFitted = eris.New("scale: normalizer is not fitted")

// Normalizer fits per-column parameters over a corpus and applies them.
// Columns are passed column-major: cols[j][i] is row i of column j.
type Normalizer interface {
	Fit(cols [][]float64) error
	Transform(cols [][]float64) ([][]float64, error)
}

// Standard rescales each column to zero mean and unit population standard
// deviation. Columns without spread map to 0.
type Standard struct {
	Means []float64
	Stds  []float64
}

// Fit computes the mean and population standard deviation of every column.
func (s *Standard) Fit(cols [][]float64) error {
	if err := checkFit(cols); err != nil {
		return err
	}
	s.Means = make([]float64, len(cols))
	s.Stds = make([]float64, len(cols))
	for j, c := range cols {
		m, sd := stat.PopMeanStdDev(c, nil)
		if degenerate(sd, m) {
			sd = 0
		}
		s.Means[j], s.Stds[j] = m, sd
	}
	return nil
}

// Transform applies the fitted parameters.
func (s *Standard) Transform(cols [][]float64) ([][]float64, error) {
	if s.Means == nil {
		return nil, ErrNotFitted
	}
	if err := checkTransform(cols, len(s.Means)); err != nil {
		return nil, err
	}
	out := make([][]float64, len(cols))
	for j, c := range cols {
		out[j] = make([]float64, len(c))
		if s.Stds[j] == 0 {
			continue
		}
		for i, v := range c {
			out[j][i] = (v - s.Means[j]) / s.Stds[j]
		}
	}
	return out, nil
}

// MinMax rescales each column linearly onto [0, 1] using the fitted minimum
// and maximum. Constant columns map to 0.
type MinMax struct {
	Mins []float64
	Maxs []float64
}

// Fit records the minimum and maximum of every column.
func (m *MinMax) Fit(cols [][]float64) error {
	if err := checkFit(cols); err != nil {
		return err
	}
	m.Mins = make([]float64, len(cols))
	m.Maxs = make([]float64, len(cols))
	for j, c := range cols {
		m.Mins[j], m.Maxs[j] = floats.Min(c), floats.Max(c)
	}
	return nil
}

// Transform applies the fitted range. Values outside the fitted range land
// outside [0, 1].
func (m *MinMax) Transform(cols [][]float64) ([][]float64, error) {
	if m.Mins == nil {
		return nil, ErrNotFitted
	}
	if err := checkTransform(cols, len(m.Mins)); err != nil {
		return nil, err
	}
	out := make([][]float64, len(cols))
	for j, c := range cols {
		out[j] = make([]float64, len(c))
		span := m.Maxs[j] - m.Mins[j]
		if span == 0 {
			continue
		}
		for i, v := range c {
			out[j][i] = (v - m.Mins[j]) / span
		}
	}
	return out, nil
}

// degenerate treats a deviation lost in rounding noise as zero, so a
// constant column never blows up into ±1 values.
func degenerate(sd, mean float64) bool {
	return sd == 0 || math.IsNaN(sd) || sd <= 1e-12*math.Max(1, math.Abs(mean))
}

func checkFit(cols [][]float64) error {
	if len(cols) == 0 {
		return eris.New("scale: no columns to fit")
	}
	for j, c := range cols {
		if len(c) == 0 {
			return eris.Errorf("scale: column %d is empty", j)
		}
		if err := checkFinite(j, c); err != nil {
			return err
		}
	}
	return nil
}

func checkTransform(cols [][]float64, width int) error {
	if len(cols) != width {
		return eris.Errorf("scale: fitted on %d columns, got %d", width, len(cols))
	}
	for j, c := range cols {
		if err := checkFinite(j, c); err != nil {
			return err
		}
	}
	return nil
}

func checkFinite(j int, c []float64) error {
	for i, v := range c {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.Errorf("scale: column %d row %d is not a finite number", j, i)
		}
	}
	return nil
}
