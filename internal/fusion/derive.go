package fusion

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/table"
)

// AddDerived appends d as Numerator × Factor / Denominator. A zero or
// missing denominator yields a missing value. The table is not modified.
func AddDerived(t *table.Table, d catalog.Derived) (*table.Table, error) {
	num, err := t.AsFloats(d.Numerator)
	if err != nil {
		return nil, eris.Wrapf(err, "fusion: derived %q numerator", d.Name)
	}
	den, err := t.AsFloats(d.Denominator)
	if err != nil {
		return nil, eris.Wrapf(err, "fusion: derived %q denominator", d.Name)
	}
	vals := make([]float64, len(num))
	for i := range vals {
		if den[i] == 0 || math.IsNaN(den[i]) || math.IsNaN(num[i]) {
			vals[i] = math.NaN()
			continue
		}
		vals[i] = num[i] * d.Factor / den[i]
	}

	out := t.Clone()
	if err := out.AddFloats(d.Name, vals); err != nil {
		return nil, eris.Wrapf(err, "fusion: derived %q", d.Name)
	}
	return out, nil
}
