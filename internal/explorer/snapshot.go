package explorer

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/fusion"
	"github.com/sells-group/city-explorer/internal/rank"
	"github.com/sells-group/city-explorer/internal/scale"
	"github.com/sells-group/city-explorer/internal/source"
	"github.com/sells-group/city-explorer/internal/table"
	"github.com/sells-group/city-explorer/internal/transform"
)

// Snapshot is an immutable, query-ready view of one fused table. The scaler
// is fit once over the whole table and never refit.
type Snapshot struct {
	Occupation string
	BuildID    string
	CacheHit   bool
	Features   []string
	Fused      *table.Table
	Scaled     *table.Table
	Scaler     scale.Scaler
	LoadedAt   time.Time

	rowByID map[int64]int
}

func newSnapshot(cat *catalog.Catalog, res *fusion.Result, scalerKind string) (*Snapshot, error) {
	features := fusion.PresentFeatures(cat, res.Table)
	if len(features) == 0 {
		return nil, eris.Errorf("explorer: fused table for %q has no features", res.Occupation)
	}
	sc, err := scale.New(scalerKind, features)
	if err != nil {
		return nil, err
	}
	scaled, err := sc.FitTransform(res.Table)
	if err != nil {
		return nil, eris.Wrapf(err, "explorer: scale %q", res.Occupation)
	}
	rowByID, err := res.Table.KeyIndex(source.IDColumn)
	if err != nil {
		return nil, eris.Wrap(err, "explorer: city ids")
	}
	return &Snapshot{
		Occupation: res.Occupation,
		BuildID:    res.BuildID,
		CacheHit:   res.CacheHit,
		Features:   features,
		Fused:      res.Table,
		Scaled:     scaled,
		Scaler:     sc,
		LoadedAt:   time.Now().UTC(),
		rowByID:    rowByID,
	}, nil
}

// Match is a ranked city with its descriptive fields.
type Match struct {
	CityID     int64   `json:"city_id"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	CountyFIPS string  `json:"county_fips"`
	Score      float64 `json:"score"`
}

// Describe attaches city names to ranking results.
func (s *Snapshot) Describe(results []rank.Result) []Match {
	names, _ := s.Fused.Strings(source.CityColumn)
	states, _ := s.Fused.Strings(source.StateColumn)
	fips, _ := s.Fused.Ints(transform.CountyFIPSColumn)

	out := make([]Match, len(results))
	for i, r := range results {
		m := Match{CityID: r.CityID, Score: r.Score}
		if row, ok := s.rowByID[r.CityID]; ok {
			if names != nil {
				m.City = names[row]
			}
			if states != nil {
				m.State = states[row]
			}
			if fips != nil {
				m.CountyFIPS = transform.FormatFIPS(fips[row], 5)
			}
		}
		out[i] = m
	}
	return out
}

// HasCity reports whether id is a city of the snapshot.
func (s *Snapshot) HasCity(id int64) bool {
	_, ok := s.rowByID[id]
	return ok
}
