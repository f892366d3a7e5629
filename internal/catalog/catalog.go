// Package catalog declares the source files fused into the city feature
// table, the features derived from them and the sliders exposed to users.
package catalog

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/city-explorer/internal/merge"
)

//go:embed catalog.yaml
var embedded []byte

// IncomeColumn is the feature produced by the wage pipeline.
const IncomeColumn = "income"

// DefaultSliderWeight applies to a slider absent from a request.
const DefaultSliderWeight = 1.0

// Catalog is the full source declaration.
type Catalog struct {
	Cities    CitySource      `yaml:"cities"`
	Wages     WageSource      `yaml:"wages"`
	Crosswalk CrosswalkSource `yaml:"crosswalk"`
	Counties  []CountySource  `yaml:"counties"`
	Derived   []Derived       `yaml:"derived"`
	Sliders   []Slider        `yaml:"sliders"`
}

// File locates a source on disk and, optionally, where to download it.
type File struct {
	Path string `yaml:"file"`
	URL  string `yaml:"url"`
	// ArchiveMember is the glob of the member to extract when URL is a zip.
	ArchiveMember string `yaml:"archive_member"`
	// Sheet selects an xlsx sheet by name; the first sheet when empty.
	Sheet string `yaml:"sheet"`
}

// CitySource is the per-city base table.
type CitySource struct {
	File    `yaml:",inline"`
	Columns CityColumns `yaml:"columns"`
}

// CityColumns maps canonical city fields to source headers.
type CityColumns struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	State      string `yaml:"state"`
	CountyFIPS string `yaml:"county_fips"`
	Lat        string `yaml:"lat"`
	Lng        string `yaml:"lng"`
	Population string `yaml:"population"`
	Density    string `yaml:"density"`
}

// WageSource is the OEWS metro-area wage table.
type WageSource struct {
	File    `yaml:",inline"`
	Columns WageColumns `yaml:"columns"`
}

// WageColumns maps OEWS fields to source headers.
type WageColumns struct {
	Area       string `yaml:"area"`
	Occupation string `yaml:"occupation"`
	Hourly     string `yaml:"hourly"`
	Annual     string `yaml:"annual"`
	Employment string `yaml:"employment"`
}

// CrosswalkSource maps a metro-area code onto its member counties.
type CrosswalkSource struct {
	File    `yaml:",inline"`
	Columns CrosswalkColumns `yaml:"columns"`
}

// CrosswalkColumns maps crosswalk fields to source headers.
type CrosswalkColumns struct {
	CBSA   string `yaml:"cbsa"`
	State  string `yaml:"state"`
	County string `yaml:"county"`
}

// KeySpec says how a county source encodes its key: a combined FIPS column,
// or separate state and county code columns.
type KeySpec struct {
	FIPS   string `yaml:"fips"`
	State  string `yaml:"state"`
	County string `yaml:"county"`
}

// Derive reports whether the key is split into state and county codes.
func (k KeySpec) Derive() bool { return k.FIPS == "" }

// CountySource is one county-keyed attribute family.
type CountySource struct {
	Name     string `yaml:"name"`
	File     `yaml:",inline"`
	Join     string            `yaml:"join"`
	Required bool              `yaml:"required"`
	Key      KeySpec           `yaml:"key"`
	Columns  map[string]string `yaml:"columns"`
}

// Mode returns the parsed join mode.
func (s CountySource) Mode() merge.Mode {
	m, _ := merge.ParseMode(s.Join)
	return m
}

// Features returns the output feature names in ascending order.
func (s CountySource) Features() []string {
	return sortedKeys(s.Columns)
}

// Derived is a ratio feature computed after fusion:
// Name = Numerator × Factor / Denominator.
type Derived struct {
	Name        string  `yaml:"name"`
	Numerator   string  `yaml:"numerator"`
	Denominator string  `yaml:"denominator"`
	Factor      float64 `yaml:"factor"`
}

// Slider is one user-facing importance control, expanding to one or more
// feature columns.
type Slider struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Columns []string `yaml:"columns"`
	Default *float64 `yaml:"default"`
}

// DefaultWeight returns the weight used when a request omits the slider.
func (s Slider) DefaultWeight() float64 {
	if s.Default == nil {
		return DefaultSliderWeight
	}
	return *s.Default
}

// Load reads a catalog from path, or the embedded catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(embedded)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return Parse(data)
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(embedded)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "catalog: parse yaml")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the catalog for internal consistency.
func (c *Catalog) Validate() error {
	if c.Cities.Path == "" {
		return eris.New("catalog: cities.file is required")
	}
	cc := c.Cities.Columns
	for field, v := range map[string]string{
		"id": cc.ID, "county_fips": cc.CountyFIPS, "lat": cc.Lat, "lng": cc.Lng,
	} {
		if v == "" {
			return eris.Errorf("catalog: cities.columns.%s is required", field)
		}
	}
	if c.Wages.Path != "" {
		wc := c.Wages.Columns
		if wc.Area == "" || wc.Occupation == "" || (wc.Hourly == "" && wc.Annual == "") {
			return eris.New("catalog: wages needs area, occupation and an hourly or annual column")
		}
		if c.Crosswalk.Path == "" {
			return eris.New("catalog: wages need a crosswalk file")
		}
		xc := c.Crosswalk.Columns
		if xc.CBSA == "" || xc.State == "" || xc.County == "" {
			return eris.New("catalog: crosswalk needs cbsa, state and county columns")
		}
	}

	features := c.baseFeatures()
	names := make(map[string]bool, len(c.Counties))
	for _, s := range c.Counties {
		if s.Name == "" {
			return eris.New("catalog: county source without a name")
		}
		if names[s.Name] {
			return eris.Errorf("catalog: duplicate county source %q", s.Name)
		}
		names[s.Name] = true
		if s.Path == "" {
			return eris.Errorf("catalog: county source %q has no file", s.Name)
		}
		if _, err := merge.ParseMode(s.Join); err != nil {
			return eris.Wrapf(err, "catalog: county source %q", s.Name)
		}
		if s.Key.Derive() && (s.Key.State == "" || s.Key.County == "") {
			return eris.Errorf("catalog: county source %q needs key.fips or key.state and key.county", s.Name)
		}
		if len(s.Columns) == 0 {
			return eris.Errorf("catalog: county source %q declares no columns", s.Name)
		}
		for _, f := range s.Features() {
			if features[f] {
				return eris.Errorf("catalog: feature %q of %q is declared twice", f, s.Name)
			}
			features[f] = true
		}
	}

	for _, d := range c.Derived {
		if d.Name == "" || features[d.Name] {
			return eris.Errorf("catalog: derived feature %q is empty or shadows another feature", d.Name)
		}
		if !features[d.Numerator] || !features[d.Denominator] {
			return eris.Errorf("catalog: derived feature %q uses unknown inputs %q / %q", d.Name, d.Numerator, d.Denominator)
		}
		if d.Factor == 0 {
			return eris.Errorf("catalog: derived feature %q has zero factor", d.Name)
		}
		features[d.Name] = true
	}

	seen := make(map[string]bool)
	for _, s := range c.Sliders {
		for _, n := range append([]string{s.Name}, s.Aliases...) {
			key := strings.ToLower(n)
			if n == "" || seen[key] {
				return eris.Errorf("catalog: slider name %q is empty or duplicated", n)
			}
			seen[key] = true
		}
		if len(s.Columns) == 0 {
			return eris.Errorf("catalog: slider %q has no columns", s.Name)
		}
		for _, col := range s.Columns {
			if !features[col] {
				return eris.Errorf("catalog: slider %q uses unknown feature %q", s.Name, col)
			}
		}
		if s.DefaultWeight() < 0 {
			return eris.Errorf("catalog: slider %q has a negative default weight", s.Name)
		}
	}
	return nil
}

func (c *Catalog) baseFeatures() map[string]bool {
	f := map[string]bool{}
	if c.Cities.Columns.Population != "" {
		f["population"] = true
	}
	if c.Cities.Columns.Density != "" {
		f["density"] = true
	}
	if c.Wages.Path != "" {
		f[IncomeColumn] = true
	}
	return f
}

// Features returns every feature the catalog can produce, in ascending order.
func (c *Catalog) Features() []string {
	f := c.baseFeatures()
	for _, s := range c.Counties {
		for _, name := range s.Features() {
			f[name] = true
		}
	}
	for _, d := range c.Derived {
		f[d.Name] = true
	}
	names := make([]string, 0, len(f))
	for n := range f {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Slider finds a slider by name or alias, ignoring case.
func (c *Catalog) Slider(name string) (Slider, bool) {
	for _, s := range c.Sliders {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
		for _, a := range s.Aliases {
			if strings.EqualFold(a, name) {
				return s, true
			}
		}
	}
	return Slider{}, false
}

// SliderNames returns the canonical slider names in catalog order.
func (c *Catalog) SliderNames() []string {
	out := make([]string, len(c.Sliders))
	for i, s := range c.Sliders {
		out[i] = s.Name
	}
	return out
}

// Files returns every declared source file in load order.
func (c *Catalog) Files() []File {
	files := []File{c.Cities.File}
	if c.Wages.Path != "" {
		files = append(files, c.Wages.File, c.Crosswalk.File)
	}
	for _, s := range c.Counties {
		files = append(files, s.File)
	}
	return files
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
