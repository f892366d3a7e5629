// Package transform normalizes raw source fields: county FIPS keys, census
// style numeric cells and OEWS wage sentinels.
package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/table"
)

// CountyFIPSColumn is the canonical name of the derived county key.
const CountyFIPSColumn = "county_fips"

// KeyDerivationError reports a state/county code pair that cannot form a
// county FIPS key.
type KeyDerivationError struct {
	State  string
	County string
	Row    int // -1 when not derived from a table
	Reason string
}

func (e *KeyDerivationError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("transform: derive county fips (row %d, state %q, county %q): %s", e.Row, e.State, e.County, e.Reason)
	}
	return fmt.Sprintf("transform: derive county fips (state %q, county %q): %s", e.State, e.County, e.Reason)
}

// NormalizeFIPSState normalizes a state FIPS code to 2 digits with zero-padding.
func NormalizeFIPSState(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if len(code) == 1 {
		return "0" + code
	}
	return code
}

// NormalizeFIPSCounty normalizes a county FIPS code to 3 digits with zero-padding.
func NormalizeFIPSCounty(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	for len(code) < 3 {
		code = "0" + code
	}
	return code
}

// CombineFIPS combines state and county FIPS codes into a 5-digit code.
func CombineFIPS(state, county string) string {
	s := NormalizeFIPSState(state)
	c := NormalizeFIPSCounty(county)
	if s == "" || c == "" {
		return ""
	}
	return s + c
}

// FormatFIPS formats a numeric FIPS code with proper zero-padding.
func FormatFIPS(code int64, digits int) string {
	return fmt.Sprintf("%0*d", digits, code)
}

// DeriveFIPS builds the integer county key from a state code and a county
// code: the county code is left-padded to three digits and appended to the
// state code, so ("6", "75") yields 6075 and ("6", "5") yields 6005.
func DeriveFIPS(state, county string) (int64, error) {
	return deriveFIPS(state, county, -1)
}

func deriveFIPS(state, county string, row int) (int64, error) {
	s := strings.TrimSpace(state)
	c := strings.TrimSpace(county)
	fail := func(reason string) (int64, error) {
		return 0, &KeyDerivationError{State: state, County: county, Row: row, Reason: reason}
	}
	if s == "" || c == "" {
		return fail("empty code")
	}
	if !isDigits(s) {
		return fail("state code is not numeric")
	}
	if !isDigits(c) {
		return fail("county code is not numeric")
	}
	padded := NormalizeFIPSCounty(c)
	if len(padded) > 3 {
		return fail("county code longer than 3 digits")
	}
	v, err := strconv.ParseInt(s+padded, 10, 64)
	if err != nil {
		return fail(err.Error())
	}
	return v, nil
}

// ParseFIPS parses an already combined county FIPS string such as "06075"
// or "6075".
func ParseFIPS(code string) (int64, error) {
	c := strings.TrimSpace(code)
	if c == "" || !isDigits(c) || len(c) > 5 {
		return 0, &KeyDerivationError{County: code, Row: -1, Reason: "not a county fips code"}
	}
	v, err := strconv.ParseInt(c, 10, 64)
	if err != nil {
		return 0, &KeyDerivationError{County: code, Row: -1, Reason: err.Error()}
	}
	return v, nil
}

// DeriveFIPSColumn derives the county key for every row of t from its state
// and county code columns, which may be of any kind. The first malformed row
// fails the whole column.
func DeriveFIPSColumn(t *table.Table, stateCol, countyCol string) ([]int64, error) {
	sc, ok := t.Column(stateCol)
	if !ok {
		return nil, eris.Errorf("transform: unknown state column %q", stateCol)
	}
	cc, ok := t.Column(countyCol)
	if !ok {
		return nil, eris.Errorf("transform: unknown county column %q", countyCol)
	}
	out := make([]int64, t.Len())
	for i := range out {
		v, err := deriveFIPS(sc.StringAt(i), cc.StringAt(i), i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
