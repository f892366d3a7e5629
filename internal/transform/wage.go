package transform

import (
	"math"
	"strconv"
	"strings"
)

// OEWS publishes capped wages as "#" and suppressed estimates as "*" or "**".
const (
	sentinelCapped       = "#"
	sentinelUnavailable  = "*"
	sentinelSuppressed   = "**"
	DefaultHourlyCeiling = 115.00
	DefaultAnnualCeiling = 239200
	DefaultHoursPerWeek  = 40
	DefaultWeeksPerYear  = 52
)

// WageRules pins the constants used to clean OEWS median wages.
type WageRules struct {
	HourlyCeiling float64
	AnnualCeiling float64
	HoursPerWeek  float64
	WeeksPerYear  float64
}

// DefaultWageRules returns the published ceilings and a 40×52 work year.
func DefaultWageRules() WageRules {
	return WageRules{
		HourlyCeiling: DefaultHourlyCeiling,
		AnnualCeiling: DefaultAnnualCeiling,
		HoursPerWeek:  DefaultHoursPerWeek,
		WeeksPerYear:  DefaultWeeksPerYear,
	}
}

// HoursPerYear returns the hourly to annual conversion factor.
func (r WageRules) HoursPerYear() float64 {
	return r.HoursPerWeek * r.WeeksPerYear
}

// ParseWage parses one OEWS wage cell. The capped sentinel becomes ceiling,
// unavailable sentinels and unparseable cells become NaN.
func ParseWage(s string, ceiling float64) float64 {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	switch s {
	case sentinelCapped:
		return ceiling
	case "", sentinelUnavailable, sentinelSuppressed:
		return math.NaN()
	}
	return ParseNumber(s)
}

// AnnualWage resolves the annual median wage from the hourly and annual
// median cells. The annual figure wins; the hourly figure is converted only
// when the annual one is missing. NaN means neither is usable.
func AnnualWage(hourly, annual string, r WageRules) float64 {
	if a := ParseWage(annual, r.AnnualCeiling); !math.IsNaN(a) {
		return a
	}
	h := ParseWage(hourly, r.HourlyCeiling)
	if math.IsNaN(h) {
		return h
	}
	return h * r.HoursPerYear()
}

// ParseNumber parses a census or BLS numeric cell, tolerating thousands
// separators, "%" and "$". Flags and blanks yield NaN.
func ParseNumber(s string) float64 {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	switch s {
	case "", "N", "S", "D", "G", "H", "J", "K", "X", "-", "(X)", "*", "**", "#", "NA", "N/A":
		return math.NaN()
	}
	s = strings.NewReplacer(",", "", "$", "", "%", "").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
