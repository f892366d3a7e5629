package explorer

import (
	"fmt"
	"strings"
)

// maxListed caps how many valid values an UnknownConfigError spells out.
const maxListed = 20

// UnknownConfigError is returned for a configuration value outside the
// valid set, such as an occupation title with no wage data.
type UnknownConfigError struct {
	Parameter string
	Value     string
	Valid     []string
}

func (e *UnknownConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "explorer: unknown %s %q", e.Parameter, e.Value)
	if len(e.Valid) == 0 {
		return b.String()
	}
	shown := e.Valid
	if len(shown) > maxListed {
		shown = shown[:maxListed]
	}
	fmt.Fprintf(&b, "; valid values: %s", strings.Join(shown, ", "))
	if rest := len(e.Valid) - len(shown); rest > 0 {
		fmt.Fprintf(&b, " (and %d more)", rest)
	}
	return b.String()
}
