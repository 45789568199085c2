// Package options holds what the harbor option structs share: prefixed flag
// names and the contract every connector option set fulfils.
package options

import (
	"strings"

	"github.com/spf13/pflag"
)

// Join builds a flag prefix from prefixes, skipping empty ones. A non-empty
// result ends in "." so a connector named "web" yields "web.".
func Join(prefixes ...string) string {
	parts := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.Trim(p, "."); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ".") + "."
}

// Flag returns name under prefixes, e.g. Flag("http.addr", "web") is
// "web.http.addr".
func Flag(name string, prefixes ...string) string {
	return Join(prefixes...) + name
}

// IOptions is implemented by the per-protocol connector options.
type IOptions interface {
	// Validate reports every invalid field.
	Validate() []error

	// AddFlags registers the options on fs under prefixes.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}
