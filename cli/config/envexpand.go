// Package config loads the pcapbus YAML configuration file.
package config

import (
	"os"
	"regexp"
	"strings"
)

// envRef matches ${NAME} and ${NAME:-fallback}. Unbraced $NAME is left alone.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// ExpandEnv substitutes environment references in input using the process
// environment.
func ExpandEnv(input string) string {
	return ExpandEnvFunc(input, os.LookupEnv)
}

// ExpandEnvFunc substitutes environment references using lookup. A set,
// non-empty variable wins; otherwise the fallback is used, or "" without one.
// A broker URL that expands to "" fails later, when the bus is dialed.
func ExpandEnvFunc(input string, lookup func(string) (string, bool)) string {
	refs := envRef.FindAllStringSubmatchIndex(input, -1)
	if len(refs) == 0 {
		return input
	}

	var b strings.Builder
	last := 0
	for _, r := range refs {
		b.WriteString(input[last:r[0]])
		name := input[r[2]:r[3]]
		if v, ok := lookup(name); ok && v != "" {
			b.WriteString(v)
		} else if r[4] >= 0 {
			b.WriteString(strings.TrimPrefix(input[r[4]:r[5]], ":-"))
		}
		last = r[1]
	}
	b.WriteString(input[last:])
	return b.String()
}
