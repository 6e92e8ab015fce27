package config

import (
	"os"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// GetEnvObject returns the process environment as a cty object, exposed to
// expressions as env. Names that are not valid HCL identifiers have the
// offending characters replaced with underscores.
func GetEnvObject() cty.Value {
	vars := make(map[string]cty.Value)

	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		vars[envAttributeName(key)] = cty.StringVal(value)
	}

	return cty.ObjectVal(vars)
}

func envAttributeName(name string) string {
	if name == "" {
		return "_"
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			return r
		case r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, leadingIdentifierChar(name))
}

// HCL identifiers can't start with a digit or a dash.
func leadingIdentifierChar(name string) string {
	first := name[0]
	if (first >= '0' && first <= '9') || first == '-' {
		return "_" + name
	}
	return name
}
