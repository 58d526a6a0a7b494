// Package template substitutes {name} placeholders inside nested configuration values.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholder matches {name} where name is a variable identifier. Dots and dashes are
// allowed so step outputs ("{extract.row_count}") can be referenced.
var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.\-]*)\}`)

// Resolve returns a copy of value with every {name} placeholder replaced by the
// string form of vars[name]. Placeholders naming absent variables are left as is,
// which allows staged resolution. Maps and slices are resolved recursively; every
// other type is returned unchanged. The input is never mutated.
//
// Substitution is a single pass: a substituted value is not scanned again.
// Resolving twice with the same vars gives the same result only when no value
// in vars itself contains a {name} placeholder.
func Resolve(value any, vars map[string]any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return ResolveString(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = Resolve(child, vars)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, child := range v {
			out[k] = ResolveString(child, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = Resolve(child, vars)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, child := range v {
			out[i] = ResolveString(child, vars)
		}
		return out
	default:
		return value
	}
}

// ResolveMap is Resolve specialised to configuration maps.
func ResolveMap(config map[string]any, vars map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	return Resolve(config, vars).(map[string]any)
}

// ResolveString substitutes placeholders in a single string.
func ResolveString(s string, vars map[string]any) string {
	if len(vars) == 0 || !strings.Contains(s, "{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1 : len(match)-1]
		val, ok := vars[name]
		if !ok {
			return match
		}
		return stringify(val)
	})
}

// Placeholders lists the distinct variable names referenced by s, in order of
// first appearance.
func Placeholders(s string) []string {
	matches := placeholder.FindAllStringSubmatch(s, -1)
	seen := make(map[string]struct{}, len(matches))
	var names []string
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
