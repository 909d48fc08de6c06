package ruleset

import (
	"fmt"
	"regexp"
)

// placeholderPattern matches ${var} and ${var.field}.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:\.([A-Za-z_][A-Za-z0-9_]*))?\}`)

// expandString substitutes ${var} and ${var.field} placeholders with
// the bound values, rendered with fmt.Sprint. Referencing an unbound
// variable or a missing field is an error: a report that silently
// prints an empty hole hides a broken rule.
func expandString(template string, bound map[string]any) (string, error) {
	var expandErr error
	out := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		val, err := resolvePlaceholder(match, bound)
		if err != nil {
			if expandErr == nil {
				expandErr = err
			}
			return match
		}
		return fmt.Sprint(val)
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

// expandValue recursively expands string leaves of an assert payload.
// A string that is exactly one placeholder substitutes the raw bound
// value, so `count: "${order.count}"` asserts a number, not its text.
func expandValue(value any, bound map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		if m := placeholderPattern.FindString(v); m == v && v != "" {
			return resolvePlaceholder(v, bound)
		}
		return expandString(v, bound)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			expanded, err := expandValue(elem, bound)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			expanded, err := expandValue(elem, bound)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolvePlaceholder(placeholder string, bound map[string]any) (any, error) {
	groups := placeholderPattern.FindStringSubmatch(placeholder)
	if groups == nil {
		return nil, fmt.Errorf("malformed placeholder %q", placeholder)
	}
	variable, field := groups[1], groups[2]

	val, ok := bound[variable]
	if !ok {
		return nil, fmt.Errorf("placeholder %s: variable %q is not bound", placeholder, variable)
	}
	if field == "" {
		return val, nil
	}

	projected, ok := project(val, field)
	if !ok {
		return nil, fmt.Errorf("placeholder %s: value bound to %q has no field %q", placeholder, variable, field)
	}
	return projected, nil
}
