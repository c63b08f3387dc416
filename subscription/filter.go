package subscription

import (
	"reflect"
	"strings"
)

// EvalFilters reports whether payload satisfies every filter pair.
//
// Each key is a dot-separated path into the payload; the value is either a
// single expected value or a list of accepted values. All pairs must match
// (logical AND). An empty or nil filter map always passes.
//
// Filters are evaluated at trigger time, before a delivery record exists:
// a failing filter means no delivery row at all.
func EvalFilters(filters map[string]any, payload any) bool {
	for path, expected := range filters {
		actual, ok := nestedValue(payload, path)
		if !ok {
			return false
		}
		if !matches(expected, actual) {
			return false
		}
	}
	return true
}

// nestedValue resolves a dot-separated path against a decoded JSON payload.
// A missing key or a non-object intermediate segment reports false.
func nestedValue(payload any, path string) (any, bool) {
	current := payload
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// matches compares an actual payload value against the expected filter value.
// A slice or array expectation passes on membership; anything else requires
// exact equality.
func matches(expected, actual any) bool {
	rv := reflect.ValueOf(expected)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if valueEqual(rv.Index(i).Interface(), actual) {
				return true
			}
		}
		return false
	}
	return valueEqual(expected, actual)
}

// valueEqual compares two values with JSON semantics: numbers compare by
// value regardless of Go type (filters stored as JSON decode to float64,
// filters set in code are often int).
func valueEqual(a, b any) bool {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum || bNum {
		return aNum && bNum && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
