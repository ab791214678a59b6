// Package convert normalises loosely typed property values.
//
// Properties arrive as Go literals from callers and as JSON-decoded values
// from stored blocks, so the same number may be an int, a float64 or a
// json.Number depending on where it came from. These helpers give every
// consumer (property indexes, edge weights, list-valued properties) one
// consistent view.
//
// Example:
//
//	if w, ok := convert.ToFloat64(rel.Properties["weight"]); ok && w > 0 {
//		// Use w
//	}
package convert

// ToFloat64 converts numeric values to float64.
// Returns (value, true) on success, (0, false) otherwise.
//
// Supported types:
//   - every built-in integer and float type
//   - json.Number and anything else with a Float64() (float64, error) method
//
// Strings are not numbers here, even when they look like one: "1815" and
// 1815 are different property values.
func ToFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case interface{ Float64() (float64, error) }:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

// ToStringSlice converts list values to []string.
// Returns (slice, true) on success, (nil, false) otherwise.
//
// Supported types:
//   - []string (copied)
//   - []any whose elements are all strings (the JSON-decoded form)
func ToStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), true
	case []any:
		out := make([]string, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
