package store

// Field accessors for loosely shaped documents. Engines that round-trip
// through JSON hand back float64 numbers; the in-memory engine preserves
// int64. Core packages read documents only through these so both engines
// look identical.

// Str returns the string field, or def when absent or mistyped.
func Str(v Value, field, def string) string {
	if v == nil {
		return def
	}
	if s, ok := v[field].(string); ok && s != "" {
		return s
	}
	return def
}

// Bool returns the boolean field, false when absent.
func Bool(v Value, field string) bool {
	if v == nil {
		return false
	}
	b, _ := v[field].(bool)
	return b
}

// Int64 returns the numeric field as int64, 0 when absent.
func Int64(v Value, field string) int64 {
	if v == nil {
		return 0
	}
	switch n := v[field].(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

// Map returns a nested map field, nil when absent.
func Map(v Value, field string) Value {
	if v == nil {
		return nil
	}
	m, _ := v[field].(map[string]interface{})
	return m
}
