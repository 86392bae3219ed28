// Package mapsafe reads typed values out of loosely typed documents such as decoded YAML.
package mapsafe

// Number is the set of numeric types Get converts between.
type Number interface {
	~int | ~int64 | ~uint64 | ~float64
}

// Get retrieves a typed value from m.
// If the key is missing or the value cannot be converted, it returns the default value.
func Get[T any](m map[string]any, key string, defaultValue T) T {
	if v, ok := Lookup[T](m, key); ok {
		return v
	}
	return defaultValue
}

// Lookup retrieves a typed value from m and reports whether it was present and convertible.
// Numbers decoded as int, int64, uint64 or float64 convert to one another.
func Lookup[T any](m map[string]any, key string) (T, bool) {
	var zero T

	val, ok := m[key]
	if !ok {
		return zero, false
	}
	if v, ok := val.(T); ok {
		return v, true
	}

	switch any(zero).(type) {
	case int:
		if n, ok := number[int](val); ok {
			return any(n).(T), true
		}
	case int64:
		if n, ok := number[int64](val); ok {
			return any(n).(T), true
		}
	case float64:
		if n, ok := number[float64](val); ok {
			return any(n).(T), true
		}
	}

	return zero, false
}

// Has reports whether key is present in m, whatever its value.
func Has(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// Map returns the nested document under key, or nil.
func Map(m map[string]any, key string) map[string]any {
	return Get[map[string]any](m, key, nil)
}

func number[N Number](val any) (N, bool) {
	switch x := val.(type) {
	case int:
		return N(x), true
	case int64:
		return N(x), true
	case uint64:
		return N(x), true
	case float64:
		return N(x), true
	}
	return 0, false
}
