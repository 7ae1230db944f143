// Package attrs reads values back out of slog-style key/value slices, so a
// single attribute list can feed both a log line and an audit event.
package attrs

import (
	"fmt"
	"reflect"
)

// ExtractString returns the value stored under key in a [k1, v1, k2, v2, ...]
// slice. Strings, named string types and fmt.Stringer values are rendered as
// text; anything else, or a missing key, yields "".
func ExtractString(attrs []any, key string) string {
	v, ok := lookup(attrs, key)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	if rv := reflect.ValueOf(v); rv.IsValid() && rv.Kind() == reflect.String {
		return rv.String()
	}
	return ""
}

// ExtractStrings returns the []string stored under key, or nil.
func ExtractStrings(attrs []any, key string) []string {
	v, ok := lookup(attrs, key)
	if !ok {
		return nil
	}
	ss, _ := v.([]string)
	return ss
}

func lookup(attrs []any, key string) (any, bool) {
	for i := 0; i+1 < len(attrs); i += 2 {
		if k, ok := attrs[i].(string); ok && k == key {
			return attrs[i+1], true
		}
	}
	return nil, false
}
