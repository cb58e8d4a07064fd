package storage

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"
)

// DataBag is a free-form parameter or metadata map. Values survive a JSON
// round trip, so the typed accessors accept the JSON decoded forms too
// (float64 for numbers, []any for arrays).
type DataBag map[string]any

// Has reports whether key is present.
func (b DataBag) Has(key string) bool {
	_, ok := b[key]
	return ok
}

// String returns the value of key as a string, or "".
func (b DataBag) String(key string) string {
	switch v := b[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Strings returns the value of key as a string list. A string value is split
// on spaces, which is how scope and similar lists travel as parameters.
func (b DataBag) Strings(key string) []string {
	switch v := b[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(v)
	default:
		return nil
	}
}

// Int64 returns the value of key as an integer, or 0.
func (b DataBag) Int64(key string) int64 {
	switch v := b[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// Bool returns the value of key as a bool.
func (b DataBag) Bool(key string) bool {
	switch v := b[key].(type) {
	case bool:
		return v
	case string:
		parsed, _ := strconv.ParseBool(v)
		return parsed
	default:
		return false
	}
}

// Clone returns a shallow copy. A nil bag clones to an empty bag.
func (b DataBag) Clone() DataBag {
	out := make(DataBag, len(b))
	maps.Copy(out, b)
	return out
}
