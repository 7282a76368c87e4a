package lms

import (
	"encoding/json"
	"strconv"
	"time"
)

// ID returns the item's "id" as a string, or "" when it has none.
func ID(item Item) string {
	return String(item, "id")
}

// String returns field key as a string. Numbers are formatted without
// exponent so large upstream IDs survive.
func String(item Item, key string) string {
	switch v := item[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// Time parses field key as an RFC 3339 timestamp or a plain date.
func Time(item Item, key string) (time.Time, bool) {
	s, ok := item[key].(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Float returns field key as a number. nil, missing and non-numeric values
// report false.
func Float(item Item, key string) (float64, bool) {
	switch v := item[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
