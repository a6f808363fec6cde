package application

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// JoinList serializes a list parameter the way most vendors expect it: trimmed,
// empty entries dropped, comma-joined without spaces.
func JoinList(values []string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ",")
}

// Query collects query parameters, skipping optional values that were not supplied.
type Query struct {
	values url.Values
}

// NewQuery creates an empty Query.
func NewQuery() *Query {
	return &Query{values: make(url.Values)}
}

// Set adds key when value carries something. Nil pointers, empty strings and empty
// lists are skipped; lists are comma-joined; pointers are dereferenced.
func (q *Query) Set(key string, value interface{}) *Query {
	if s, ok := FormatValue(value); ok {
		q.values.Set(key, s)
	}
	return q
}

// Repeat adds one key=value pair per list entry instead of comma-joining.
func (q *Query) Repeat(key string, values []string) *Query {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			q.values.Add(key, trimmed)
		}
	}
	return q
}

// Values returns the collected parameters.
func (q *Query) Values() url.Values {
	return q.values
}

// FormatValue renders a parameter value for a query string. It reports false for
// values that should be omitted.
func FormatValue(value interface{}) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case *string:
		if v == nil || *v == "" {
			return "", false
		}
		return *v, true
	case []string:
		joined := JoinList(v)
		return joined, joined != ""
	case int:
		return strconv.Itoa(v), true
	case *int:
		if v == nil {
			return "", false
		}
		return strconv.Itoa(*v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case *int64:
		if v == nil {
			return "", false
		}
		return strconv.FormatInt(*v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case *float64:
		if v == nil {
			return "", false
		}
		return strconv.FormatFloat(*v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case *bool:
		if v == nil {
			return "", false
		}
		return strconv.FormatBool(*v), true
	default:
		return fmt.Sprint(v), true
	}
}

// Compact drops nil, empty-string, nil-pointer and empty-collection entries from a
// request body map. Pointers are dereferenced so the JSON stays flat.
func Compact(body map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(body))
	for key, value := range body {
		if value == nil {
			continue
		}
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Ptr, reflect.Interface:
			if rv.IsNil() {
				continue
			}
			out[key] = rv.Elem().Interface()
			continue
		case reflect.String:
			if rv.Len() == 0 {
				continue
			}
		case reflect.Slice, reflect.Map:
			if rv.IsNil() || rv.Len() == 0 {
				continue
			}
		}
		out[key] = value
	}
	return out
}

// PathEscape escapes a single path segment supplied by the caller.
func PathEscape(segment string) string {
	return url.PathEscape(segment)
}
