package runtime

import (
	"fmt"
	"html"
	"reflect"
	"sort"
	"strconv"
	"text/template"
)

// EscapeHTML escapes s for inclusion in HTML text or attribute values.
func EscapeHTML(s string) string {
	return html.EscapeString(s)
}

// EscapeString escapes s for inclusion inside a quoted script string.
func EscapeString(s string) string {
	return template.JSEscapeString(s)
}

// Truthy reports whether v counts as true in a condition. Zero numbers, empty
// strings and empty collections are false.
func Truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case float64:
		return v != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// Stringify converts an evaluated value to output text. nil renders as the
// empty string.
func Stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(v)
}

type entry struct {
	key   any
	value any
}

// entries lists the items of an iterable value. Maps iterate in key order,
// integers iterate 0..n-1.
func entries(v any) ([]entry, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]entry, len(v))
		for i, item := range v {
			out[i] = entry{key: i, value: item}
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]entry, len(keys))
		for i, k := range keys {
			out[i] = entry{key: k, value: v[k]}
		}
		return out, nil
	case int:
		out := make([]entry, 0, max(v, 0))
		for i := 0; i < v; i++ {
			out = append(out, entry{key: i, value: i})
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]entry, rv.Len())
		for i := range out {
			out[i] = entry{key: i, value: rv.Index(i).Interface()}
		}
		return out, nil
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		out := make([]entry, len(keys))
		for i, k := range keys {
			out[i] = entry{key: k.Interface(), value: rv.MapIndex(k).Interface()}
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot iterate over %T", v)
}
