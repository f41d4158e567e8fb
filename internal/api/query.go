package api

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// Params are query-string filters. Keys whose value is nil, a nil pointer or the
// empty string are dropped; every other value (0 and false included) is sent.
type Params map[string]any

// Values converts p to url.Values, dropping absent filters.
func (p Params) Values() url.Values {
	values := url.Values{}
	for key, raw := range p {
		v, ok := queryValue(raw)
		if !ok {
			continue
		}
		values.Set(key, v)
	}
	return values
}

// Encode returns the encoded query string (sorted by key), or "" when nothing remains.
func (p Params) Encode() string {
	if len(p) == 0 {
		return ""
	}
	return p.Values().Encode()
}

func queryValue(raw any) (string, bool) {
	if raw == nil {
		return "", false
	}
	rv := reflect.ValueOf(raw)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	var s string
	switch v := rv.Interface().(type) {
	case string:
		s = v
	case []string:
		s = strings.Join(v, ",")
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}
	if s == "" {
		return "", false
	}
	return s, true
}
