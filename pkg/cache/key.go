package cache

import (
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached response by logical resource, operation and parameters.
type Key struct {
	// Resource is the logical resource (e.g. "orders", "orders/stats").
	Resource string

	// Operation names the read (e.g. "list", "get").
	Operation string

	// Params are the request parameters. Order of insertion never affects the key.
	Params url.Values
}

// NewKey builds a Key from a flat parameter map.
func NewKey(resource, operation string, params map[string]string) Key {
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}
	return Key{Resource: resource, Operation: operation, Params: values}
}

// String generates a deterministic cache key string.
// Format: orders:<resource>:<operation>:k1=v1&k2=v2
//
// Parameter names are sorted, and so are repeated values of one name.
// Values are query-escaped so separators inside values cannot collide.
//
// Example:
//
//	orders:orders:list:page=1&status=processing
func (k Key) String() string {
	var b strings.Builder
	b.WriteString("orders:")
	b.WriteString(strings.Trim(k.Resource, "/"))
	b.WriteByte(':')
	b.WriteString(k.Operation)

	if len(k.Params) == 0 {
		return b.String()
	}

	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteByte(':')
	first := true
	for _, name := range names {
		values := append([]string(nil), k.Params[name]...)
		sort.Strings(values)
		for _, v := range values {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(url.QueryEscape(name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}

	return b.String()
}
