// Package nsvalue implements the type-tagged key/value container used
// throughout the namespace fabric for heterogeneous records: INode extended
// attributes, Replica/Pool extensible metadata bags, and the StackInstance
// scratch area.
package nsvalue

import (
	"fmt"
	"strconv"
)

// Map is a heterogeneous, string-keyed value bag. The zero value is usable.
type Map map[string]interface{}

func New() Map { return make(Map) }

func (m Map) Set(key string, v interface{}) { m[key] = v }

func (m Map) Get(key string) (interface{}, bool) {
	v, ok := m[key]
	return v, ok
}

func (m Map) Delete(key string) { delete(m, key) }

func (m Map) String(key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

func (m Map) StringOr(key, def string) string {
	if s := m.String(key); s != "" {
		return s
	}
	return def
}

func (m Map) Int(key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}

func (m Map) Int64(key string) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func (m Map) Bool(key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	default:
		return false, false
	}
}

// Clone returns a shallow copy, used when callers need to mutate a bag
// without affecting the stored record (e.g. before a write-through cache
// invalidation races a concurrent reader).
func (m Map) Clone() Map {
	c := make(Map, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Merge overlays other on top of m in place, returning m.
func (m Map) Merge(other Map) Map {
	for k, v := range other {
		m[k] = v
	}
	return m
}
