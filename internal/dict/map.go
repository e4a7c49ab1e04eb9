package dict

import (
	"iter"
	"slices"
)

// Map is an ordered string-keyed collection of values.
type Map struct {
	keys []string
	vals map[string]Value
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

func (*Map) Kind() Kind { return KindMap }
func (*Map) isValue()   {}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string { return slices.Clone(m.keys) }

// All iterates over entries in insertion order.
func (m *Map) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for _, k := range m.keys {
			if !yield(k, m.vals[k]) {
				return
			}
		}
	}
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	v, ok := m.vals[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.vals[key]
	return ok
}

// Set stores v under key. An existing key keeps its position.
// Setting a nil value removes the key.
func (m *Map) Set(key string, v Value) {
	if v == nil {
		m.Remove(key)
		return
	}
	if m.vals == nil {
		m.vals = make(map[string]Value)
	}
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
}

// Remove deletes key and reports whether it was present.
func (m *Map) Remove(key string) bool {
	if _, ok := m.vals[key]; !ok {
		return false
	}
	delete(m.vals, key)
	m.keys = slices.DeleteFunc(m.keys, func(k string) bool { return k == key })
	return true
}

// Clone returns a deep copy of the map.
func (m *Map) Clone() *Map {
	c := &Map{
		keys: slices.Clone(m.keys),
		vals: make(map[string]Value, len(m.vals)),
	}
	for k, v := range m.vals {
		c.vals[k] = Clone(v)
	}
	return c
}

func (m *Map) SetString(key, v string)        { m.Set(key, String(v)) }
func (m *Map) SetBool(key string, v bool)     { m.Set(key, Bool(v)) }
func (m *Map) SetInt32(key string, v int32)   { m.Set(key, Int32(v)) }
func (m *Map) SetInt64(key string, v int64)   { m.Set(key, Int64(v)) }
func (m *Map) SetUint8(key string, v uint8)   { m.Set(key, Uint8(v)) }
func (m *Map) SetUint16(key string, v uint16) { m.Set(key, Uint16(v)) }
func (m *Map) SetUint32(key string, v uint32) { m.Set(key, Uint32(v)) }
func (m *Map) SetUint64(key string, v uint64) { m.Set(key, Uint64(v)) }

// SetBlob stores a copy of b under key.
func (m *Map) SetBlob(key string, b []byte) {
	m.Set(key, NewBlob(b))
}

// Lookup returns the value under key as T. ok is false when the key is
// absent; err is a *TypeError when it is present with another kind.
func Lookup[T Value](m *Map, key string) (v T, ok bool, err error) {
	raw, present := m.Get(key)
	if !present {
		return v, false, nil
	}
	tv, match := raw.(T)
	if !match {
		return v, false, &TypeError{Key: key, Want: v.Kind(), Got: raw.Kind()}
	}
	return tv, true, nil
}

// get is the lenient form of Lookup: a mismatch reads as absent.
func get[T Value](m *Map, key string) (T, bool) {
	v, ok, err := Lookup[T](m, key)
	if err != nil {
		return v, false
	}
	return v, ok
}

func (m *Map) GetString(key string) (string, bool) {
	v, ok := get[String](m, key)
	return string(v), ok
}

func (m *Map) GetBool(key string) (bool, bool) {
	v, ok := get[Bool](m, key)
	return bool(v), ok
}

func (m *Map) GetInt32(key string) (int32, bool) {
	v, ok := get[Int32](m, key)
	return int32(v), ok
}

func (m *Map) GetInt64(key string) (int64, bool) {
	v, ok := get[Int64](m, key)
	return int64(v), ok
}

func (m *Map) GetUint8(key string) (uint8, bool) {
	v, ok := get[Uint8](m, key)
	return uint8(v), ok
}

func (m *Map) GetUint16(key string) (uint16, bool) {
	v, ok := get[Uint16](m, key)
	return uint16(v), ok
}

func (m *Map) GetUint32(key string) (uint32, bool) {
	v, ok := get[Uint32](m, key)
	return uint32(v), ok
}

func (m *Map) GetUint64(key string) (uint64, bool) {
	v, ok := get[Uint64](m, key)
	return uint64(v), ok
}

func (m *Map) GetBlob(key string) (Blob, bool) {
	return get[Blob](m, key)
}

func (m *Map) GetMap(key string) (*Map, bool) {
	return get[*Map](m, key)
}

func (m *Map) GetList(key string) (*List, bool) {
	return get[*List](m, key)
}
