// Package syncmap provides a small generic wrapper over sync.Map, the
// shape the registry and subscriber sets are built on.
package syncmap

import "sync"

// Map is a type-safe wrapper over sync.Map.
type Map[K comparable, V any] struct {
	m sync.Map
}

// Load returns the value stored for key, if any.
func (m *Map[K, V]) Load(key K) (V, bool) {
	v, ok := m.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Store sets the value for key.
func (m *Map[K, V]) Store(key K, value V) {
	m.m.Store(key, value)
}

// LoadOrStore returns the existing value for key if present, otherwise
// stores and returns value.
func (m *Map[K, V]) LoadOrStore(key K, value V) (V, bool) {
	actual, loaded := m.m.LoadOrStore(key, value)
	return actual.(V), loaded
}

// Delete removes key from the map.
func (m *Map[K, V]) Delete(key K) {
	m.m.Delete(key)
}

// LoadAndDelete removes key and returns its prior value, if any.
func (m *Map[K, V]) LoadAndDelete(key K) (V, bool) {
	v, ok := m.m.LoadAndDelete(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Range calls fn for every key/value pair; see sync.Map.Range for
// iteration-during-mutation semantics.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	m.m.Range(func(k, v any) bool {
		return fn(k.(K), v.(V))
	})
}

// Len walks the map and counts its entries. O(n); sync.Map has no O(1)
// size, same tradeoff the teacher's registry accepts.
func (m *Map[K, V]) Len() int {
	n := 0
	m.Range(func(K, V) bool {
		n++
		return true
	})
	return n
}
