package crdt

import "sync"

// register одно значение с версией
type register[V any] struct {
	value   V
	version int64
}

// LWWMap is a map of last-writer-wins registers. Each key keeps the value
// written with the highest version; stale or duplicated writes are ignored,
// so replicas converge whatever order updates arrive in.
type LWWMap[K comparable, V any] struct {
	elements map[K]register[V]
	mu       sync.RWMutex
}

// NewLWWMap создает пустую LWW карту
func NewLWWMap[K comparable, V any]() *LWWMap[K, V] {
	return &LWWMap[K, V]{
		elements: make(map[K]register[V]),
	}
}

// Set stores value under key if version is strictly newer than the current one.
// Returns true when the map changed.
func (m *LWWMap[K, V]) Set(key K, value V, version int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.elements[key]; ok && version <= existing.version {
		return false
	}

	m.elements[key] = register[V]{value: value, version: version}
	return true
}

// Get returns the value stored under key.
func (m *LWWMap[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.elements[key]
	return r.value, ok
}

// Entry is a snapshot of one register.
type Entry[K comparable, V any] struct {
	Key     K
	Value   V
	Version int64
}

// Snapshot returns all registers. Order is unspecified.
func (m *LWWMap[K, V]) Snapshot() []Entry[K, V] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Entry[K, V], 0, len(m.elements))
	for k, r := range m.elements {
		result = append(result, Entry[K, V]{Key: k, Value: r.value, Version: r.version})
	}

	return result
}

// Len возвращает количество ключей
func (m *LWWMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.elements)
}

// Clear удаляет все элементы
func (m *LWWMap[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.elements = make(map[K]register[V])
}
