package gocotb

import "container/list"

// orderedMap is an insertion-ordered map with move-to-back-on-reinsert
// semantics: Set on an already-present key moves it to the tail rather than
// leaving it at its original position. This is the single data structure
// backing the run queue, the trigger-waiters map's per-trigger FIFO waiter
// lists, and the pending-writes map (§3), grounded in the teacher's
// hash-map-plus-list registry shape, minus its GC weak-pointer scavenging —
// everything stored here is explicitly removed by the scheduler, never
// garbage collected out from under a waiter.
type orderedMap[K comparable, V any] struct {
	order *list.List
	index map[K]*list.Element
}

type orderedMapEntry[K comparable, V any] struct {
	key   K
	value V
}

func newOrderedMap[K comparable, V any]() *orderedMap[K, V] {
	return &orderedMap[K, V]{
		order: list.New(),
		index: make(map[K]*list.Element),
	}
}

// Set inserts key/value at the tail, or moves an existing key to the tail
// with the new value.
func (m *orderedMap[K, V]) Set(key K, value V) {
	if el, ok := m.index[key]; ok {
		m.order.MoveToBack(el)
		el.Value.(*orderedMapEntry[K, V]).value = value
		return
	}
	el := m.order.PushBack(&orderedMapEntry[K, V]{key: key, value: value})
	m.index[key] = el
}

// Has reports whether key is present.
func (m *orderedMap[K, V]) Has(key K) bool {
	_, ok := m.index[key]
	return ok
}

// Get returns the value for key, and whether it was present.
func (m *orderedMap[K, V]) Get(key K) (V, bool) {
	if el, ok := m.index[key]; ok {
		return el.Value.(*orderedMapEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Delete removes key if present.
func (m *orderedMap[K, V]) Delete(key K) {
	if el, ok := m.index[key]; ok {
		m.order.Remove(el)
		delete(m.index, key)
	}
}

// Len returns the number of entries.
func (m *orderedMap[K, V]) Len() int { return m.order.Len() }

// PopFront removes and returns the head entry in insertion order.
func (m *orderedMap[K, V]) PopFront() (key K, value V, ok bool) {
	front := m.order.Front()
	if front == nil {
		return key, value, false
	}
	entry := front.Value.(*orderedMapEntry[K, V])
	m.order.Remove(front)
	delete(m.index, entry.key)
	return entry.key, entry.value, true
}

// Keys returns all keys in insertion order. Used for bulk operations such
// as killing every waiting/queued task at shutdown.
func (m *orderedMap[K, V]) Keys() []K {
	keys := make([]K, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*orderedMapEntry[K, V]).key)
	}
	return keys
}
