// Package slotmap allocates small numeric ids backed by a growable slot array.
// Freed ids are recycled oldest-first.
package slotmap

import (
	"errors"
	"math"
)

var ErrFull = errors.New("slotmap: no free id")

type slot[T any] struct {
	value T
	used  bool
}

// Map is not safe for concurrent use.
type Map[T any] struct {
	slots []slot[T]
	free  []uint16
	len   int
}

func New[T any]() *Map[T] {
	return &Map[T]{}
}

// Insert stores v under the oldest freed id, or the next unused one.
func (m *Map[T]) Insert(v T) (uint16, error) {
	if len(m.free) > 0 {
		id := m.free[0]
		m.free = m.free[1:]
		m.slots[id] = slot[T]{value: v, used: true}
		m.len++
		return id, nil
	}
	if len(m.slots) > math.MaxUint16 {
		return 0, ErrFull
	}
	id := uint16(len(m.slots))
	m.slots = append(m.slots, slot[T]{value: v, used: true})
	m.len++
	return id, nil
}

func (m *Map[T]) Get(id uint16) (T, bool) {
	if int(id) >= len(m.slots) || !m.slots[id].used {
		var zero T
		return zero, false
	}
	return m.slots[id].value, true
}

// Ptr returns a pointer into the slot for in-place mutation. It is valid
// until the next Insert.
func (m *Map[T]) Ptr(id uint16) *T {
	if int(id) >= len(m.slots) || !m.slots[id].used {
		return nil
	}
	return &m.slots[id].value
}

func (m *Map[T]) Remove(id uint16) (T, bool) {
	var zero T
	if int(id) >= len(m.slots) || !m.slots[id].used {
		return zero, false
	}
	v := m.slots[id].value
	m.slots[id] = slot[T]{}
	m.free = append(m.free, id)
	m.len--
	return v, true
}

func (m *Map[T]) Len() int {
	return m.len
}

// Each visits live entries in id order.
func (m *Map[T]) Each(fn func(id uint16, v *T)) {
	for i := range m.slots {
		if m.slots[i].used {
			fn(uint16(i), &m.slots[i].value)
		}
	}
}
