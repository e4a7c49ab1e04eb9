package dict

import (
	"iter"
	"slices"
)

// List is an ordered sequence of values.
type List struct {
	items []Value
}

// NewList returns a list holding items.
func NewList(items ...Value) *List {
	l := &List{}
	l.Append(items...)
	return l
}

func (*List) Kind() Kind { return KindList }
func (*List) isValue()   {}

// Len returns the number of elements.
func (l *List) Len() int { return len(l.items) }

// At returns the element at index i. It panics if i is out of range.
func (l *List) At(i int) Value { return l.items[i] }

// Append adds values to the end of the list. Nil values are skipped.
func (l *List) Append(vs ...Value) {
	for _, v := range vs {
		if v != nil {
			l.items = append(l.items, v)
		}
	}
}

// Remove deletes the element at index i.
func (l *List) Remove(i int) {
	l.items = slices.Delete(l.items, i, i+1)
}

// All iterates over the elements in order.
func (l *List) All() iter.Seq2[int, Value] {
	return func(yield func(int, Value) bool) {
		for i, v := range l.items {
			if !yield(i, v) {
				return
			}
		}
	}
}

// Maps iterates over the map elements in order, skipping anything else.
func (l *List) Maps() iter.Seq[*Map] {
	return func(yield func(*Map) bool) {
		for _, v := range l.items {
			m, ok := v.(*Map)
			if !ok {
				continue
			}
			if !yield(m) {
				return
			}
		}
	}
}

// Clone returns a deep copy of the list.
func (l *List) Clone() *List {
	c := &List{items: make([]Value, len(l.items))}
	for i, v := range l.items {
		c.items[i] = Clone(v)
	}
	return c
}
