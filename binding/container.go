package qtbind

import (
	"cmp"
	"reflect"
	"sort"
)

// Cloner is implemented by element types that must be deep-copied when a
// container hands them out.
type Cloner[T any] interface {
	Clone() T
}

func cloneValue[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}

// List is an ordered container reachable through a handle. It is not safe
// for concurrent use.
type List[T any] struct {
	items []T
	// element type of dynamically typed lists; nil when T is concrete
	elem reflect.Type
}

// NewList creates a list holding copies of items.
func NewList[T any](items ...T) *List[T] {
	l := &List[T]{items: make([]T, 0, len(items))}
	for _, v := range items {
		l.Set(v)
	}
	return l
}

func newDynamicList(elem reflect.Type) *List[any] {
	return &List[any]{elem: elem}
}

// At returns a copy of the element at index i. An index out of range
// panics, as it would on the native container.
func (l *List[T]) At(i int) T {
	return cloneValue(l.items[i])
}

// Set appends a copy of v.
func (l *List[T]) Set(v T) {
	l.items = append(l.items, cloneValue(v))
}

func (l *List[T]) Len() int {
	return len(l.items)
}

// Values returns a copy of every element, in order.
func (l *List[T]) Values() []T {
	out := make([]T, len(l.items))
	for i, v := range l.items {
		out[i] = cloneValue(v)
	}
	return out
}

func (l *List[T]) containerLen() int { return l.Len() }
func (l *List[T]) atAny(i int) any  { return l.At(i) }

func (l *List[T]) elemType() reflect.Type {
	if l.elem != nil {
		return l.elem
	}
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (l *List[T]) appendValue(v reflect.Value) {
	value, _ := v.Interface().(T)
	l.Set(value)
}

// Map is a keyed container reachable through a handle. Keys are kept in
// order so iteration through the adapter functions is stable. It is not
// safe for concurrent use.
type Map[K cmp.Ordered, V any] struct {
	keys   []K
	values map[K]V
	elem   reflect.Type
}

// NewMap creates an empty map.
func NewMap[K cmp.Ordered, V any]() *Map[K, V] {
	return &Map[K, V]{values: make(map[K]V)}
}

func newDynamicMap(key, elem reflect.Type) (mapContainer, error) {
	switch key.Kind() {
	case reflect.String:
		return &Map[string, any]{values: make(map[string]any), elem: elem}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return &Map[int64, any]{values: make(map[int64]any), elem: elem}, nil
	}
	return nil, newError(KindTypeMismatch, "", "map keys of type %s cannot cross the boundary", key)
}

// At returns a copy of the value for key, or the zero value when the key is
// absent.
func (m *Map[K, V]) At(key K) V {
	return cloneValue(m.values[key])
}

// Has reports whether key is present.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.values[key]
	return ok
}

// Set inserts or overwrites the value for key with a copy of v.
func (m *Map[K, V]) Set(key K, v V) {
	if _, exists := m.values[key]; !exists {
		n := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= key })
		m.keys = append(m.keys, key)
		copy(m.keys[n+1:], m.keys[n:])
		m.keys[n] = key
	}
	m.values[key] = cloneValue(v)
}

func (m *Map[K, V]) Len() int {
	return len(m.keys)
}

// Keys returns the keys in ascending order.
func (m *Map[K, V]) Keys() []K {
	return append([]K(nil), m.keys...)
}

func (m *Map[K, V]) containerLen() int { return m.Len() }

func (m *Map[K, V]) keyType() reflect.Type {
	return reflect.TypeOf((*K)(nil)).Elem()
}

func (m *Map[K, V]) elemType() reflect.Type {
	if m.elem != nil {
		return m.elem
	}
	return reflect.TypeOf((*V)(nil)).Elem()
}

func (m *Map[K, V]) atKey(k reflect.Value) any {
	key := k.Convert(m.keyType()).Interface().(K)
	if m.elem != nil && !m.Has(key) {
		return reflect.Zero(m.elem).Interface()
	}
	return m.At(key)
}

func (m *Map[K, V]) setKey(k, v reflect.Value) {
	var value V
	if v.IsValid() {
		value, _ = v.Interface().(V)
	}
	m.Set(k.Convert(m.keyType()).Interface().(K), value)
}

func (m *Map[K, V]) keysAny() []any {
	out := make([]any, len(m.keys))
	for i, k := range m.keys {
		out[i] = k
	}
	return out
}

type listContainer interface {
	containerLen() int
	elemType() reflect.Type
	atAny(i int) any
	appendValue(v reflect.Value)
}

type mapContainer interface {
	containerLen() int
	keyType() reflect.Type
	elemType() reflect.Type
	atKey(k reflect.Value) any
	setKey(k, v reflect.Value)
	keysAny() []any
}

var (
	_ listContainer = (*List[int])(nil)
	_ mapContainer  = (*Map[string, int])(nil)
)
