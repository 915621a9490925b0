package qtbind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListRoundTrip(t *testing.T) {
	l := NewList[int]()
	for i := 0; i < 10; i++ {
		l.Set(i * i)
	}

	require.Equal(t, 10, l.Len())
	for i := 0; i < 10; i++ {
		assert.Equal(t, i*i, l.At(i))
	}
	assert.Equal(t, []int{0, 1, 4, 9, 16, 25, 36, 49, 64, 81}, l.Values())
}

func TestListAtReturnsCopy(t *testing.T) {
	l := NewList(PackString("first"))

	got := l.At(0)
	got.Data[0] = 'F'
	assert.Equal(t, "first", l.At(0).String())

	src := PackString("second")
	l.Set(src)
	src.Data[0] = 'S'
	assert.Equal(t, "second", l.At(1).String())
}

func TestListOutOfRange(t *testing.T) {
	l := NewList("a")
	assert.Panics(t, func() { l.At(1) })
}

func TestMapRoundTrip(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("b", 2)
	m.Set("c", 3)
	m.Set("a", 1)
	m.Set("b", 20)

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"a", "b", "c"}, m.Keys())
	assert.Equal(t, 1, m.At("a"))
	assert.Equal(t, 20, m.At("b"))
	assert.True(t, m.Has("c"))

	assert.False(t, m.Has("missing"))
	assert.Equal(t, 0, m.At("missing"))
}

func TestMapAtReturnsCopy(t *testing.T) {
	m := NewMap[int64, PackedString]()
	m.Set(7, PackString("seven"))

	got := m.At(7)
	got.Data[0] = 'S'
	assert.Equal(t, "seven", m.At(7).String())
}
