package qtbind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct{ n int }

func TestHandleInsertGet(t *testing.T) {
	table := NewHandleTable()
	v := &payload{1}

	h := table.Insert(v, Owned)
	assert.NotZero(t, h)

	got, err := table.Get(h)
	require.NoError(t, err)
	assert.Same(t, v, got)

	own, err := table.Ownership(h)
	require.NoError(t, err)
	assert.Equal(t, Owned, own)

	owner, ok := table.Owner(v)
	assert.True(t, ok)
	assert.Equal(t, h, owner)
	assert.Equal(t, 1, table.Len())
}

func TestHandleZeroIsInvalid(t *testing.T) {
	table := NewHandleTable()

	_, err := table.Get(0)
	assert.ErrorIs(t, err, ErrInvalidHandle)

	_, err = table.Get(makeHandle(41, 0))
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestHandleDestroyTwice(t *testing.T) {
	table := NewHandleTable()
	v := &payload{1}
	other := &payload{2}
	h := table.Insert(v, Owned)
	ho := table.Insert(other, Owned)

	got, err := table.Destroy(h)
	require.NoError(t, err)
	assert.Same(t, v, got)

	_, err = table.Destroy(h)
	assert.ErrorIs(t, err, ErrStaleHandle)

	_, err = table.Get(h)
	assert.ErrorIs(t, err, ErrStaleHandle)

	// Unrelated values survive the misuse.
	got, err = table.Get(ho)
	require.NoError(t, err)
	assert.Same(t, other, got)
}

func TestHandleBorrowed(t *testing.T) {
	table := NewHandleTable()
	v := &payload{1}
	owned := table.Insert(v, Owned)

	b1 := table.Borrow(v)
	b2 := table.Borrow(v)
	assert.Equal(t, b1, b2, "borrowing the same value twice should return the same handle")
	assert.NotEqual(t, owned, b1)

	_, err := table.Destroy(b1)
	assert.ErrorIs(t, err, ErrBorrowed)

	err = table.Release(owned)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	require.NoError(t, table.Release(b1))
	_, err = table.Get(b1)
	assert.ErrorIs(t, err, ErrStaleHandle)

	// The owned handle is untouched by the release.
	_, err = table.Get(owned)
	assert.NoError(t, err)
}

func TestHandleDestroyRevokesBorrows(t *testing.T) {
	table := NewHandleTable()
	v := &payload{1}
	owned := table.Insert(v, Owned)
	borrowed := table.Borrow(v)

	_, err := table.Destroy(owned)
	require.NoError(t, err)

	_, err = table.Get(borrowed)
	assert.ErrorIs(t, err, ErrStaleHandle)
	assert.Equal(t, 0, table.Len())
}

func TestHandleSlotReuse(t *testing.T) {
	table := NewHandleTable()

	h1 := table.Insert(&payload{1}, Owned)
	_, err := table.Destroy(h1)
	require.NoError(t, err)

	h2 := table.Insert(&payload{2}, Owned)
	s1, _ := h1.slot()
	s2, _ := h2.slot()
	assert.Equal(t, s1, s2, "freed slot should be reused")
	assert.NotEqual(t, h1, h2, "reused slot must have a new generation")

	_, err = table.Get(h1)
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestHandleSlotRetirement(t *testing.T) {
	table := NewHandleTable()

	var seen []Handle
	for i := 0; i <= maxGeneration; i++ {
		h := table.Insert(&payload{i}, Owned)
		slot, _ := h.slot()
		require.Equal(t, uint32(0), slot)
		require.Equal(t, uint8(i), h.generation())
		seen = append(seen, h)
		_, err := table.Destroy(h)
		require.NoError(t, err)
	}

	h := table.Insert(&payload{-1}, Owned)
	slot, _ := h.slot()
	assert.Equal(t, uint32(1), slot, "exhausted slot should be retired")
	for _, old := range seen {
		_, err := table.Get(old)
		assert.ErrorIs(t, err, ErrStaleHandle)
	}
}

func TestHandleEach(t *testing.T) {
	table := NewHandleTable()
	a, b := &payload{1}, &payload{2}
	ha := table.Insert(a, Owned)
	hb := table.Borrow(b)

	found := make(map[Handle]Ownership)
	table.Each(func(h Handle, o Ownership, v any) bool {
		found[h] = o
		return true
	})
	assert.Equal(t, map[Handle]Ownership{ha: Owned, hb: Borrowed}, found)

	n := 0
	table.Each(func(Handle, Ownership, any) bool {
		n++
		return false
	})
	assert.Equal(t, 1, n)
}
