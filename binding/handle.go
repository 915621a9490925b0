package qtbind

import (
	"fmt"
	"sync"
)

// Handle is the opaque reference to a bound value that crosses the
// boundary in place of a native pointer. The low 24 bits hold the slot
// index plus one and the high 8 bits hold the slot generation, so a handle
// to a destroyed value never resolves again. Handle 0 is never valid.
type Handle uint32

const (
	handleIndexBits = 24
	handleIndexMask = 1<<handleIndexBits - 1
	maxGeneration   = 0xff
	maxSlots        = handleIndexMask - 1
)

func makeHandle(slot uint32, gen uint8) Handle {
	return Handle(uint32(gen)<<handleIndexBits | (slot + 1))
}

func (h Handle) slot() (uint32, bool) {
	idx := uint32(h) & handleIndexMask
	if idx == 0 {
		return 0, false
	}
	return idx - 1, true
}

func (h Handle) generation() uint8 {
	return uint8(uint32(h) >> handleIndexBits)
}

func (h Handle) String() string {
	return fmt.Sprintf("0x%08x", uint32(h))
}

// Ownership says who must release a handle. An owned handle must be
// destroyed exactly once by its holder; a borrowed handle must never be
// destroyed, only released or forgotten.
type Ownership uint8

const (
	Owned Ownership = iota + 1
	Borrowed
)

func (o Ownership) String() string {
	switch o {
	case Owned:
		return "owned"
	case Borrowed:
		return "borrowed"
	default:
		return "invalid"
	}
}

type slot struct {
	value     any
	ownership Ownership
	gen       uint8
	live      bool
}

// HandleTable issues and resolves handles. It is safe for concurrent use;
// the values it refers to are not protected by it.
type HandleTable struct {
	mu      sync.Mutex
	slots   []slot
	free    []uint32
	live    int
	borrows map[any]Handle
	owners  map[any]Handle
}

// NewHandleTable creates an empty table.
func NewHandleTable() *HandleTable {
	return &HandleTable{
		slots:   make([]slot, 0, 64),
		free:    make([]uint32, 0, 16),
		borrows: make(map[any]Handle),
		owners:  make(map[any]Handle),
	}
}

// Insert stores v and returns a new handle with the given ownership.
// Values must be comparable (pointers, in practice).
func (t *HandleTable) Insert(v any, ownership Ownership) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(v, ownership)
}

func (t *HandleTable) insertLocked(v any, ownership Ownership) Handle {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if len(t.slots) >= maxSlots {
			panic("qtbind: handle table exhausted")
		}
		t.slots = append(t.slots, slot{})
		idx = uint32(len(t.slots) - 1)
	}

	s := &t.slots[idx]
	s.value = v
	s.ownership = ownership
	s.live = true
	t.live++

	h := makeHandle(idx, s.gen)
	switch ownership {
	case Owned:
		t.owners[v] = h
	case Borrowed:
		t.borrows[v] = h
	}
	return h
}

func (t *HandleTable) lookupLocked(h Handle) (*slot, error) {
	idx, ok := h.slot()
	if !ok || int(idx) >= len(t.slots) {
		return nil, newError(KindInvalidHandle, "", "handle %s was never issued", h)
	}
	s := &t.slots[idx]
	if !s.live || s.gen != h.generation() {
		return nil, newError(KindStaleHandle, "", "handle %s refers to a destroyed value", h)
	}
	return s, nil
}

// Get resolves h to its value.
func (t *HandleTable) Get(h Handle) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookupLocked(h)
	if err != nil {
		return nil, err
	}
	return s.value, nil
}

// Ownership reports whether h is an owned or a borrowed handle.
func (t *HandleTable) Ownership(h Handle) (Ownership, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookupLocked(h)
	if err != nil {
		return 0, err
	}
	return s.ownership, nil
}

// Owner returns the owned handle of v, if v has one.
func (t *HandleTable) Owner(v any) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.owners[v]
	return h, ok
}

// Borrow returns a borrowed handle for v. While v stays alive the same
// handle is returned for the same value, so identity survives repeated
// accessor calls.
func (t *HandleTable) Borrow(v any) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.borrows[v]; ok {
		return h
	}
	return t.insertLocked(v, Borrowed)
}

// Destroy invalidates an owned handle along with every borrowed handle of
// the same value, and returns the value so the caller can tear it down.
// Destroying a borrowed handle or destroying twice is an error.
func (t *HandleTable) Destroy(h Handle) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookupLocked(h)
	if err != nil {
		return nil, err
	}
	if s.ownership != Owned {
		return nil, newError(KindBorrowed, "", "handle %s is borrowed and must not be destroyed", h)
	}

	v := s.value
	t.revokeLocked(v)
	return v, nil
}

// Release forgets a borrowed handle without touching its value.
func (t *HandleTable) Release(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookupLocked(h)
	if err != nil {
		return err
	}
	if s.ownership != Borrowed {
		return newError(KindTypeMismatch, "", "handle %s is owned; destroy it instead", h)
	}

	delete(t.borrows, s.value)
	t.freeLocked(h)
	return nil
}

// Revoke invalidates every handle of v. It is used when a value dies on
// the native side without the holder of its owned handle asking for it.
func (t *HandleTable) Revoke(v any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.revokeLocked(v)
}

func (t *HandleTable) revokeLocked(v any) {
	if h, ok := t.borrows[v]; ok {
		delete(t.borrows, v)
		t.freeLocked(h)
	}
	if h, ok := t.owners[v]; ok {
		delete(t.owners, v)
		t.freeLocked(h)
	}
}

func (t *HandleTable) freeLocked(h Handle) {
	idx, _ := h.slot()
	s := &t.slots[idx]
	s.value = nil
	s.live = false
	s.ownership = 0
	t.live--

	// A slot whose generation would wrap is retired so an old handle can
	// never alias a newer value.
	if s.gen == maxGeneration {
		return
	}
	s.gen++
	t.free = append(t.free, idx)
}

// Len returns the number of live handles.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Each calls fn for every live handle until fn returns false. The table is
// locked for the duration; fn must not call back into it.
func (t *HandleTable) Each(fn func(Handle, Ownership, any) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		if !fn(makeHandle(uint32(i), s.gen), s.ownership, s.value) {
			return
		}
	}
}
