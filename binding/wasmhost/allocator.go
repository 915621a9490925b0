package wasmhost

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
)

// Allocator hands out guest memory for values the host writes into linear
// memory: string data and the packed structs of callback arguments.
type Allocator interface {
	Malloc(ctx context.Context, guest api.Module, size uint32) (uint32, error)
	Free(ctx context.Context, guest api.Module, ptr uint32) error
}

type guestAllocator struct {
	malloc, free string
}

// GuestAllocator allocates through functions exported by the guest, with
// the C signatures void* malloc(size_t) and void free(void*).
func GuestAllocator(malloc, free string) Allocator {
	return &guestAllocator{malloc: malloc, free: free}
}

func (a *guestAllocator) Malloc(ctx context.Context, guest api.Module, size uint32) (uint32, error) {
	fn := guest.ExportedFunction(a.malloc)
	if fn == nil {
		return 0, fmt.Errorf("guest does not export %s", a.malloc)
	}
	res, err := fn.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("%s(%d): %w", a.malloc, size, err)
	}
	if len(res) != 1 || uint32(res[0]) == 0 {
		return 0, fmt.Errorf("%s(%d): out of memory", a.malloc, size)
	}
	return uint32(res[0]), nil
}

func (a *guestAllocator) Free(ctx context.Context, guest api.Module, ptr uint32) error {
	fn := guest.ExportedFunction(a.free)
	if fn == nil || ptr == 0 {
		return nil
	}
	if _, err := fn.Call(ctx, uint64(ptr)); err != nil {
		return fmt.Errorf("%s(%#x): %w", a.free, ptr, err)
	}
	return nil
}

// ArenaAllocator is a bump allocator over a reserved region of guest
// memory, for guests without an allocator of their own. Free does
// nothing; Reset releases everything at once.
type ArenaAllocator struct {
	mu                sync.Mutex
	base, limit, next uint32
}

func NewArenaAllocator(base, limit uint32) *ArenaAllocator {
	return &ArenaAllocator{base: base, limit: limit, next: base}
}

func (a *ArenaAllocator) Malloc(_ context.Context, guest api.Module, size uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ptr := (a.next + 7) &^ 7
	end := uint64(ptr) + uint64(size)
	if end > uint64(a.limit) {
		return 0, fmt.Errorf("arena exhausted: %d bytes requested, %d free", size, a.limit-ptr)
	}
	if mem := guest.Memory(); mem == nil || end > uint64(mem.Size()) {
		return 0, fmt.Errorf("arena extends past guest memory: %w", errOutOfRange)
	}
	a.next = uint32(end)
	return ptr, nil
}

func (a *ArenaAllocator) Free(context.Context, api.Module, uint32) error {
	return nil
}

// Used is the number of bytes handed out since the last Reset.
func (a *ArenaAllocator) Used() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next - a.base
}

func (a *ArenaAllocator) Reset() {
	a.mu.Lock()
	a.next = a.base
	a.mu.Unlock()
}
