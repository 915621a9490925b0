// Package wasmhost serves a qtbind surface to a WebAssembly guest.
//
// Every flat function of the surface becomes an import of a wazero host
// module (named "qtbind" unless WithModuleName says otherwise), with the
// C-linkage shapes of the generated wrappers lowered to wasm32:
//
//	bool, object handle   i32
//	int                   i64
//	double                f64
//	string                i32 pointer to a PackedString
//	array, map            i32 pointer to a PackedList
//
// A function returning a string or container takes a leading i32 pointer
// to which the packed result is written. String data handed to the guest
// is allocated through the Allocator, and the guest owns it.
//
// Overrides go the other way: when the bound guest exports a function with
// a callback name, such as "callbackQTimer_TimerEvent", objects created
// through the surface route that virtual method or signal to the export.
//
// Errors inside host functions abort the guest call; wazero returns them
// from the guest export that was running.
package wasmhost

import (
	"context"
	"fmt"
	"strings"

	qtbind "github.com/CrimsonAS/qtbind/binding"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// DefaultModuleName is the import module name of the host functions.
const DefaultModuleName = "qtbind"

type Host struct {
	surface *qtbind.Surface
	name    string
	alloc   Allocator
	log     *zap.Logger

	guest api.Module
	ctx   context.Context
}

type Option func(*Host)

func WithModuleName(name string) Option {
	return func(h *Host) { h.name = name }
}

// WithAllocator replaces the default allocator, which calls the guest's
// exported malloc and free.
func WithAllocator(a Allocator) Option {
	return func(h *Host) { h.alloc = a }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Host) { h.log = l }
}

// New builds a host for every class registered with b. Container adapters
// may be added to Surface() until Instantiate is called.
func New(b *qtbind.Bridge, opts ...Option) *Host {
	h := &Host{
		name:  DefaultModuleName,
		alloc: GuestAllocator("malloc", "free"),
		log:   qtbind.Logger(),
		ctx:   context.Background(),
	}
	for _, o := range opts {
		o(h)
	}
	h.log = h.log.With(zap.String("component", "wasmhost"), zap.String("module", h.name))
	h.surface = qtbind.NewSurface(b, h)
	return h
}

func (h *Host) Surface() *qtbind.Surface {
	return h.surface
}

// Instantiate defines the host module in r. It must happen before any
// guest importing it is instantiated.
func (h *Host) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(h.name)

	exported := 0
	for _, f := range h.surface.Functions() {
		sig, ok := signatureOf(f.Params, f.Result)
		if !ok {
			h.log.Debug("function has no wasm form", zap.String("function", f.Name))
			continue
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(h.hostFunc(f, sig), sig.params, sig.results).
			WithName(f.Name).
			Export(f.Name)
		exported++
	}

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("instantiate host module %s: %w", h.name, err)
	}
	h.log.Info("host module instantiated", zap.Int("functions", exported))
	return mod, nil
}

// Bind selects the guest whose memory the host functions use and whose
// exports implement callbacks. Objects created before Bind have no
// overrides.
func (h *Host) Bind(guest api.Module) error {
	if guest.Memory() == nil {
		return fmt.Errorf("guest %s exports no memory", guest.Name())
	}
	h.guest = guest
	h.log.Debug("guest bound", zap.String("guest", guest.Name()))
	return nil
}

func (h *Host) memory() (api.Memory, error) {
	if h.guest == nil {
		return nil, &qtbind.Error{Kind: qtbind.KindClosed, Detail: "no guest bound"}
	}
	return h.guest.Memory(), nil
}

func (h *Host) fail(function string, err error) {
	h.log.Warn("host function failed", zap.String("function", function), zap.Error(err))
	panic(err)
}

func (h *Host) hostFunc(f *qtbind.Function, sig signature) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		prev := h.ctx
		h.ctx = ctx
		defer func() { h.ctx = prev }()

		mem, err := h.memory()
		if err != nil {
			h.fail(f.Name, err)
		}

		params := stack
		var out uint32
		if sig.indirect {
			out, params = uint32(stack[0]), stack[1:]
		}
		args := make([]any, len(f.Params))
		for i, t := range f.Params {
			if args[i], err = liftValue(mem, t, params[i]); err != nil {
				h.fail(f.Name, fmt.Errorf("argument %d: %w", i, err))
			}
		}

		result, err := h.surface.Call(f.Name, args...)
		if err != nil {
			h.fail(f.Name, err)
		}

		switch {
		case sig.indirect:
			if err := h.writeIndirect(ctx, mem, f.Result, out, result); err != nil {
				h.fail(f.Name, err)
			}
		case len(sig.results) == 1:
			if stack[0], err = lowerScalar(f.Result, result); err != nil {
				h.fail(f.Name, err)
			}
		}
	}
}

// writeIndirect writes a string or container result to ptr. String data
// is allocated for the guest, which owns it from then on.
func (h *Host) writeIndirect(ctx context.Context, mem api.Memory, t qtbind.Type, ptr uint32, v any) error {
	if t != qtbind.TypeString {
		l, _ := v.(qtbind.PackedList)
		return writeList(mem, ptr, l)
	}

	s, _ := v.(qtbind.PackedString)
	var data uint32
	if s.Length > 0 {
		var err error
		if data, err = h.alloc.Malloc(ctx, h.guest, uint32(s.Length)); err != nil {
			return err
		}
		if !mem.Write(data, s.Data[:s.Length]) {
			return fmt.Errorf("string data at %#x: %w", data, errOutOfRange)
		}
	}
	return writeStringHeader(mem, ptr, data, s.Length)
}

// Implements reports whether the bound guest exports the callback.
func (h *Host) Implements(name string) bool {
	return h.guest != nil && h.guest.ExportedFunction(name) != nil
}

// callbackFunction finds the flat function sharing the callback's shape:
// the Default function of a virtual method, or the emitter of a signal.
func (h *Host) callbackFunction(name string) (*qtbind.Function, bool) {
	flat := strings.TrimPrefix(name, "callback")
	if f, ok := h.surface.Lookup(flat + "Default"); ok {
		return f, true
	}
	return h.surface.Lookup(flat)
}

// Callback calls the guest export name. Packed arguments are written to
// memory from the allocator and released when the call returns; a string
// result is copied out and its data freed.
func (h *Host) Callback(name string, self qtbind.Handle, args []any) (any, error) {
	mem, err := h.memory()
	if err != nil {
		return nil, err
	}
	fn := h.guest.ExportedFunction(name)
	f, ok := h.callbackFunction(name)
	if fn == nil || !ok {
		return nil, &qtbind.Error{Kind: qtbind.KindUnknownFunction, Function: name}
	}
	sig, ok := signatureOf(f.Params, f.Result)
	if !ok || !sameValueTypes(sig.params, fn.Definition().ParamTypes()) || !sameValueTypes(sig.results, fn.Definition().ResultTypes()) {
		return nil, &qtbind.Error{Kind: qtbind.KindSignature, Function: name, Detail: "guest export has the wrong shape"}
	}

	ctx := h.ctx
	var scratch []uint32
	defer func() {
		for _, p := range scratch {
			if err := h.alloc.Free(ctx, h.guest, p); err != nil {
				h.log.Warn("free failed", zap.String("callback", name), zap.Error(err))
			}
		}
	}()
	allocate := func(size uint32) (uint32, error) {
		p, err := h.alloc.Malloc(ctx, h.guest, size)
		if err == nil {
			scratch = append(scratch, p)
		}
		return p, err
	}

	stack := make([]uint64, 0, len(sig.params))
	var out uint32
	if sig.indirect {
		if out, err = allocate(packedStringSize); err != nil {
			return nil, err
		}
		stack = append(stack, uint64(out))
	}
	stack = append(stack, uint64(uint32(self)))

	for i, arg := range args {
		t := f.Params[i+1]
		switch t {
		case qtbind.TypeString:
			s, _ := arg.(qtbind.PackedString)
			ptr, err := allocate(packedStringSize)
			if err != nil {
				return nil, err
			}
			var data uint32
			if s.Length > 0 {
				if data, err = allocate(uint32(s.Length)); err != nil {
					return nil, err
				}
				mem.Write(data, s.Data[:s.Length])
			}
			if err := writeStringHeader(mem, ptr, data, s.Length); err != nil {
				return nil, err
			}
			stack = append(stack, uint64(ptr))

		case qtbind.TypeList, qtbind.TypeMap:
			l, _ := arg.(qtbind.PackedList)
			ptr, err := allocate(packedListSize)
			if err != nil {
				return nil, err
			}
			if err := writeList(mem, ptr, l); err != nil {
				return nil, err
			}
			stack = append(stack, uint64(ptr))

		default:
			raw, err := lowerScalar(t, arg)
			if err != nil {
				return nil, &qtbind.Error{Kind: qtbind.KindTypeMismatch, Function: name, Cause: err}
			}
			stack = append(stack, raw)
		}
	}

	res, err := fn.Call(ctx, stack...)
	if err != nil {
		return nil, &qtbind.Error{Kind: qtbind.KindHost, Function: name, Cause: err}
	}

	switch {
	case sig.indirect && f.Result == qtbind.TypeString:
		s, err := readString(mem, out)
		if err != nil {
			return nil, err
		}
		data, _ := mem.ReadUint32Le(out)
		if err := h.alloc.Free(ctx, h.guest, data); err != nil {
			h.log.Warn("free failed", zap.String("callback", name), zap.Error(err))
		}
		return s, nil
	case sig.indirect:
		return readList(mem, out)
	case len(res) == 1:
		return liftValue(mem, f.Result, res[0])
	}
	return nil, nil
}
