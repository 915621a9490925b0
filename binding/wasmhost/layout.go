package wasmhost

import (
	"errors"
	"fmt"

	qtbind "github.com/CrimsonAS/qtbind/binding"
	"github.com/tetratelabs/wazero/api"
)

// Linear memory layout of the boundary structs on wasm32.
//
//	PackedString { u32 data; u32 pad; i64 length; }  16 bytes, align 8
//	PackedList   { u32 handle; i32 length; }          8 bytes, align 4
const (
	packedStringSize = 16
	packedListSize   = 8
)

var errOutOfRange = errors.New("access outside guest memory")

// signature is the wasm shape of a flat function or callback. Strings and
// containers travel as pointers to their packed structs; a string or
// container result is written through a leading result pointer.
type signature struct {
	params   []api.ValueType
	results  []api.ValueType
	indirect bool
}

func lowerType(t qtbind.Type) (api.ValueType, bool) {
	switch t {
	case qtbind.TypeBool, qtbind.TypeObject, qtbind.TypeString, qtbind.TypeList, qtbind.TypeMap:
		return api.ValueTypeI32, true
	case qtbind.TypeInt:
		return api.ValueTypeI64, true
	case qtbind.TypeDouble:
		return api.ValueTypeF64, true
	}
	return 0, false
}

func isIndirect(t qtbind.Type) bool {
	return t == qtbind.TypeString || t == qtbind.TypeList || t == qtbind.TypeMap
}

// signatureOf returns false for functions using "var" values, which have
// no fixed representation in linear memory.
func signatureOf(params []qtbind.Type, result qtbind.Type) (signature, bool) {
	var sig signature
	if isIndirect(result) {
		sig.indirect = true
		sig.params = append(sig.params, api.ValueTypeI32)
	}
	for _, p := range params {
		vt, ok := lowerType(p)
		if !ok {
			return signature{}, false
		}
		sig.params = append(sig.params, vt)
	}
	if result != qtbind.TypeVoid && !sig.indirect {
		vt, ok := lowerType(result)
		if !ok {
			return signature{}, false
		}
		sig.results = []api.ValueType{vt}
	}
	return sig, true
}

func sameValueTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// liftValue reads one value of type t from its raw stack form.
func liftValue(mem api.Memory, t qtbind.Type, raw uint64) (any, error) {
	switch t {
	case qtbind.TypeBool:
		return uint32(raw) != 0, nil
	case qtbind.TypeInt:
		return int64(raw), nil
	case qtbind.TypeDouble:
		return api.DecodeF64(raw), nil
	case qtbind.TypeObject:
		return qtbind.Handle(uint32(raw)), nil
	case qtbind.TypeString:
		return readString(mem, uint32(raw))
	case qtbind.TypeList, qtbind.TypeMap:
		return readList(mem, uint32(raw))
	}
	return nil, fmt.Errorf("%s values cannot cross linear memory", t)
}

// lowerScalar is the inverse of liftValue for values passed on the stack.
func lowerScalar(t qtbind.Type, v any) (uint64, error) {
	switch t {
	case qtbind.TypeBool:
		b, ok := v.(bool)
		if !ok && v != nil {
			return 0, fmt.Errorf("expected bool, have %T", v)
		}
		if b {
			return 1, nil
		}
		return 0, nil

	case qtbind.TypeInt:
		switch n := v.(type) {
		case int64:
			return uint64(n), nil
		case int:
			return uint64(int64(n)), nil
		case int32:
			return uint64(int64(n)), nil
		case uint32:
			return uint64(n), nil
		case float64:
			return uint64(int64(n)), nil
		case nil:
			return 0, nil
		}

	case qtbind.TypeDouble:
		switch n := v.(type) {
		case float64:
			return api.EncodeF64(n), nil
		case float32:
			return api.EncodeF64(float64(n)), nil
		case int64:
			return api.EncodeF64(float64(n)), nil
		case nil:
			return api.EncodeF64(0), nil
		}

	case qtbind.TypeObject:
		switch h := v.(type) {
		case qtbind.Handle:
			return uint64(uint32(h)), nil
		case nil:
			return 0, nil
		}
	}
	return 0, fmt.Errorf("cannot pass %T as %s", v, t)
}

func readString(mem api.Memory, ptr uint32) (qtbind.PackedString, error) {
	data, ok := mem.ReadUint32Le(ptr)
	if !ok {
		return qtbind.PackedString{}, fmt.Errorf("string at %#x: %w", ptr, errOutOfRange)
	}
	n, ok := mem.ReadUint64Le(ptr + 8)
	if !ok || n > uint64(mem.Size()) {
		return qtbind.PackedString{}, fmt.Errorf("string at %#x: %w", ptr, errOutOfRange)
	}
	if n == 0 {
		return qtbind.PackBytes(nil), nil
	}
	buf, ok := mem.Read(data, uint32(n))
	if !ok {
		return qtbind.PackedString{}, fmt.Errorf("string data at %#x: %w", data, errOutOfRange)
	}
	// buf aliases guest memory
	return qtbind.PackBytes(buf), nil
}

func writeStringHeader(mem api.Memory, ptr, data uint32, n int64) error {
	if !mem.WriteUint32Le(ptr, data) || !mem.WriteUint32Le(ptr+4, 0) || !mem.WriteUint64Le(ptr+8, uint64(n)) {
		return fmt.Errorf("string at %#x: %w", ptr, errOutOfRange)
	}
	return nil
}

func readList(mem api.Memory, ptr uint32) (qtbind.PackedList, error) {
	h, ok := mem.ReadUint32Le(ptr)
	if !ok {
		return qtbind.PackedList{}, fmt.Errorf("list at %#x: %w", ptr, errOutOfRange)
	}
	n, ok := mem.ReadUint32Le(ptr + 4)
	if !ok {
		return qtbind.PackedList{}, fmt.Errorf("list at %#x: %w", ptr, errOutOfRange)
	}
	return qtbind.PackedList{Data: qtbind.Handle(h), Length: int32(n)}, nil
}

func writeList(mem api.Memory, ptr uint32, l qtbind.PackedList) error {
	if !mem.WriteUint32Le(ptr, uint32(l.Data)) || !mem.WriteUint32Le(ptr+4, uint32(l.Length)) {
		return fmt.Errorf("list at %#x: %w", ptr, errOutOfRange)
	}
	return nil
}
