package qtbind

// PackedString carries one string value across the boundary. It mirrors the
// C layout { char* data; long long length; }, but Data is always an owned
// copy: the receiver may keep it for as long as it likes.
//
// The empty string packs to a non-nil, zero-length Data so receivers never
// need a separate null path.
type PackedString struct {
	Data   []byte
	Length int64
}

// PackString copies s into a PackedString.
func PackString(s string) PackedString {
	data := make([]byte, len(s))
	copy(data, s)
	return PackedString{Data: data, Length: int64(len(s))}
}

// PackBytes copies b into a PackedString.
func PackBytes(b []byte) PackedString {
	data := make([]byte, len(b))
	copy(data, b)
	return PackedString{Data: data, Length: int64(len(b))}
}

func (p PackedString) String() string {
	return string(p.Data[:p.Length])
}

// Bytes returns a copy of the packed bytes.
func (p PackedString) Bytes() []byte {
	out := make([]byte, p.Length)
	copy(out, p.Data[:p.Length])
	return out
}

// Clone returns an independent copy, which is what containers hand out.
func (p PackedString) Clone() PackedString {
	return PackBytes(p.Data[:p.Length])
}

// PackedList carries a container across the boundary. It mirrors the C
// layout { void* data; int length; }: Data is a handle to a live container
// and Length is its element count at the moment of packing. Length is not
// updated when the container changes through its adapter functions; query
// the size again after mutating.
type PackedList struct {
	Data   Handle
	Length int32
}
