package wasmhost

import (
	"context"
	"testing"

	qtbind "github.com/CrimsonAS/qtbind/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f64 = api.ValueTypeF64
)

type label struct {
	text  string
	words []string
}

func labelOf(self *qtbind.Object) *label {
	return self.State.(*label)
}

func newLabelBridge(t *testing.T) *qtbind.Bridge {
	t.Helper()
	reg := qtbind.NewRegistry()
	_, err := reg.Define("QLabel", "").
		Constructor(func(self *qtbind.Object) { self.State = &label{} }).
		Constructor(func(self *qtbind.Object, text string) { self.State = &label{text: text} }).
		Property("text",
			func(self *qtbind.Object) string { return labelOf(self).text },
			func(self *qtbind.Object, text string) { labelOf(self).text = text }).
		Virtual("heightForWidth", func(self *qtbind.Object, w int) int { return w / 2 }).
		Virtual("format", func(self *qtbind.Object, prefix string) string { return prefix + labelOf(self).text }).
		Method("setWords", func(self *qtbind.Object, words []string) { labelOf(self).words = words }).
		Method("ratio", func(self *qtbind.Object) float64 { return 0.5 }).
		Method("data", func(self *qtbind.Object) any { return nil }).
		Signal("clicked", func(int) {}, "count").
		Register()
	require.NoError(t, err)
	return qtbind.NewBridge(reg)
}

// Guest modules are assembled by hand: a memory, plus functions imported
// from the "fake" host module and re-exported under the same name.

type guestImport struct {
	name            string
	params, results []api.ValueType
	fn              api.GoModuleFunc
}

func uleb(n int) []byte {
	var b []byte
	for {
		c := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

func wasmName(s string) []byte {
	return append(uleb(len(s)), s...)
}

func wasmVec(items [][]byte) []byte {
	out := uleb(len(items))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func wasmSection(id byte, content []byte) []byte {
	return append(append([]byte{id}, uleb(len(content))...), content...)
}

func guestModule(imports ...guestImport) []byte {
	var types, imps, exps [][]byte
	for i, im := range imports {
		ft := append([]byte{0x60}, uleb(len(im.params))...)
		for _, p := range im.params {
			ft = append(ft, p)
		}
		ft = append(ft, uleb(len(im.results))...)
		for _, r := range im.results {
			ft = append(ft, r)
		}
		types = append(types, ft)

		imp := append(wasmName("fake"), wasmName(im.name)...)
		imps = append(imps, append(append(imp, 0x00), uleb(i)...))
		exps = append(exps, append(append(wasmName(im.name), 0x00), uleb(i)...))
	}
	exps = append(exps, append(wasmName("memory"), 0x02, 0x00))

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	if len(imports) > 0 {
		out = append(out, wasmSection(1, wasmVec(types))...)
		out = append(out, wasmSection(2, wasmVec(imps))...)
	}
	out = append(out, wasmSection(5, []byte{0x01, 0x00, 0x01})...)
	return append(out, wasmSection(7, wasmVec(exps))...)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	host  *Host
	mod   api.Module
	guest api.Module
	arena *ArenaAllocator
}

func newFixture(t *testing.T, imports ...guestImport) *fixture {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })

	f := &fixture{t: t, ctx: ctx, arena: NewArenaAllocator(4096, 65536)}
	f.host = New(newLabelBridge(t), WithAllocator(f.arena))

	var err error
	f.mod, err = f.host.Instantiate(ctx, r)
	require.NoError(t, err)

	if len(imports) > 0 {
		fake := r.NewHostModuleBuilder("fake")
		for _, im := range imports {
			fake.NewFunctionBuilder().WithGoModuleFunction(im.fn, im.params, im.results).Export(im.name)
		}
		_, err = fake.Instantiate(ctx)
		require.NoError(t, err)
	}

	f.guest, err = r.InstantiateWithConfig(ctx, guestModule(imports...), wazero.NewModuleConfig().WithName("guest"))
	require.NoError(t, err)
	require.NoError(t, f.host.Bind(f.guest))
	return f
}

func (f *fixture) call(name string, params ...uint64) []uint64 {
	f.t.Helper()
	fn := f.mod.ExportedFunction(name)
	require.NotNil(f.t, fn, name)
	res, err := fn.Call(f.ctx, params...)
	require.NoError(f.t, err, name)
	return res
}

// writeString places a PackedString at ptr with its data right behind it.
func (f *fixture) writeString(ptr uint32, s string) uint64 {
	f.t.Helper()
	mem := f.guest.Memory()
	require.True(f.t, mem.Write(ptr+packedStringSize, []byte(s)))
	require.NoError(f.t, writeStringHeader(mem, ptr, ptr+packedStringSize, int64(len(s))))
	return uint64(ptr)
}

func (f *fixture) readString(ptr uint32) string {
	f.t.Helper()
	s, err := readString(f.guest.Memory(), ptr)
	require.NoError(f.t, err)
	return s.String()
}

func TestSignatureOf(t *testing.T) {
	sig, ok := signatureOf([]qtbind.Type{qtbind.TypeObject, qtbind.TypeString}, qtbind.TypeString)
	require.True(t, ok)
	assert.True(t, sig.indirect)
	assert.Equal(t, []api.ValueType{i32, i32, i32}, sig.params)
	assert.Empty(t, sig.results)

	sig, ok = signatureOf([]qtbind.Type{qtbind.TypeObject, qtbind.TypeInt, qtbind.TypeDouble}, qtbind.TypeBool)
	require.True(t, ok)
	assert.Equal(t, []api.ValueType{i32, i64, f64}, sig.params)
	assert.Equal(t, []api.ValueType{i32}, sig.results)

	sig, ok = signatureOf([]qtbind.Type{qtbind.TypeMap}, qtbind.TypeList)
	require.True(t, ok)
	assert.Equal(t, []api.ValueType{i32, i32}, sig.params)

	_, ok = signatureOf([]qtbind.Type{qtbind.TypeObject}, qtbind.TypeVar)
	assert.False(t, ok)
}

func TestHostFunctions(t *testing.T) {
	f := newFixture(t)

	assert.Nil(t, f.mod.ExportedFunction("QLabel_Data"), "var results are not exported")

	h := f.call("QLabel_NewQLabel2", f.writeString(16, "hello"))[0]
	assert.NotZero(t, h)

	f.call("QLabel_Text", 256, h)
	assert.Equal(t, "hello", f.readString(256))
	data, _ := f.guest.Memory().ReadUint32Le(256)
	assert.GreaterOrEqual(t, data, uint32(4096), "result data comes from the allocator")

	f.call("QLabel_SetText", h, f.writeString(16, "héllo wörld"))
	f.call("QLabel_Text", 256, h)
	assert.Equal(t, "héllo wörld", f.readString(256))

	f.call("QLabel_SetText", h, f.writeString(16, ""))
	f.call("QLabel_Text", 256, h)
	assert.Equal(t, "", f.readString(256))

	assert.Equal(t, uint64(5), f.call("QLabel_HeightForWidth", h, 10)[0])
	assert.Equal(t, 0.5, api.DecodeF64(f.call("QLabel_Ratio", h)[0]))

	f.call("QLabel_DestroyQLabel", h)
	_, err := f.mod.ExportedFunction("QLabel_DestroyQLabel").Call(f.ctx, h)
	assert.ErrorIs(t, err, qtbind.ErrStaleHandle)
}

func TestHostContainers(t *testing.T) {
	f := newFixture(t)
	mem := f.guest.Memory()

	h := f.call("QLabel_NewQLabel")[0]
	f.call("QLabel___setWords_newList", 64)
	l, err := readList(mem, 64)
	require.NoError(t, err)
	assert.Equal(t, int32(0), l.Length)

	for _, w := range []string{"one", "two"} {
		f.call("QLabel___setWords_setList", 64, f.writeString(128, w))
	}
	assert.Equal(t, uint64(2), f.call("QLabel___setWords_sizeList", 64)[0])

	f.call("QLabel___setWords_atList", 256, 64, 1)
	assert.Equal(t, "two", f.readString(256))

	f.call("QLabel_SetWords", h, 64)
	obj, err := f.host.Surface().Bridge().Object(qtbind.Handle(uint32(h)))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, labelOf(obj).words)

	f.call("QLabel___setWords_destroyList", 64)
}

func TestHostWithoutGuest(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	host := New(newLabelBridge(t), WithModuleName("qt"))
	mod, err := host.Instantiate(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "qt", mod.Name())

	_, err = mod.ExportedFunction("QLabel_NewQLabel").Call(ctx)
	assert.ErrorIs(t, err, qtbind.ErrClosed)
	assert.False(t, host.Implements("callbackQLabel_Format"))
}

func TestHostCallbacks(t *testing.T) {
	var f *fixture
	var clicks []int64

	f = newFixture(t,
		guestImport{
			name: "callbackQLabel_HeightForWidth", params: []api.ValueType{i32, i64}, results: []api.ValueType{i64},
			fn: func(ctx context.Context, _ api.Module, stack []uint64) {
				// Base::heightForWidth(w) + 1
				res, err := f.mod.ExportedFunction("QLabel_HeightForWidthDefault").Call(ctx, stack[0], stack[1])
				if err != nil {
					panic(err)
				}
				stack[0] = res[0] + 1
			},
		},
		guestImport{
			name: "callbackQLabel_Format", params: []api.ValueType{i32, i32, i32},
			fn: func(ctx context.Context, _ api.Module, stack []uint64) {
				mem := f.guest.Memory()
				prefix, err := readString(mem, uint32(stack[2]))
				if err != nil {
					panic(err)
				}
				out := "[" + prefix.String() + "]"
				mem.Write(2048, []byte(out))
				if err := writeStringHeader(mem, uint32(stack[0]), 2048, int64(len(out))); err != nil {
					panic(err)
				}
			},
		},
		guestImport{
			name: "callbackQLabel_Clicked", params: []api.ValueType{i32, i64},
			fn: func(ctx context.Context, _ api.Module, stack []uint64) {
				clicks = append(clicks, int64(stack[1]))
			},
		},
	)
	assert.True(t, f.host.Implements("callbackQLabel_Format"))
	assert.False(t, f.host.Implements("callbackQLabel_TextChanged"))

	h := f.call("QLabel_NewQLabel2", f.writeString(16, "text"))[0]

	assert.Equal(t, uint64(6), f.call("QLabel_HeightForWidth", h, 10)[0], "override calls the default")
	assert.Equal(t, uint64(5), f.call("QLabel_HeightForWidthDefault", h, 10)[0])

	f.arena.Reset()
	f.call("QLabel_Format", 512, h, f.writeString(16, "> "))
	assert.Equal(t, "[> ]", f.readString(512))

	f.call("QLabel_FormatDefault", 512, h, f.writeString(16, "> "))
	assert.Equal(t, "> text", f.readString(512))

	f.call("QLabel_Clicked", h, 1)
	assert.Empty(t, clicks, "not connected")
	f.call("QLabel_ConnectClicked", h)
	f.call("QLabel_Clicked", h, 3)
	assert.Equal(t, []int64{3}, clicks)
}

func TestCallbackShapeMismatch(t *testing.T) {
	f := newFixture(t, guestImport{
		name: "callbackQLabel_HeightForWidth", params: []api.ValueType{i32, i32}, results: []api.ValueType{i32},
		fn:   func(ctx context.Context, _ api.Module, stack []uint64) { stack[0] = 0 },
	})

	h := f.call("QLabel_NewQLabel")[0]
	_, err := f.mod.ExportedFunction("QLabel_HeightForWidth").Call(f.ctx, h, 10)
	assert.ErrorIs(t, err, qtbind.ErrSignature)
}

func TestArenaAllocator(t *testing.T) {
	f := newFixture(t)
	a := NewArenaAllocator(4100, 4200)

	p, err := a.Malloc(f.ctx, f.guest, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(4104), p, "aligned to 8")

	p, err = a.Malloc(f.ctx, f.guest, 16)
	require.NoError(t, err)
	assert.Equal(t, uint32(4112), p)
	assert.Equal(t, uint32(28), a.Used())

	_, err = a.Malloc(f.ctx, f.guest, 200)
	assert.Error(t, err)

	a.Reset()
	assert.Zero(t, a.Used())

	_, err = NewArenaAllocator(65000, 70000).Malloc(f.ctx, f.guest, 1000)
	assert.ErrorIs(t, err, errOutOfRange)
}
