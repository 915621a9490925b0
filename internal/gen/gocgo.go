package gen

import (
	"fmt"
	"strings"

	"golang.org/x/tools/imports"
)

const goPrelude = `
// List is a native container and its element count at the time it was
// packed.
type List struct {
	Ptr unsafe.Pointer
	Len int
}

// Sink receives the virtual calls and signal emissions of native objects.
var Sink qtbind.CallbackSink

// Resolve maps a native object to its handle, and Native maps a handle
// back to the native object. Both are set by the embedding application.
var (
	Resolve func(unsafe.Pointer) qtbind.Handle
	Native  func(qtbind.Handle) unsafe.Pointer
)
`

const goHelpers = `
func cBool(v bool) C.char {
	if v {
		return 1
	}
	return 0
}

func packString(s string) C.%[1]s_PackedString {
	return C.%[1]s_PackedString{data: C.CString(s), len: C.longlong(len(s))}
}

func goString(s C.%[1]s_PackedString) string {
	if s.data == nil {
		return ""
	}
	return C.GoStringN(s.data, C.int(s.len))
}

func packList(l List) C.%[1]s_PackedList {
	return C.%[1]s_PackedList{data: l.Ptr, len: C.int(l.Len)}
}

func goList(l C.%[1]s_PackedList) List {
	return List{Ptr: l.data, Len: int(l.len)}
}

func handleOf(ptr unsafe.Pointer) qtbind.Handle {
	if ptr == nil {
		return 0
	}
	return Resolve(ptr)
}

func implements(name string) bool {
	return Sink != nil && Resolve != nil && Sink.Implements(name)
}

func dispatch(name string, ptr unsafe.Pointer, args ...any) any {
	r, err := Sink.Callback(name, Resolve(ptr), args)
	if err != nil {
		qtbind.Logger().Error("callback failed", zap.String("callback", name), zap.Error(err))
		return nil
	}
	return r
}

func resultBool(r any) C.char {
	b, _ := r.(bool)
	return cBool(b)
}

func resultInt(r any) C.longlong {
	switch v := r.(type) {
	case int64:
		return C.longlong(v)
	case float64:
		return C.longlong(v)
	}
	return 0
}

func resultDouble(r any) C.double {
	switch v := r.(type) {
	case float64:
		return C.double(v)
	case int64:
		return C.double(v)
	}
	return 0
}

// resultString copies the result into C memory, which the shim frees.
func resultString(r any) C.%[1]s_PackedString {
	p, ok := r.(qtbind.PackedString)
	if !ok {
		return C.%[1]s_PackedString{}
	}
	return C.%[1]s_PackedString{data: (*C.char)(C.CBytes(p.Bytes())), len: C.longlong(p.Length)}
}

func resultObject(r any) unsafe.Pointer {
	h, ok := r.(qtbind.Handle)
	if !ok || Native == nil {
		return nil
	}
	return Native(h)
}

func resultList(r any) C.%[1]s_PackedList {
	l, ok := r.(qtbind.PackedList)
	if !ok || Native == nil {
		return C.%[1]s_PackedList{}
	}
	return C.%[1]s_PackedList{data: Native(l.Data), len: C.int(l.Length)}
}
`

// goType is the Go type a wrapper uses for t.
func goType(t cType) string {
	switch t.kind {
	case kindBool:
		return "bool"
	case kindInt:
		if t.enum != nil {
			return t.enum.GoName()
		}
		return "int64"
	case kindDouble:
		return "float64"
	case kindString:
		return "string"
	case kindList, kindMap:
		return "List"
	}
	return "unsafe.Pointer"
}

func goZero(t cType) string {
	switch t.kind {
	case kindBool:
		return "false"
	case kindInt, kindDouble:
		return "0"
	case kindString:
		return `""`
	case kindList, kindMap:
		return "List{}"
	}
	return "nil"
}

func (m *Module) cgoZero(t cType) string {
	switch t.kind {
	case kindString, kindList, kindMap:
		return m.goName(t) + "{}"
	case kindObject, kindValue:
		return "nil"
	}
	return "0"
}

// toCgo converts a wrapper's Go argument into its C form.
func toCgo(t cType, name string) string {
	switch t.kind {
	case kindBool:
		return "cBool(" + name + ")"
	case kindInt:
		return "C.longlong(" + name + ")"
	case kindDouble:
		return "C.double(" + name + ")"
	case kindString:
		return name + "C"
	case kindList, kindMap:
		return "packList(" + name + ")"
	}
	return name
}

func fromCgo(t cType, expr string) string {
	switch t.kind {
	case kindBool:
		return expr + " != 0"
	case kindInt:
		if t.enum != nil {
			return t.enum.GoName() + "(" + expr + ")"
		}
		return "int64(" + expr + ")"
	case kindDouble:
		return "float64(" + expr + ")"
	case kindString:
		return "goString(" + expr + ")"
	case kindList, kindMap:
		return "goList(" + expr + ")"
	}
	return expr
}

// boundary converts a callback's C argument into the form a CallbackSink
// receives.
func boundary(t cType, name string) string {
	switch t.kind {
	case kindBool:
		return name + " != 0"
	case kindInt:
		return "int64(" + name + ")"
	case kindDouble:
		return "float64(" + name + ")"
	case kindString:
		return "qtbind.PackString(goString(" + name + "))"
	case kindList, kindMap:
		return fmt.Sprintf("qtbind.PackedList{Data: handleOf(%s.data), Length: int32(%s.len)}", name, name)
	}
	return "handleOf(" + name + ")"
}

func resultFunc(t cType) string {
	switch t.kind {
	case kindBool:
		return "resultBool"
	case kindInt:
		return "resultInt"
	case kindDouble:
		return "resultDouble"
	case kindString:
		return "resultString"
	case kindList, kindMap:
		return "resultList"
	}
	return "resultObject"
}

func (g *Generator) cgoPreamble(b *strings.Builder, m *Module) {
	major := strings.Split(g.opts.QtVersion, ".")[0]
	libs := libsFor(m.Name)
	pkgs := make([]string, len(libs))
	for i, lib := range libs {
		pkgs[i] = "Qt" + major + lib
	}

	b.WriteString("/*\n")
	b.WriteString("#cgo CFLAGS: -pipe -O2 -Wall -W\n")
	b.WriteString("#cgo CXXFLAGS: -pipe -O2 -std=c++11 -Wall -W -fPIC\n")
	if g.opts.Debug {
		b.WriteString("#cgo CXXFLAGS: -g -O0 -DQT_QML_DEBUG\n")
	}
	fmt.Fprintf(b, "#cgo pkg-config: %s\n", strings.Join(pkgs, " "))
	b.WriteString("#include <stdlib.h>\n")
	fmt.Fprintf(b, "#include \"%s.h\"\n", strings.ToLower(m.Name))
	b.WriteString("*/\n")
	b.WriteString("import \"C\"\n\n")
}

func (g *Generator) goFile(p *plan) ([]byte, error) {
	m := p.module
	var b strings.Builder

	b.WriteString("// Code generated by qtbind-gen. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", g.goPackage(m))
	if !g.opts.Stub {
		g.cgoPreamble(&b, m)
	}
	b.WriteString("import (\n\t\"unsafe\"\n\n")
	b.WriteString("\tqtbind \"github.com/CrimsonAS/qtbind/binding\"\n")
	b.WriteString("\t\"go.uber.org/zap\"\n)\n")
	b.WriteString(goPrelude)
	if !g.opts.Stub {
		fmt.Fprintf(&b, goHelpers, m.Name)
	}

	for _, cp := range p.classes {
		fmt.Fprintf(&b, "\n/* %s */\n", cp.class.Name)
		for _, e := range cp.class.Enums {
			g.writeEnum(&b, e)
		}
		for _, f := range cp.funcs {
			g.writeWrapper(&b, f)
		}
		if g.opts.Stub {
			continue
		}
		for _, cb := range cp.callbacks {
			writeCallback(&b, m, cb)
		}
	}

	src := []byte(b.String())
	out, err := imports.Process(g.goPackage(m)+"_cgo.go", src, &imports.Options{
		Comments:  true,
		TabIndent: true,
		TabWidth:  8,
	})
	if err != nil {
		return nil, fmt.Errorf("format generated go: %w", err)
	}
	return out, nil
}

// writeWrapper writes a Go function calling the flat function f.
func (g *Generator) writeWrapper(b *strings.Builder, f *cFunc) {
	params := make([]string, len(f.params))
	args := make([]string, len(f.params))
	for i, p := range f.params {
		params[i] = p.name + " " + goType(p.t)
		args[i] = toCgo(p.t, p.name)
	}

	result := ""
	if f.result.kind != kindVoid {
		result = " " + goType(f.result)
	}
	fmt.Fprintf(b, "\nfunc %s(%s)%s {\n", f.name, strings.Join(params, ", "), result)

	if g.opts.Stub {
		if f.result.kind != kindVoid {
			fmt.Fprintf(b, "\treturn %s\n", goZero(f.result))
		}
		b.WriteString("}\n")
		return
	}

	for _, p := range f.params {
		if p.t.kind == kindString {
			fmt.Fprintf(b, "\t%sC := packString(%s)\n", p.name, p.name)
			fmt.Fprintf(b, "\tdefer C.free(unsafe.Pointer(%sC.data))\n", p.name)
		}
	}
	call := fmt.Sprintf("C.%s(%s)", f.name, strings.Join(args, ", "))
	if f.result.kind == kindVoid {
		fmt.Fprintf(b, "\t%s\n", call)
	} else {
		fmt.Fprintf(b, "\treturn %s\n", fromCgo(f.result, call))
	}
	b.WriteString("}\n")
}

// writeCallback writes the //export a shim calls. When the host does not
// implement it, an impure virtual falls back to the native implementation.
func writeCallback(b *strings.Builder, m *Module, cb *callback) {
	params := []string{"ptr unsafe.Pointer"}
	native := []string{"ptr"}
	args := []string{fmt.Sprintf("%q", cb.name), "ptr"}
	for _, p := range cb.params {
		params = append(params, p.name+" "+m.goName(p.t))
		native = append(native, p.name)
		args = append(args, boundary(p.t, p.name))
	}

	result := ""
	if cb.result.kind != kindVoid {
		result = " " + m.goName(cb.result)
	}
	fmt.Fprintf(b, "\n//export %s\n", cb.name)
	fmt.Fprintf(b, "func %s(%s)%s {\n", cb.name, strings.Join(params, ", "), result)

	dispatch := fmt.Sprintf("dispatch(%s)", strings.Join(args, ", "))
	if cb.result.kind == kindVoid {
		fmt.Fprintf(b, "\tif implements(%q) {\n\t\t%s\n\t\treturn\n\t}\n", cb.name, dispatch)
		if cb.fallback != "" {
			fmt.Fprintf(b, "\tC.%s(%s)\n", cb.fallback, strings.Join(native, ", "))
		}
		b.WriteString("}\n")
		return
	}

	fmt.Fprintf(b, "\tif implements(%q) {\n\t\treturn %s(%s)\n\t}\n", cb.name, resultFunc(cb.result), dispatch)
	switch {
	case cb.fallback != "" && cb.result.kind == kindString:
		// the native result points into a temporary; hand the shim a copy it can free
		fmt.Fprintf(b, "\treturn resultString(qtbind.PackString(goString(C.%s(%s))))\n", cb.fallback, strings.Join(native, ", "))
	case cb.fallback != "":
		fmt.Fprintf(b, "\treturn C.%s(%s)\n", cb.fallback, strings.Join(native, ", "))
	default:
		fmt.Fprintf(b, "\treturn %s\n", m.cgoZero(cb.result))
	}
	b.WriteString("}\n")
}
