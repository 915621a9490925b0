package gen

import (
	"fmt"
	"hash/fnv"
	"strings"
)

type valueKind int

const (
	kindVoid valueKind = iota
	kindBool
	kindInt
	kindDouble
	kindString
	kindObject // pointer to a class instance
	kindValue  // class instance passed by value or reference
	kindList
	kindMap
)

var integralTypes = map[string]bool{
	"int": true, "uint": true, "unsigned": true, "unsigned int": true, "short": true,
	"long": true, "long long": true, "qint8": true, "qint16": true, "qint32": true,
	"qint64": true, "quint8": true, "quint16": true, "quint32": true, "quint64": true,
	"qlonglong": true, "qulonglong": true, "qsizetype": true, "size_t": true, "ulong": true,
	"unsigned long": true, "unsigned long long": true, "unsigned short": true,
}

// cType is a C++ type as declared, with its boundary form.
type cType struct {
	raw   string
	clean string
	kind  valueKind
	enum  *Enum // set for enums of described classes
}

func (m *Module) typeOf(v string) cType {
	t := cType{raw: strings.TrimSpace(v), clean: CleanValue(v)}
	switch {
	case t.clean == "" || (t.clean == VOID && !strings.Contains(t.raw, "*")):
		t.kind = kindVoid
	case t.clean == "bool":
		t.kind = kindBool
	case integralTypes[t.clean]:
		t.kind = kindInt
	case t.clean == "double" || t.clean == "float" || t.clean == "qreal":
		t.kind = kindDouble
	case t.clean == "QString":
		t.kind = kindString
	case IsPackedList(t.clean):
		t.kind = kindList
	case IsPackedMap(t.clean):
		t.kind = kindMap
	case strings.Contains(t.raw, "*"):
		t.kind = kindObject
	case strings.Contains(t.clean, "::"):
		// nested enums and flags
		t.kind = kindInt
		t.enum, _ = m.Enum(t.clean)
	default:
		t.kind = kindValue
	}
	return t
}

func (t cType) integral() bool {
	return integralTypes[t.clean]
}

// elem is the element type of a list, keeping the pointer.
func (m *Module) elem(t cType) cType {
	return m.typeOf(unpackedListDirty(t.clean))
}

func (m *Module) keyValue(t cType) (cType, cType) {
	kv := strings.SplitN(unpackedListDirty(t.clean), ",", 2)
	if len(kv) != 2 {
		return m.typeOf(kv[0]), m.typeOf("")
	}
	return m.typeOf(kv[0]), m.typeOf(kv[1])
}

// cName is the C declaration type of t.
func (m *Module) cName(t cType) string {
	switch t.kind {
	case kindVoid:
		return "void"
	case kindBool:
		return "char"
	case kindInt:
		return "long long"
	case kindDouble:
		return "double"
	case kindString:
		return m.Name + "_PackedString"
	case kindList, kindMap:
		return m.Name + "_PackedList"
	}
	return "void*"
}

// goName is the cgo type of t.
func (m *Module) goName(t cType) string {
	switch t.kind {
	case kindBool:
		return "C.char"
	case kindInt:
		return "C.longlong"
	case kindDouble:
		return "C.double"
	case kindString:
		return "C." + m.Name + "_PackedString"
	case kindList, kindMap:
		return "C." + m.Name + "_PackedList"
	}
	return "unsafe.Pointer"
}

func tmpName(seed string) string {
	h := fnv.New32a()
	h.Write([]byte(seed))
	return fmt.Sprintf("t%06x", h.Sum32()&0xffffff)
}

// fromC converts the C parameter name of type t into a C++ argument.
func (m *Module) fromC(t cType, name string) string {
	switch t.kind {
	case kindBool:
		return name + " != 0"
	case kindInt:
		if t.integral() {
			return name
		}
		return fmt.Sprintf("static_cast<%s>(%s)", t.clean, name)
	case kindString:
		return fmt.Sprintf("QString::fromUtf8(%s.data, %s.len)", name, name)
	case kindObject:
		return fmt.Sprintf("static_cast<%s*>(%s)", t.clean, name)
	case kindValue:
		return fmt.Sprintf("*static_cast<%s*>(%s)", t.clean, name)
	case kindList, kindMap:
		return fmt.Sprintf("*static_cast<%s*>(%s.data)", t.clean, name)
	}
	return name
}

// toC converts the C++ expression expr of type t into its C form. An
// owned conversion copies class values to the heap, for results; a
// borrowed one passes their address, for callback arguments.
func (m *Module) toC(t cType, expr string, owned bool) string {
	switch t.kind {
	case kindString:
		tmp := tmpName(expr)
		return fmt.Sprintf(`({ QByteArray %s = %s.toUtf8(); %s_PackedString { const_cast<char*>(%s.prepend("WHITESPACE").constData()+10), %s.size()-10 }; })`,
			tmp, expr, m.Name, tmp, tmp)
	case kindObject:
		if strings.HasPrefix(t.raw, "const") {
			return fmt.Sprintf("const_cast<%s*>(%s)", t.clean, expr)
		}
		return expr
	case kindValue:
		if owned {
			return fmt.Sprintf("new %s(%s)", t.clean, expr)
		}
		return fmt.Sprintf("const_cast<%s*>(&%s)", t.clean, expr)
	case kindList, kindMap:
		return fmt.Sprintf("({ %s* tmpValue = new %s(%s); %s_PackedList { tmpValue, tmpValue->size() }; })",
			t.clean, t.clean, expr, m.Name)
	}
	return expr
}

// fromCallback converts the C result of a callback into the C++ return
// value of type t. String data returned by a callback is malloc'd by Go
// and freed here.
func (m *Module) fromCallback(t cType, expr string) string {
	switch t.kind {
	case kindBool:
		return expr + " != 0"
	case kindInt:
		if t.integral() {
			return expr
		}
		return fmt.Sprintf("static_cast<%s>(%s)", t.clean, expr)
	case kindString:
		tmp := tmpName(expr)
		return fmt.Sprintf("({ %s_PackedString %s = %s; QString %sValue = QString::fromUtf8(%s.data, %s.len); free(%s.data); %sValue; })",
			m.Name, tmp, expr, tmp, tmp, tmp, tmp, tmp)
	case kindObject:
		return fmt.Sprintf("static_cast<%s*>(%s)", t.clean, expr)
	case kindValue:
		return fmt.Sprintf("*static_cast<%s*>(%s)", t.clean, expr)
	case kindList, kindMap:
		return fmt.Sprintf("*static_cast<%s*>(%s.data)", t.clean, expr)
	}
	return expr
}
