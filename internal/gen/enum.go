package gen

import (
	"fmt"
	"strconv"
	"strings"
)

// enumerator is the Go expression for the value of v. A value that is not
// a number or a combination of enumerators declared before it is known
// only to the native side; native reports that it has to be read through
// nativeEnumName.
func enumerator(e *Enum, v *EnumValue) (expr string, native bool) {
	if v.Value == "" {
		return "", true
	}
	parts := strings.Split(v.Value, "|")
	out := make([]string, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if _, err := strconv.ParseInt(part, 0, 64); err == nil {
			out[i] = part
			continue
		}
		name := strings.TrimPrefix(part, e.class.Name+"::")
		if !e.declaredBefore(name, v) {
			return "", true
		}
		out[i] = e.class.Name + "__" + name
	}
	return strings.Join(out, " | "), false
}

func (e *Enum) declaredBefore(name string, v *EnumValue) bool {
	for _, w := range e.Values {
		if w == v {
			return false
		}
		if w.Name == name {
			return true
		}
	}
	return false
}

// nativeEnumName is the flat function returning the value of v.
func nativeEnumName(e *Enum, v *EnumValue) string {
	return e.class.Name + "_" + v.Name + "_Type"
}

func (g *Generator) planEnums(cp *classPlan) {
	c, m := cp.class, cp.class.module
	for _, e := range c.Enums {
		for _, v := range e.Values {
			if _, native := enumerator(e, v); !native {
				continue
			}
			cp.natives = append(cp.natives, &cFunc{
				name:   nativeEnumName(e, v),
				result: m.typeOf("long long"),
				body:   []string{fmt.Sprintf("return %s::%s;", c.Name, v.Name)},
			})
		}
	}
}

// writeEnum writes the Go type of e and its enumerators. Values only the
// native side knows are read at package initialization, or are zero in
// stub mode.
func (g *Generator) writeEnum(b *strings.Builder, e *Enum) {
	typ := e.GoName()
	fmt.Fprintf(b, "\n// %s\ntype %s int64\n", e.Fullname(), typ)
	if len(e.Values) == 0 {
		return
	}

	decl := "const"
	if e.NoConst {
		decl = "var"
	}
	lines := make([]string, len(e.Values))
	for i, v := range e.Values {
		expr, native := enumerator(e, v)
		if native {
			if g.opts.Stub {
				expr = "0"
			} else {
				expr = "C." + nativeEnumName(e, v) + "()"
				decl = "var"
			}
		}
		lines[i] = fmt.Sprintf("\t%s__%s %s = %s(%s)\n", e.class.Name, v.Name, typ, typ, expr)
	}

	fmt.Fprintf(b, "\n%s (\n", decl)
	for _, line := range lines {
		b.WriteString(line)
	}
	b.WriteString(")\n")
}
