package gen

import (
	"fmt"
	"strings"
)

func (m *Module) proto(f *cFunc) string {
	params := make([]string, len(f.params))
	for i, p := range f.params {
		params[i] = m.cName(p.t) + " " + p.name
	}
	return fmt.Sprintf("%s %s(%s)", m.cName(f.result), f.name, strings.Join(params, ", "))
}

func (m *Module) callbackProto(cb *callback) string {
	params := []string{"void* ptr"}
	for _, p := range cb.params {
		params = append(params, m.cName(p.t)+" "+p.name)
	}
	return fmt.Sprintf("%s %s(%s)", m.cName(cb.result), cb.name, strings.Join(params, ", "))
}

func (g *Generator) cpp(p *plan) string {
	m := p.module
	var b strings.Builder

	b.WriteString("// Code generated by qtbind-gen. DO NOT EDIT.\n\n")
	b.WriteString("#define protected public\n#define private public\n\n")
	fmt.Fprintf(&b, "#include \"%s.h\"\n\n", strings.ToLower(m.Name))
	b.WriteString("#include <cstdlib>\n")
	for _, inc := range p.includes {
		fmt.Fprintf(&b, "#include <%s>\n", inc)
	}
	b.WriteString("\n")

	b.WriteString("extern \"C\" {\n")
	for _, cp := range p.classes {
		for _, cb := range cp.callbacks {
			fmt.Fprintf(&b, "%s;\n", m.callbackProto(cb))
		}
	}
	b.WriteString("}\n")

	for _, cp := range p.classes {
		c := cp.class
		fmt.Fprintf(&b, "\nclass My%s: public %s\n{\npublic:\n", c.Name, c.Name)
		for _, line := range cp.shim {
			fmt.Fprintf(&b, "\t%s\n", line)
		}
		b.WriteString("};\n")

		for _, f := range cp.flat() {
			fmt.Fprintf(&b, "\n%s\n{\n", m.proto(f))
			for _, line := range f.body {
				fmt.Fprintf(&b, "\t%s\n", line)
			}
			b.WriteString("}\n")
		}
	}
	return b.String()
}

func (g *Generator) header(p *plan) string {
	m := p.module
	guard := "QTBIND_" + strings.ToUpper(m.Name) + "_H"
	var b strings.Builder

	b.WriteString("// Code generated by qtbind-gen. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "#ifndef %s\n#define %s\n\n", guard, guard)
	b.WriteString("#ifdef __cplusplus\nextern \"C\" {\n#endif\n\n")
	fmt.Fprintf(&b, "typedef struct %s_PackedString { char* data; long long len; } %s_PackedString;\n", m.Name, m.Name)
	fmt.Fprintf(&b, "typedef struct %s_PackedList { void* data; int len; } %s_PackedList;\n", m.Name, m.Name)

	for _, cp := range p.classes {
		fmt.Fprintf(&b, "\n// %s\n", cp.class.Name)
		for _, f := range cp.flat() {
			fmt.Fprintf(&b, "%s;\n", m.proto(f))
		}
	}

	b.WriteString("\n#ifdef __cplusplus\n}\n#endif\n\n")
	fmt.Fprintf(&b, "#endif // %s\n", guard)
	return b.String()
}
