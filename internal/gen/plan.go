package gen

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// cParam is one parameter of a flat function or callback.
type cParam struct {
	name string
	t    cType
}

// cFunc is one flat C function: a prototype for the header and a body for
// the C++ source.
type cFunc struct {
	name   string
	result cType
	params []cParam
	body   []string
}

// callback is a Go export called by a shim.
type callback struct {
	name   string
	result cType
	params []cParam // without the leading object pointer
	signal bool
	// fallback is the flat function run when the host does not implement
	// the callback; empty for signals and pure virtuals.
	fallback string
}

type classPlan struct {
	class     *Class
	shim      []string
	funcs     []*cFunc
	callbacks []*callback
	natives   []*cFunc // enumerator values read from the native side
}

// flat is every C function of the class, wrapped or not.
func (cp *classPlan) flat() []*cFunc {
	out := make([]*cFunc, 0, len(cp.funcs)+len(cp.natives))
	return append(append(out, cp.funcs...), cp.natives...)
}

type plan struct {
	module   *Module
	classes  []*classPlan
	includes []string
}

func (m *Module) params(f *Function) []cParam {
	out := make([]cParam, len(f.Parameters))
	for i, p := range f.Parameters {
		name := CleanName(p.Name, p.Value)
		if p.Name == "" {
			name += strconv.Itoa(i)
		}
		out[i] = cParam{name: name, t: m.typeOf(p.Value)}
	}
	return out
}

func (m *Module) args(params []cParam) string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = m.fromC(p.t, p.name)
	}
	return strings.Join(out, ", ")
}

func declared(f *Function) string {
	out := make([]string, len(f.Parameters))
	for i, p := range f.Parameters {
		out[i] = strings.TrimSpace(p.Value)
	}
	return strings.Join(out, ", ")
}

// cppParams is the C++ parameter list of f, as the shim declares it.
func cppParams(f *Function, params []cParam) string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = strings.TrimSpace(f.Parameters[i].Value) + " " + p.name
	}
	return strings.Join(out, ", ")
}

func ret(t cType, expr string) string {
	if t.kind == kindVoid {
		return expr + ";"
	}
	return "return " + expr + ";"
}

func (g *Generator) plan(m *Module) (*plan, error) {
	p := &plan{module: m}
	includes := map[string]bool{"QString": true, "QByteArray": true}

	for _, c := range m.SortedClasses() {
		cp := &classPlan{class: c}
		includes[c.Name] = true

		g.planShim(cp)
		g.planEnums(cp)
		g.planConstructors(cp)
		cp.funcs = append(cp.funcs, &cFunc{
			name:   c.Name + "_Destroy" + c.Name,
			result: m.typeOf(VOID),
			params: []cParam{{name: "ptr", t: m.typeOf("void*")}},
			body:   []string{fmt.Sprintf("delete static_cast<%s*>(ptr);", c.Name)},
		})

		for _, f := range c.Inherited() {
			for _, pm := range f.Parameters {
				includeType(includes, m.typeOf(pm.Value))
			}
			includeType(includes, m.typeOf(f.Output))

			if err := g.planFunction(cp, f); err != nil {
				return nil, err
			}
		}
		p.classes = append(p.classes, cp)
	}

	for inc := range includes {
		p.includes = append(p.includes, inc)
	}
	sort.Strings(p.includes)
	return p, nil
}

func includeType(includes map[string]bool, t cType) {
	switch t.kind {
	case kindObject, kindValue, kindString:
		includes[strings.Split(t.clean, "::")[0]] = true
	case kindList, kindMap:
		includes[t.clean[:strings.Index(t.clean, "<")]] = true
		for _, inner := range strings.Split(unpackedListDirty(t.clean), ",") {
			if name := CleanValue(inner); strings.HasPrefix(name, "Q") {
				includes[strings.Split(name, "::")[0]] = true
			}
		}
	}
}

// planShim builds the body of My<Class>: forwarding constructors, a
// Signal_ slot per signal and an override per virtual method, each calling
// its callback.
func (g *Generator) planShim(cp *classPlan) {
	c, m := cp.class, cp.class.module
	my := "My" + c.Name

	for _, f := range c.Constructors() {
		if f.Meta != CONSTRUCTOR {
			continue
		}
		params := m.params(f)
		names := make([]string, len(params))
		for i, p := range params {
			names[i] = p.name
		}
		cp.shim = append(cp.shim, fmt.Sprintf("%s(%s) : %s(%s) {};", my, cppParams(f, params), c.Name, strings.Join(names, ", ")))
	}

	for _, f := range c.Inherited() {
		if f.Meta != SIGNAL && f.Virtual == "" {
			continue
		}
		params := m.params(f)
		cb := &callback{name: f.CallbackName(c), result: m.typeOf(f.Output), params: params, signal: f.Meta == SIGNAL}
		switch {
		case cb.signal:
			cb.result = m.typeOf(VOID)
		case f.Virtual == IMPURE:
			cb.fallback = f.FlatName(c) + "Default"
		}
		cp.callbacks = append(cp.callbacks, cb)

		args := []string{"this"}
		for _, p := range params {
			args = append(args, m.toC(p.t, p.name, false))
		}
		call := fmt.Sprintf("%s(%s)", cb.name, strings.Join(args, ", "))

		if f.Meta == SIGNAL {
			cp.shim = append(cp.shim, fmt.Sprintf("void Signal_%s(%s) { %s; };", upperFirst(f.Name)+f.suffix(), cppParams(f, params), call))
			continue
		}

		output := strings.TrimSpace(f.Output)
		if output == "" {
			output = VOID
		}
		constness := ""
		if f.Const {
			constness = " const"
			args[0] = fmt.Sprintf("const_cast<%s*>(this)", my)
			call = fmt.Sprintf("%s(%s)", cb.name, strings.Join(args, ", "))
		}
		cp.shim = append(cp.shim, fmt.Sprintf("%s %s(%s)%s { %s };", output, f.Name, cppParams(f, params), constness, ret(cb.result, m.fromCallback(cb.result, call))))
	}
}

func (g *Generator) planConstructors(cp *classPlan) {
	c, m := cp.class, cp.class.module
	ctors := c.Constructors()
	if len(ctors) == 0 {
		cp.funcs = append(cp.funcs, &cFunc{
			name:   c.Name + "_New" + c.Name,
			result: m.typeOf("void*"),
			body:   []string{fmt.Sprintf("return new My%s();", c.Name)},
		})
		return
	}
	for _, f := range ctors {
		params := m.params(f)
		class := "My" + c.Name
		if f.Meta == COPY_CONSTRUCTOR {
			class = c.Name
		}
		cp.funcs = append(cp.funcs, &cFunc{
			name:   f.FlatName(c),
			result: m.typeOf("void*"),
			params: params,
			body:   []string{fmt.Sprintf("return new %s(%s);", class, m.args(params))},
		})
	}
}

func (g *Generator) planFunction(cp *classPlan, f *Function) error {
	c, m := cp.class, cp.class.module
	self := cParam{name: "ptr", t: m.typeOf("void*")}
	params := m.params(f)
	all := append([]cParam{self}, params...)
	result := m.typeOf(f.Output)
	target := fmt.Sprintf("static_cast<%s*>(ptr)", c.Name)

	if f.Meta == SIGNAL {
		my := "My" + c.Name
		types := declared(f)
		for _, verb := range []string{"connect", "disconnect"} {
			cp.funcs = append(cp.funcs, &cFunc{
				name:   c.Name + "_" + upperFirst(verb) + upperFirst(f.Name) + f.suffix(),
				result: m.typeOf(VOID),
				params: []cParam{self},
				body: []string{fmt.Sprintf("QObject::%s(%s, static_cast<void (%s::*)(%s)>(&%s::%s), static_cast<%s*>(ptr), static_cast<void (%s::*)(%s)>(&%s::Signal_%s));",
					verb, target, c.Name, types, c.Name, f.Name, my, my, types, my, upperFirst(f.Name)+f.suffix())},
			})
		}
		cp.funcs = append(cp.funcs, &cFunc{
			name:   f.FlatName(c),
			result: m.typeOf(VOID),
			params: all,
			body:   []string{fmt.Sprintf("%s->%s(%s);", target, f.Name, m.args(params))},
		})
		return nil
	}

	call := fmt.Sprintf("%s->%s(%s)", target, f.Name, m.args(params))
	cp.funcs = append(cp.funcs, &cFunc{
		name:   f.FlatName(c),
		result: result,
		params: all,
		body:   []string{ret(result, m.toC(result, call, true))},
	})

	if f.Virtual == IMPURE {
		chain := m.Subclasses(c)
		if err := CheckCastOrder(chain); err != nil {
			return fmt.Errorf("%s: %w", f.FlatName(c), err)
		}
		var body []string
		for i, sub := range chain {
			keyword := "} else if"
			if i == 0 {
				keyword = "if"
			}
			body = append(body,
				fmt.Sprintf("%s (dynamic_cast<%s*>(%s)) {", keyword, sub.Name, target),
				"\t"+ret(result, m.toC(result, fmt.Sprintf("static_cast<%s*>(ptr)->%s::%s(%s)", sub.Name, sub.Name, f.Name, m.args(params)), true)))
		}
		base := ret(result, m.toC(result, fmt.Sprintf("%s->%s::%s(%s)", target, c.Name, f.Name, m.args(params)), true))
		if len(chain) > 0 {
			body = append(body, "} else {", "\t"+base, "}")
		} else {
			body = append(body, base)
		}
		cp.funcs = append(cp.funcs, &cFunc{name: f.FlatName(c) + "Default", result: result, params: all, body: body})
	}

	g.planTrios(cp, f, params, result)
	return nil
}

// planTrios adds container adapters for every distinct container type
// among f's parameters and result.
func (g *Generator) planTrios(cp *classPlan, f *Function, params []cParam, result cType) {
	c, m := cp.class, cp.class.module
	var seen []string
	slots := make([]cType, 0, len(params)+1)
	for _, p := range params {
		slots = append(slots, p.t)
	}
	slots = append(slots, result)

	for _, t := range slots {
		if (t.kind != kindList && t.kind != kindMap) || contains(seen, t.clean) {
			continue
		}
		seen = append(seen, t.clean)
		suffix := ""
		if len(seen) > 1 {
			suffix = strconv.Itoa(len(seen))
		}
		prefix := c.Name + "___" + f.Name
		self := cParam{name: "ptr", t: m.typeOf("void*")}
		container := fmt.Sprintf("static_cast<%s*>(ptr)", t.clean)

		if t.kind == kindList {
			elem := m.elem(t)
			cp.funcs = append(cp.funcs,
				&cFunc{name: prefix + "_atList" + suffix, result: elem, params: []cParam{self, {name: "i", t: m.typeOf("int")}},
					body: []string{ret(elem, m.toC(elem, container+"->at(i)", true))}},
				&cFunc{name: prefix + "_setList" + suffix, result: m.typeOf(VOID), params: []cParam{self, {name: "i", t: elem}},
					body: []string{fmt.Sprintf("%s->append(%s);", container, m.fromC(elem, "i"))}},
			)
		} else {
			key, value := m.keyValue(t)
			keys := fmt.Sprintf("QList<%s>", strings.TrimSpace(strings.SplitN(unpackedListDirty(t.clean), ",", 2)[0]))
			cp.funcs = append(cp.funcs,
				&cFunc{name: prefix + "_atList" + suffix, result: value, params: []cParam{self, {name: "i", t: key}},
					body: []string{ret(value, m.toC(value, fmt.Sprintf("%s->value(%s)", container, m.fromC(key, "i")), true))}},
				&cFunc{name: prefix + "_setList" + suffix, result: m.typeOf(VOID), params: []cParam{self, {name: "key", t: key}, {name: "i", t: value}},
					body: []string{fmt.Sprintf("%s->insert(%s, %s);", container, m.fromC(key, "key"), m.fromC(value, "i"))}},
				&cFunc{name: prefix + "_keyList" + suffix, result: m.typeOf(keys), params: []cParam{self},
					body: []string{ret(m.typeOf(keys), m.toC(m.typeOf(keys), container+"->keys()", true))}},
			)
		}
		cp.funcs = append(cp.funcs,
			&cFunc{name: prefix + "_sizeList" + suffix, result: m.typeOf("int"), params: []cParam{self},
				body: []string{fmt.Sprintf("return %s->size();", container)}},
			&cFunc{name: prefix + "_newList" + suffix, result: m.typeOf("void*"), params: []cParam{self},
				body: []string{"Q_UNUSED(ptr);", fmt.Sprintf("return new %s();", t.clean)}},
			&cFunc{name: prefix + "_destroyList" + suffix, result: m.typeOf(VOID), params: []cParam{self},
				body: []string{fmt.Sprintf("delete %s;", container)}},
		)
	}
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
