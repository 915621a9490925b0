package gen

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Function meta kinds.
const (
	PLAIN            = "plain"
	CONSTRUCTOR      = "constructor"
	COPY_CONSTRUCTOR = "copy-constructor"
	DESTRUCTOR       = "destructor"
	SIGNAL           = "signal"
	SLOT             = "slot"
	PROP             = "prop"
	GETTER           = "getter"
	SETTER           = "setter"
)

// Virtuality.
const (
	IMPURE = "impure"
	PURE   = "pure"
)

const (
	VOID     = "void"
	CALLBACK = "callback"
)

// Module is a described set of classes, usually one Qt module.
type Module struct {
	Name    string   `json:"module"`
	Classes []*Class `json:"classes"`

	classMap map[string]*Class
}

type Class struct {
	Name      string      `json:"name"`
	Bases     string      `json:"bases,omitempty"`
	Functions []*Function `json:"functions"`
	Enums     []*Enum     `json:"enums,omitempty"`

	module *Module
	base   *Class
	depth  int
}

type Function struct {
	Name       string       `json:"name"`
	Meta       string       `json:"meta,omitempty"`
	Virtual    string       `json:"virtual,omitempty"`
	Const      bool         `json:"const,omitempty"`
	Output     string       `json:"output,omitempty"`
	Parameters []*Parameter `json:"parameters,omitempty"`

	// Overload is 1 for the first function of a name in its class, 2 for
	// the second, and so on. Constructors share one sequence.
	Overload int `json:"-"`

	class *Class
}

type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Enum is an enumeration nested in a class. Enumerators live in the scope
// of the class, as they do in C++.
type Enum struct {
	Name   string       `json:"name"`
	Values []*EnumValue `json:"values"`
	// NoConst enums are emitted as variables.
	NoConst bool `json:"noConst,omitempty"`

	class *Class
}

// EnumValue is one enumerator. Value is a number, other enumerators of the
// class joined by " | ", or empty when only the native side knows it.
type EnumValue struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// Load reads a module description and links it.
func Load(r io.Reader) (*Module, error) {
	var m Module
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode module: %w", err)
	}
	if err := m.link(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Module) link() error {
	if m.Name == "" {
		return fmt.Errorf("module has no name")
	}

	m.classMap = make(map[string]*Class, len(m.Classes))
	for _, c := range m.Classes {
		if c.Name == "" {
			return fmt.Errorf("module %s: class without a name", m.Name)
		}
		if _, dup := m.classMap[c.Name]; dup {
			return fmt.Errorf("module %s: class %s is described twice", m.Name, c.Name)
		}
		c.module = m
		m.classMap[c.Name] = c
	}

	for _, c := range m.Classes {
		if c.Bases == "" {
			continue
		}
		base, ok := m.classMap[c.Bases]
		if !ok {
			return fmt.Errorf("class %s: base %s is not described", c.Name, c.Bases)
		}
		c.base = base
	}

	for _, c := range m.Classes {
		seen := map[*Class]bool{}
		for b := c.base; b != nil; b = b.base {
			if seen[b] || b == c {
				return fmt.Errorf("class %s: inheritance cycle", c.Name)
			}
			seen[b] = true
			c.depth++
		}
		if err := c.linkFunctions(); err != nil {
			return err
		}
		if err := c.linkEnums(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Class) linkFunctions() error {
	overloads := map[string]int{}
	for _, f := range c.Functions {
		f.class = c
		if f.Meta == "" {
			f.Meta = PLAIN
		}

		switch f.Meta {
		case PLAIN, SLOT, GETTER, SETTER, PROP:
		case CONSTRUCTOR, COPY_CONSTRUCTOR, DESTRUCTOR, SIGNAL:
			if f.Virtual != "" && f.Meta != DESTRUCTOR {
				return fmt.Errorf("%s: a %s cannot be virtual", f.Fullname(), f.Meta)
			}
		default:
			return fmt.Errorf("%s: unknown meta %q", f.Fullname(), f.Meta)
		}
		if f.Virtual != "" && f.Virtual != IMPURE && f.Virtual != PURE {
			return fmt.Errorf("%s: unknown virtuality %q", f.Fullname(), f.Virtual)
		}

		key := f.Name
		if f.IsConstructor() {
			key = "New" + c.Name
		}
		overloads[key]++
		f.Overload = overloads[key]
	}
	return nil
}

func (c *Class) linkEnums() error {
	names := map[string]bool{}
	for _, e := range c.Enums {
		e.class = c
		if e.Name == "" {
			return fmt.Errorf("class %s: enum without a name", c.Name)
		}
		if names[e.Name] {
			return fmt.Errorf("%s: name is declared twice", e.Fullname())
		}
		names[e.Name] = true
	}
	for _, e := range c.Enums {
		for _, v := range e.Values {
			if v.Name == "" {
				return fmt.Errorf("%s: enumerator without a name", e.Fullname())
			}
			if names[v.Name] {
				return fmt.Errorf("%s: %s is declared twice", e.Fullname(), v.Name)
			}
			names[v.Name] = true
		}
	}
	return nil
}

func (m *Module) Class(name string) (*Class, bool) {
	c, ok := m.classMap[name]
	return c, ok
}

// SortedClasses orders classes base-first: by depth, then by name.
func (m *Module) SortedClasses() []*Class {
	out := append([]*Class(nil), m.Classes...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].depth != out[j].depth {
			return out[i].depth < out[j].depth
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Subclasses are the classes derived from c, most-derived first. This is
// the order in which a chain of dynamic_casts must test them.
func (m *Module) Subclasses(c *Class) []*Class {
	var out []*Class
	for _, s := range m.Classes {
		if s != c && s.IsA(c) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].depth != out[j].depth {
			return out[i].depth > out[j].depth
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// CheckCastOrder reports an error if a class in chain comes after one of
// its bases; its branch could never be taken.
func CheckCastOrder(chain []*Class) error {
	for i, early := range chain {
		for _, late := range chain[i+1:] {
			if late != early && late.IsA(early) {
				return fmt.Errorf("cast to %s is tested after its base %s", late.Name, early.Name)
			}
		}
	}
	return nil
}

// Enum resolves a qualified enum name such as "QThread::Priority".
func (m *Module) Enum(name string) (*Enum, bool) {
	class, enum, ok := strings.Cut(name, "::")
	if !ok {
		return nil, false
	}
	c, ok := m.classMap[class]
	if !ok {
		return nil, false
	}
	for _, e := range c.Enums {
		if e.Name == enum {
			return e, true
		}
	}
	return nil, false
}

func (e *Enum) Class() *Class {
	return e.class
}

func (e *Enum) Fullname() string {
	return e.class.Name + "::" + e.Name
}

// GoName is the Go type of e: "QThread__Priority".
func (e *Enum) GoName() string {
	return e.class.Name + "__" + e.Name
}

// value looks up an enumerator of e by name.
func (e *Enum) value(name string) (*EnumValue, bool) {
	for _, v := range e.Values {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

func (c *Class) Base() *Class {
	return c.base
}

func (c *Class) Depth() int {
	return c.depth
}

func (c *Class) IsA(other *Class) bool {
	for k := c; k != nil; k = k.base {
		if k == other {
			return true
		}
	}
	return false
}

// Lineage is c followed by its bases.
func (c *Class) Lineage() []*Class {
	var out []*Class
	for k := c; k != nil; k = k.base {
		out = append(out, k)
	}
	return out
}

func (c *Class) Constructors() []*Function {
	var out []*Function
	for _, f := range c.Functions {
		if f.IsConstructor() {
			out = append(out, f)
		}
	}
	return out
}

// Inherited returns the member functions callable on c: its own, then
// those of its bases that it does not redeclare. Constructors and
// destructors are not inherited.
func (c *Class) Inherited() []*Function {
	var out []*Function
	declared := map[string]bool{}
	for _, k := range c.Lineage() {
		for _, f := range k.Functions {
			if f.IsConstructor() || f.Meta == DESTRUCTOR {
				continue
			}
			key := f.Name + "\x00" + strconv.Itoa(f.Overload)
			if declared[key] {
				continue
			}
			declared[key] = true
			out = append(out, f)
		}
	}
	return out
}

func (c *Class) HasVirtual() bool {
	for _, f := range c.Inherited() {
		if f.Virtual != "" || f.Meta == SIGNAL {
			return true
		}
	}
	return false
}

func (f *Function) Class() *Class {
	return f.class
}

func (f *Function) Fullname() string {
	return f.class.Name + "::" + f.Name
}

func (f *Function) IsConstructor() bool {
	return f.Meta == CONSTRUCTOR || f.Meta == COPY_CONSTRUCTOR
}

func (f *Function) suffix() string {
	if f.Overload <= 1 {
		return ""
	}
	return strconv.Itoa(f.Overload)
}

// FlatName is the C name of f when wrapped for class c, which is f's own
// class or one deriving from it.
func (f *Function) FlatName(c *Class) string {
	switch {
	case f.IsConstructor():
		return c.Name + "_New" + c.Name + f.suffix()
	case f.Meta == DESTRUCTOR:
		return c.Name + "_Destroy" + c.Name
	}
	return c.Name + "_" + upperFirst(f.Name) + f.suffix()
}

// CallbackName is the Go export a shim of class c calls for f.
func (f *Function) CallbackName(c *Class) string {
	return CALLBACK + c.Name + "_" + upperFirst(f.Name) + f.suffix()
}

func upperFirst(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
