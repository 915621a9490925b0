package qtbind

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Type is the shape of a value as it crosses the boundary. The names are
// the ones hosts see in class descriptions.
type Type string

const (
	TypeVoid   Type = "void"
	TypeBool   Type = "bool"
	TypeInt    Type = "int"
	TypeDouble Type = "double"
	TypeString Type = "string"
	TypeObject Type = "object"
	TypeList   Type = "array"
	TypeMap    Type = "map"
	TypeVar    Type = "var"
)

var (
	objectPtrType    = reflect.TypeOf((*Object)(nil))
	errorType        = reflect.TypeOf((*error)(nil)).Elem()
	packedStringType = reflect.TypeOf(PackedString{})
	packedListType   = reflect.TypeOf(PackedList{})
	bytesType        = reflect.TypeOf([]byte(nil))
)

func typeOf(t reflect.Type) Type {
	if t == nil {
		return TypeVoid
	}
	switch t {
	case objectPtrType:
		return TypeObject
	case packedStringType, bytesType:
		return TypeString
	case packedListType:
		return TypeList
	}

	switch t.Kind() {
	case reflect.Bool:
		return TypeBool

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInt

	case reflect.Float32, reflect.Float64:
		return TypeDouble

	case reflect.String:
		return TypeString

	case reflect.Array, reflect.Slice:
		return TypeList

	case reflect.Map:
		return TypeMap

	default:
		return TypeVar
	}
}

// upperFirst turns a method name into the form used in flat function
// names: "event" becomes "Event".
func upperFirst(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

func changedSignalName(property string) string {
	return property + "Changed"
}

func setterName(property string) string {
	return "set" + upperFirst(property)
}

type methodInfo struct {
	Name    string `json:"-"`
	Params  []Type `json:"params"`
	Result  Type   `json:"result"`
	Virtual bool   `json:"virtual,omitempty"`
	Owned   bool   `json:"owned,omitempty"`

	class  *Class
	fn     reflect.Value
	in     []reflect.Type
	out    reflect.Type
	hasErr bool
	notify string
}

type signalInfo struct {
	Name   string
	Params []Type
	Names  []string

	class *Class
	in    []reflect.Type
}

// MarshalJSON encodes the parameters as "type name" pairs.
func (s *signalInfo) MarshalJSON() ([]byte, error) {
	params := make([]string, len(s.Params))
	for i, p := range s.Params {
		params[i] = string(p) + " " + s.Names[i]
	}
	return json.Marshal(params)
}

// Class is a registered native class: its constructors, its dispatch table
// of methods (declared here or inherited, most-derived implementation
// first), its signals and properties.
type Class struct {
	Name string
	Base *Class

	id         int
	depth      int
	abstract   bool
	ctors      []*methodInfo
	own        map[string]*methodInfo
	methods    map[string]*methodInfo
	signals    map[string]*signalInfo
	properties map[string]Type
}

// ID is the class tag assigned at registration. Bases always have smaller
// tags than the classes derived from them.
func (c *Class) ID() int {
	return c.id
}

// Depth is the number of bases above the class.
func (c *Class) Depth() int {
	return c.depth
}

// Abstract reports whether the class refuses construction.
func (c *Class) Abstract() bool {
	return c.abstract
}

// IsA reports whether c is other or derives from it.
func (c *Class) IsA(other *Class) bool {
	for k := c; k != nil; k = k.Base {
		if k == other {
			return true
		}
	}
	return false
}

// Lineage returns the class and its bases, most-derived first.
func (c *Class) Lineage() []*Class {
	var out []*Class
	for k := c; k != nil; k = k.Base {
		out = append(out, k)
	}
	return out
}

// Methods returns the names of every method callable on the class, sorted.
func (c *Class) Methods() []string {
	return sortedKeys(c.methods)
}

// Virtuals returns the names of the overridable methods, sorted.
func (c *Class) Virtuals() []string {
	var out []string
	for name, m := range c.methods {
		if m.Virtual {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Signals returns the names of every signal of the class, sorted.
func (c *Class) Signals() []string {
	return sortedKeys(c.signals)
}

// Constructors returns the number of constructor overloads.
func (c *Class) Constructors() int {
	return len(c.ctors)
}

// Implementor returns the name of the class whose implementation of method
// runs for instances of c when no override is installed.
func (c *Class) Implementor(method string) (string, bool) {
	m, ok := c.methods[method]
	if !ok {
		return "", false
	}
	return m.class.Name, true
}

func (c *Class) String() string {
	str, _ := json.MarshalIndent(c, "", "  ")
	return string(str)
}

// MarshalJSON encodes the class description sent to hosts.
func (c *Class) MarshalJSON() ([]byte, error) {
	base := ""
	if c.Base != nil {
		base = c.Base.Name
	}
	ctors := make([][]Type, len(c.ctors))
	for i, ctor := range c.ctors {
		ctors[i] = ctor.Params
	}

	return json.Marshal(struct {
		Name         string                 `json:"name"`
		Base         string                 `json:"base,omitempty"`
		Abstract     bool                   `json:"abstract,omitempty"`
		Constructors [][]Type               `json:"constructors"`
		Methods      map[string]*methodInfo `json:"methods"`
		Signals      map[string]*signalInfo `json:"signals"`
		Properties   map[string]Type        `json:"properties"`
	}{c.Name, base, c.abstract, ctors, c.methods, c.signals, c.properties})
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Registry holds the classes known to a bridge. Classes are registered
// base-first; the dispatch table of each class is complete once Register
// returns, so resolving a default implementation never walks a chain of
// runtime type tests.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*Class
	order   []*Class
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]*Class)}
}

// Lookup finds a registered class by name.
func (r *Registry) Lookup(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}

// Classes returns the registered classes in registration order, which is
// always base-first.
func (r *Registry) Classes() []*Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Class(nil), r.order...)
}

// Subclasses returns every registered class deriving from c (excluding c),
// most-derived first.
func (r *Registry) Subclasses(c *Class) []*Class {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Class
	for _, k := range r.order {
		if k != c && k.IsA(c) {
			out = append(out, k)
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

// MarshalJSON encodes every class in registration order.
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Classes())
}

// ClassBuilder collects the declaration of one class. Errors are kept and
// reported by Register.
type ClassBuilder struct {
	registry *Registry
	class    *Class
	baseName string
	err      error
}

// Define starts the declaration of a class. base is empty for a root class
// and must otherwise already be registered when Register is called.
func (r *Registry) Define(name, base string) *ClassBuilder {
	return &ClassBuilder{
		registry: r,
		baseName: base,
		class: &Class{
			Name:       name,
			own:        make(map[string]*methodInfo),
			methods:    make(map[string]*methodInfo),
			signals:    make(map[string]*signalInfo),
			properties: make(map[string]Type),
		},
	}
}

func (b *ClassBuilder) fail(kind Kind, format string, args ...any) *ClassBuilder {
	if b.err == nil {
		b.err = newError(kind, b.class.Name, format, args...)
	}
	return b
}

// parseFunc reads a method implementation of the form
// func(self *Object, args...) [T] [error].
func (b *ClassBuilder) parseFunc(name string, fn any, wantSelf bool) (*methodInfo, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, newError(KindRegistration, b.class.Name, "implementation of '%s' is not a function", name)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, newError(KindRegistration, b.class.Name, "implementation of '%s' must not be variadic", name)
	}

	first := 0
	if wantSelf {
		if t.NumIn() < 1 || t.In(0) != objectPtrType {
			return nil, newError(KindRegistration, b.class.Name, "implementation of '%s' must take *Object as its first parameter", name)
		}
		first = 1
	}

	m := &methodInfo{Name: name, class: b.class, fn: v, Result: TypeVoid}
	for p := first; p < t.NumIn(); p++ {
		m.in = append(m.in, t.In(p))
		m.Params = append(m.Params, typeOf(t.In(p)))
	}

	outs := t.NumOut()
	if outs > 0 && t.Out(outs-1) == errorType {
		m.hasErr = true
		outs--
	}
	switch outs {
	case 0:
	case 1:
		m.out = t.Out(0)
		m.Result = typeOf(m.out)
	default:
		return nil, newError(KindRegistration, b.class.Name, "implementation of '%s' has %d results; at most one value and an error are allowed", name, t.NumOut())
	}
	if m.Params == nil {
		m.Params = []Type{}
	}
	return m, nil
}

func (b *ClassBuilder) addMethod(name string, fn any, virtual, owned bool) *ClassBuilder {
	if b.err != nil {
		return b
	}
	if _, exists := b.class.own[name]; exists {
		return b.fail(KindRegistration, "method '%s' is declared twice", name)
	}
	m, err := b.parseFunc(name, fn, true)
	if err != nil {
		b.err = err
		return b
	}
	if owned && m.Result != TypeObject {
		return b.fail(KindSignature, "factory '%s' must return *Object", name)
	}
	m.Virtual = virtual
	m.Owned = owned
	b.class.own[name] = m
	return b
}

// Constructor adds a constructor overload. fn has the form
// func(self *Object, args...) [error] and initializes self.State. Overloads
// are numbered in declaration order.
func (b *ClassBuilder) Constructor(fn any) *ClassBuilder {
	if b.err != nil {
		return b
	}
	m, err := b.parseFunc("constructor", fn, true)
	if err != nil {
		b.err = err
		return b
	}
	if m.out != nil {
		return b.fail(KindSignature, "constructor must not return a value")
	}
	b.class.ctors = append(b.class.ctors, m)
	return b
}

// Abstract marks the class as not constructible.
func (b *ClassBuilder) Abstract() *ClassBuilder {
	b.class.abstract = true
	return b
}

// Virtual declares an overridable method. fn is the class's own
// implementation, the one CallDefault runs.
func (b *ClassBuilder) Virtual(name string, fn any) *ClassBuilder {
	return b.addMethod(name, fn, true, false)
}

// Method declares a plain, non-overridable method.
func (b *ClassBuilder) Method(name string, fn any) *ClassBuilder {
	return b.addMethod(name, fn, false, false)
}

// Factory declares a method returning a new object whose ownership passes
// to the caller, like a copy or a conversion.
func (b *ClassBuilder) Factory(name string, fn any) *ClassBuilder {
	return b.addMethod(name, fn, false, true)
}

// Signal declares a signal. proto is a func value whose parameters give the
// signal's parameter types; every parameter must be named.
func (b *ClassBuilder) Signal(name string, proto any, paramNames ...string) *ClassBuilder {
	if b.err != nil {
		return b
	}
	t := reflect.TypeOf(proto)
	if t == nil || t.Kind() != reflect.Func {
		return b.fail(KindRegistration, "signal '%s' prototype is not a function", name)
	}
	if t.NumIn() > 0 && len(paramNames) != t.NumIn() {
		return b.fail(KindRegistration, "signal '%s' has %d parameters, but names %d. All parameters must be named.", name, t.NumIn(), len(paramNames))
	}
	if _, exists := b.class.signals[name]; exists {
		return b.fail(KindRegistration, "signal '%s' is declared twice", name)
	}

	s := &signalInfo{Name: name, class: b.class, Params: []Type{}, Names: []string{}}
	for p := 0; p < t.NumIn(); p++ {
		s.in = append(s.in, t.In(p))
		s.Params = append(s.Params, typeOf(t.In(p)))
		s.Names = append(s.Names, paramNames[p])
	}
	b.class.signals[name] = s
	return b
}

// Property declares a property read by getter, func(self *Object) T, and
// written by setter, func(self *Object, v T), which may be nil for a
// read-only property. It adds the methods name and set<Name> and the
// signal <name>Changed, which the setter path emits.
func (b *ClassBuilder) Property(name string, getter, setter any) *ClassBuilder {
	if b.err != nil {
		return b
	}
	b.Method(name, getter)
	if b.err != nil {
		return b
	}
	get := b.class.own[name]
	if get.out == nil || len(get.in) != 0 {
		return b.fail(KindSignature, "getter of property '%s' must take no arguments and return a value", name)
	}

	notify := changedSignalName(name)
	b.Signal(notify, func() {})

	if setter != nil {
		b.Method(setterName(name), setter)
		if b.err != nil {
			return b
		}
		set := b.class.own[setterName(name)]
		if len(set.in) != 1 || set.in[0] != get.out {
			return b.fail(KindSignature, "setter of property '%s' must take one %s", name, get.out)
		}
		set.notify = notify
	}
	b.class.properties[name] = get.Result
	return b
}

// Register validates the declaration and builds the class's dispatch
// table from its base's table overlaid with its own methods.
func (b *ClassBuilder) Register() (*Class, error) {
	if b.err != nil {
		return nil, b.err
	}
	c := b.class
	if c.Name == "" {
		return nil, newError(KindRegistration, "", "class name is empty")
	}

	r := b.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.classes[c.Name]; exists {
		return nil, newError(KindRegistration, c.Name, "class is already registered")
	}

	own := c.signals
	c.signals = make(map[string]*signalInfo)
	if b.baseName != "" {
		base, ok := r.classes[b.baseName]
		if !ok {
			return nil, newError(KindRegistration, c.Name, "base '%s' must be registered first", b.baseName)
		}
		c.Base = base
		c.depth = base.depth + 1
		for name, m := range base.methods {
			c.methods[name] = m
		}
		for name, s := range base.signals {
			c.signals[name] = s
		}
		for name, t := range base.properties {
			if _, redeclared := c.properties[name]; !redeclared {
				c.properties[name] = t
			}
		}
	}

	for name, s := range own {
		if _, exists := c.signals[name]; exists {
			return nil, newError(KindRegistration, c.Name, "signal '%s' is already declared by a base", name)
		}
		c.signals[name] = s
	}

	for name, m := range c.own {
		if inherited, ok := c.methods[name]; ok && inherited.Virtual {
			if !m.Virtual {
				return nil, newError(KindSignature, c.Name, "'%s' overrides a virtual and must be declared virtual", name)
			}
			if !sameSignature(inherited, m) {
				return nil, newError(KindSignature, c.Name, "override of '%s' is %s, base %s declares %s",
					name, signatureString(m), inherited.class.Name, signatureString(inherited))
			}
		}
		c.methods[name] = m
	}

	for name := range c.methods {
		if _, clash := c.signals[name]; clash {
			return nil, newError(KindRegistration, c.Name, "'%s' is both a method and a signal", name)
		}
	}

	c.id = len(r.order)
	r.classes[c.Name] = c
	r.order = append(r.order, c)
	return c, nil
}

// MustRegister is Register for static class tables; it panics on error.
func (b *ClassBuilder) MustRegister() *Class {
	c, err := b.Register()
	if err != nil {
		panic(err)
	}
	return c
}

func sameSignature(a, b *methodInfo) bool {
	if len(a.in) != len(b.in) || a.out != b.out || a.hasErr != b.hasErr {
		return false
	}
	for i := range a.in {
		if a.in[i] != b.in[i] {
			return false
		}
	}
	return true
}

func signatureString(m *methodInfo) string {
	params := make([]string, len(m.in))
	for i, t := range m.in {
		params[i] = t.String()
	}
	s := fmt.Sprintf("(%s)", strings.Join(params, ", "))
	if m.out != nil {
		s += " " + m.out.String()
	}
	return s
}
