package qtbind

import (
	"fmt"
	"reflect"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"
)

// Bridge owns the handle table and creates objects of registered classes.
// Every flat surface, stream connection and wasm host is built on one.
type Bridge struct {
	registry *Registry
	handles  *HandleTable
	log      *zap.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger of the bridge. The package logger is used
// otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		b.log = l
	}
}

// WithHandleTable shares an existing handle table with the bridge.
func WithHandleTable(t *HandleTable) Option {
	return func(b *Bridge) {
		b.handles = t
	}
}

// NewBridge creates a bridge for the classes of r.
func NewBridge(r *Registry, opts ...Option) *Bridge {
	b := &Bridge{registry: r}
	for _, opt := range opts {
		opt(b)
	}
	if b.handles == nil {
		b.handles = NewHandleTable()
	}
	if b.log == nil {
		b.log = Logger()
	}
	b.log = b.log.With(zap.String("component", "bridge"))
	return b
}

func (b *Bridge) Registry() *Registry {
	return b.registry
}

func (b *Bridge) Handles() *HandleTable {
	return b.handles
}

// Callback is a host implementation of a virtual method or a signal
// listener. Arguments arrive packed: strings as PackedString, objects as
// borrowed handles, lists and maps as PackedList. The result is converted to
// the method's result type.
type Callback func(self *Object, args []any) (any, error)

// Overrides maps virtual method and signal names to host callbacks. It is
// fixed when the object is constructed.
type Overrides map[string]Callback

// Object is a bound instance of a registered class.
type Object struct {
	// State holds the native side of the object, set by its constructor.
	State any

	bridge      *Bridge
	class       *Class
	id          string
	handle      Handle
	overrides   Overrides
	connections map[string]int
	destroying  bool
	destroyed   bool
}

func (o *Object) Class() *Class {
	return o.class
}

func (o *Object) Bridge() *Bridge {
	return o.bridge
}

// Identifier is a unique string identifying the object for its lifetime.
func (o *Object) Identifier() string {
	return o.id
}

// Handle is the owned handle issued at construction.
func (o *Object) Handle() Handle {
	return o.handle
}

func (o *Object) Destroyed() bool {
	return o.destroyed
}

// Overridden reports whether a host callback replaces the named virtual
// method or listens to the named signal.
func (o *Object) Overridden(name string) bool {
	_, ok := o.overrides[name]
	return ok
}

func (o *Object) String() string {
	return fmt.Sprintf("%s(%s)", o.class.Name, o.handle)
}

func (b *Bridge) validateOverrides(c *Class, overrides Overrides) error {
	for name, cb := range overrides {
		m, isMethod := c.methods[name]
		_, isSignal := c.signals[name]
		switch {
		case isMethod && !m.Virtual:
			return newError(KindUnknownMethod, c.Name, "'%s' is not virtual and cannot be overridden", name)
		case !isMethod && !isSignal:
			return newError(KindUnknownMethod, c.Name, "no virtual method or signal named '%s'", name)
		case cb == nil:
			return newError(KindNilCallback, c.Name, "callback for '%s' is nil", name)
		}
	}
	return nil
}

// New constructs an object of the named class, choosing the first
// constructor overload that accepts args. overrides installs the host
// callbacks; it may be nil.
func (b *Bridge) New(class string, overrides Overrides, args ...any) (*Object, error) {
	c, ok := b.registry.Lookup(class)
	if !ok {
		return nil, newError(KindUnknownClass, class, "class is not registered")
	}
	if len(c.ctors) == 0 {
		if len(args) > 0 {
			return nil, newError(KindSignature, class, "class has only the default constructor, %d arguments provided", len(args))
		}
		return b.construct(c, nil, overrides, nil)
	}

	var firstErr error
	for _, ctor := range c.ctors {
		if len(ctor.in) != len(args) {
			continue
		}
		callArgs, err := b.convertArgs(ctor, args)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return b.construct(c, ctor, overrides, callArgs)
	}
	if firstErr != nil {
		return nil, withFunction(firstErr, class)
	}
	return nil, newError(KindSignature, class, "no constructor takes %d arguments", len(args))
}

// Construct constructs an object with an explicit constructor overload,
// numbered from zero in declaration order.
func (b *Bridge) Construct(c *Class, overload int, overrides Overrides, args ...any) (*Object, error) {
	if overload == 0 && len(c.ctors) == 0 {
		if len(args) > 0 {
			return nil, newError(KindSignature, c.Name, "default constructor takes no arguments, %d provided", len(args))
		}
		return b.construct(c, nil, overrides, nil)
	}
	if overload < 0 || overload >= len(c.ctors) {
		return nil, newError(KindSignature, c.Name, "no constructor overload %d", overload)
	}
	ctor := c.ctors[overload]
	callArgs, err := b.convertArgs(ctor, args)
	if err != nil {
		return nil, withFunction(err, c.Name)
	}
	return b.construct(c, ctor, overrides, callArgs)
}

func (b *Bridge) construct(c *Class, ctor *methodInfo, overrides Overrides, args []reflect.Value) (*Object, error) {
	if c.abstract {
		return nil, newError(KindSignature, c.Name, "class is abstract")
	}
	if err := b.validateOverrides(c, overrides); err != nil {
		return nil, err
	}

	u, _ := uuid.NewV4()
	o := &Object{
		bridge:      b,
		class:       c,
		id:          u.String(),
		overrides:   make(Overrides, len(overrides)),
		connections: make(map[string]int),
	}
	for name, cb := range overrides {
		o.overrides[name] = cb
	}

	if ctor != nil {
		ret := ctor.fn.Call(append([]reflect.Value{reflect.ValueOf(o)}, args...))
		if ctor.hasErr {
			if err, _ := ret[len(ret)-1].Interface().(error); err != nil {
				return nil, err
			}
		}
	}

	o.handle = b.handles.Insert(o, Owned)
	b.log.Debug("constructed object",
		zap.String("class", c.Name),
		zap.Stringer("handle", o.handle),
		zap.Int("overrides", len(overrides)))
	return o, nil
}

// Object resolves a handle, owned or borrowed, to the object it refers to.
func (b *Bridge) Object(h Handle) (*Object, error) {
	v, err := b.handles.Get(h)
	if err != nil {
		return nil, err
	}
	o, ok := v.(*Object)
	if !ok {
		return nil, newError(KindTypeMismatch, "", "handle %s refers to %T, not an object", h, v)
	}
	return o, nil
}

// Lend returns a borrowed handle for o. The receiver must not destroy it.
func (b *Bridge) Lend(o *Object) Handle {
	if o == nil {
		return 0
	}
	return b.handles.Borrow(o)
}

// Destroy destroys the value behind an owned handle. Objects emit their
// destroyed signal, when the class declares one, before any of their
// handles stop resolving. Containers are simply released.
func (b *Bridge) Destroy(h Handle) error {
	ownership, err := b.handles.Ownership(h)
	if err != nil {
		b.log.Warn("destroy of invalid handle", zap.Stringer("handle", h), zap.Error(err))
		return err
	}
	if ownership != Owned {
		err := newError(KindBorrowed, "", "handle %s is borrowed and must not be destroyed", h)
		b.log.Warn("destroy of borrowed handle", zap.Stringer("handle", h))
		return err
	}

	v, _ := b.handles.Get(h)
	if o, ok := v.(*Object); ok {
		if o.destroying {
			b.log.Warn("destroy of object being destroyed", zap.Stringer("object", o))
			return newError(KindStaleHandle, o.class.Name, "handle %s is already being destroyed", h)
		}
		o.destroying = true
		if _, hasSignal := o.class.signals["destroyed"]; hasSignal && o.connections["destroyed"] > 0 {
			if err := o.Emit("destroyed"); err != nil {
				b.log.Warn("destroyed signal failed", zap.Stringer("object", o), zap.Error(err))
			}
		}
		o.destroyed = true
	}

	_, err = b.handles.Destroy(h)
	return err
}

func (b *Bridge) convertArgs(m *methodInfo, args []any) ([]reflect.Value, error) {
	if len(args) != len(m.in) {
		return nil, newError(KindSignature, "", "wrong number of arguments for %s; expected %d, provided %d",
			m.Name, len(m.in), len(args))
	}
	out := make([]reflect.Value, len(args))
	for i, arg := range args {
		v, err := b.convert(arg, m.in[i])
		if err != nil {
			return nil, &Error{
				Kind:   KindTypeMismatch,
				Detail: fmt.Sprintf("wrong type for argument %d to %s", i, m.Name),
				Cause:  err,
			}
		}
		out[i] = v
	}
	return out, nil
}

func (o *Object) method(name string) (*methodInfo, error) {
	if o.destroyed {
		return nil, newError(KindStaleHandle, o.class.Name, "object was destroyed")
	}
	m, ok := o.class.methods[name]
	if !ok {
		return nil, newError(KindUnknownMethod, o.class.Name, "no method named '%s'", name)
	}
	return m, nil
}

// Call invokes a method. For a virtual method with a host override the
// arguments are packed and the callback runs instead of the class's
// implementation.
func (o *Object) Call(name string, args ...any) (any, error) {
	m, err := o.method(name)
	if err != nil {
		return nil, err
	}
	if cb, ok := o.overrides[name]; ok && m.Virtual {
		return o.callOverride(m, cb, args)
	}
	return o.invoke(m, args)
}

// CallDefault invokes the implementation the object's class would run
// without any override, like Base::method() from inside an override.
func (o *Object) CallDefault(name string, args ...any) (any, error) {
	m, err := o.method(name)
	if err != nil {
		return nil, err
	}
	if !m.Virtual {
		return nil, newError(KindUnknownMethod, o.class.Name, "'%s' is not virtual and has no default", name)
	}
	return o.invoke(m, args)
}

// CallDefaultAs invokes the implementation of method as seen from class,
// which must be the object's class or one of its bases.
func (o *Object) CallDefaultAs(class, name string, args ...any) (any, error) {
	c, ok := o.bridge.registry.Lookup(class)
	if !ok {
		return nil, newError(KindUnknownClass, class, "class is not registered")
	}
	if !o.class.IsA(c) {
		return nil, newError(KindTypeMismatch, class, "%s does not derive from %s", o.class.Name, class)
	}
	if o.destroyed {
		return nil, newError(KindStaleHandle, o.class.Name, "object was destroyed")
	}
	m, ok := c.methods[name]
	if !ok || !m.Virtual {
		return nil, newError(KindUnknownMethod, class, "no virtual method named '%s'", name)
	}
	return o.invoke(m, args)
}

func (o *Object) invoke(m *methodInfo, args []any) (any, error) {
	callArgs, err := o.bridge.convertArgs(m, args)
	if err != nil {
		return nil, withFunction(err, o.class.Name)
	}

	ret := m.fn.Call(append([]reflect.Value{reflect.ValueOf(o)}, callArgs...))
	if m.hasErr {
		if err, _ := ret[len(ret)-1].Interface().(error); err != nil {
			return nil, err
		}
	}
	if m.notify != "" {
		if err := o.Emit(m.notify); err != nil {
			return nil, err
		}
	}
	if m.out == nil {
		return nil, nil
	}
	return ret[0].Interface(), nil
}

func (o *Object) callOverride(m *methodInfo, cb Callback, args []any) (any, error) {
	callArgs, err := o.bridge.convertArgs(m, args)
	if err != nil {
		return nil, withFunction(err, o.class.Name)
	}

	packed := make([]any, len(callArgs))
	for i, v := range callArgs {
		packed[i] = o.bridge.pack(v, false)
	}

	result, err := cb(o, packed)
	if err != nil {
		return nil, err
	}
	if m.out == nil {
		return nil, nil
	}
	v, err := o.bridge.convert(result, m.out)
	if err != nil {
		return nil, &Error{
			Kind:     KindTypeMismatch,
			Function: o.class.Name,
			Detail:   fmt.Sprintf("override of %s returned the wrong type", m.Name),
			Cause:    err,
		}
	}
	return v.Interface(), nil
}

// Property reads a property through its getter.
func (o *Object) Property(name string) (any, error) {
	if _, ok := o.class.properties[name]; !ok {
		return nil, newError(KindUnknownMethod, o.class.Name, "no property named '%s'", name)
	}
	return o.Call(name)
}

// SetProperty writes a property through its setter and emits its changed
// signal.
func (o *Object) SetProperty(name string, value any) error {
	if _, ok := o.class.properties[name]; !ok {
		return newError(KindUnknownMethod, o.class.Name, "no property named '%s'", name)
	}
	if _, ok := o.class.methods[setterName(name)]; !ok {
		return newError(KindUnknownMethod, o.class.Name, "property '%s' is read-only", name)
	}
	_, err := o.Call(setterName(name), value)
	return err
}
