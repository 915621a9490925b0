package qtbind

import (
	"cmp"
	"reflect"
	"sort"
	"strconv"

	"go.uber.org/zap"
)

// CallbackSink is the host side of the callback ABI. A surface asks the
// sink which callbacks exist when it constructs an object and forwards
// every virtual call and signal emission of that object to it.
type CallbackSink interface {
	// Implements reports whether the host provides the named callback.
	Implements(name string) bool
	// Callback invokes the named callback with the object's handle and the
	// packed arguments, and returns the packed result.
	Callback(name string, self Handle, args []any) (any, error)
}

// FunctionName is the flat name of a method of class: "QTimer_Start".
func FunctionName(class, method string) string {
	return class + "_" + upperFirst(method)
}

// CallbackName is the name of the host callback for a virtual method or
// signal of class: "callbackQTimer_TimerEvent".
func CallbackName(class, method string) string {
	return "callback" + class + "_" + upperFirst(method)
}

// FlatFunc implements one flat function. Arguments are in boundary form.
type FlatFunc func(args []any) (any, error)

// Function describes one flat function of a surface.
type Function struct {
	Name   string `json:"name"`
	Params []Type `json:"params"`
	Result Type   `json:"result"`
	// Owned is set when an object or container result must be destroyed
	// by the caller.
	Owned bool `json:"owned,omitempty"`

	call FlatFunc
}

// Surface is the flat function set of a bridge, named by the wrapper
// convention. It is built from the classes registered when NewSurface is
// called.
type Surface struct {
	bridge *Bridge
	sink   CallbackSink
	funcs  map[string]*Function
	log    *zap.Logger
}

// NewSurface builds the flat functions of every class registered with b.
// sink may be nil, in which case objects are constructed without
// overrides.
func NewSurface(b *Bridge, sink CallbackSink) *Surface {
	s := &Surface{
		bridge: b,
		sink:   sink,
		funcs:  make(map[string]*Function),
		log:    b.log.With(zap.String("component", "surface")),
	}
	for _, c := range b.registry.Classes() {
		s.addClass(c)
	}
	return s
}

func (s *Surface) Bridge() *Bridge {
	return s.bridge
}

// Register adds a function to the surface. Names must be unique.
func (s *Surface) Register(f *Function, call FlatFunc) error {
	if _, exists := s.funcs[f.Name]; exists {
		return newError(KindRegistration, f.Name, "function is already defined")
	}
	if f.Params == nil {
		f.Params = []Type{}
	}
	f.call = call
	s.funcs[f.Name] = f
	return nil
}

func (s *Surface) mustRegister(f *Function, call FlatFunc) {
	if err := s.Register(f, call); err != nil {
		s.log.Warn("duplicate flat function", zap.String("function", f.Name))
	}
}

// Lookup returns the description of a function.
func (s *Surface) Lookup(name string) (*Function, bool) {
	f, ok := s.funcs[name]
	return f, ok
}

// Functions returns every function, sorted by name.
func (s *Surface) Functions() []*Function {
	out := make([]*Function, 0, len(s.funcs))
	for _, f := range s.funcs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call invokes a flat function. Arguments and the result are in boundary
// form: handles, PackedString, PackedList, bool, int64 and float64.
func (s *Surface) Call(name string, args ...any) (any, error) {
	f, ok := s.funcs[name]
	if !ok {
		return nil, newError(KindUnknownFunction, name, "no such function")
	}
	if len(args) != len(f.Params) {
		return nil, newError(KindSignature, name, "takes %d arguments, %d provided", len(f.Params), len(args))
	}
	result, err := f.call(args)
	if err != nil {
		s.log.Debug("flat call failed", zap.String("function", name), zap.Error(err))
		return nil, withFunction(err, name)
	}
	return result, nil
}

// toHandle accepts the forms a handle takes after crossing a stream or
// linear memory.
func toHandle(v any) (Handle, error) {
	switch h := v.(type) {
	case Handle:
		return h, nil
	case PackedList:
		return h.Data, nil
	case uint32:
		return Handle(h), nil
	case int:
		return Handle(h), nil
	case int32:
		return Handle(h), nil
	case int64:
		return Handle(h), nil
	case float64:
		return Handle(h), nil
	case nil:
		return 0, nil
	}
	return 0, newError(KindTypeMismatch, "", "expected a handle, provided %T", v)
}

func (s *Surface) self(c *Class, arg any) (*Object, error) {
	h, err := toHandle(arg)
	if err != nil {
		return nil, err
	}
	o, err := s.bridge.Object(h)
	if err != nil {
		return nil, err
	}
	if !o.class.IsA(c) {
		return nil, newError(KindTypeMismatch, "", "handle %s is a %s, not a %s", h, o.class.Name, c.Name)
	}
	return o, nil
}

func (s *Surface) result(v any, owned bool) any {
	if v == nil {
		return nil
	}
	return s.bridge.pack(reflect.ValueOf(v), owned)
}

func (s *Surface) sinkCallback(name string) Callback {
	return func(self *Object, args []any) (any, error) {
		return s.sink.Callback(name, self.handle, args)
	}
}

// overridesFor installs a callback for every virtual method and signal of c
// the sink implements.
func (s *Surface) overridesFor(c *Class) Overrides {
	if s.sink == nil {
		return nil
	}
	overrides := make(Overrides)
	for _, name := range append(c.Virtuals(), c.Signals()...) {
		if cb := CallbackName(c.Name, name); s.sink.Implements(cb) {
			overrides[name] = s.sinkCallback(cb)
		}
	}
	return overrides
}

func (s *Surface) addClass(c *Class) {
	name := c.Name

	if !c.abstract {
		if len(c.ctors) == 0 {
			s.mustRegister(&Function{Name: FunctionName(name, "New"+name), Result: TypeObject, Owned: true},
				func(args []any) (any, error) {
					o, err := s.bridge.Construct(c, 0, s.overridesFor(c))
					if err != nil {
						return nil, err
					}
					return o.handle, nil
				})
		}
		for i, ctor := range c.ctors {
			fname := "New" + name
			if i > 0 {
				fname += strconv.Itoa(i + 1)
			}
			overload := i
			s.mustRegister(&Function{Name: FunctionName(name, fname), Params: ctor.Params, Result: TypeObject, Owned: true},
				func(args []any) (any, error) {
					o, err := s.bridge.Construct(c, overload, s.overridesFor(c), args...)
					if err != nil {
						return nil, err
					}
					return o.handle, nil
				})
		}
	}

	s.mustRegister(&Function{Name: FunctionName(name, "Destroy"+name), Params: []Type{TypeObject}, Result: TypeVoid},
		func(args []any) (any, error) {
			h, err := toHandle(args[0])
			if err != nil {
				return nil, err
			}
			if _, err := s.self(c, h); err != nil {
				return nil, err
			}
			return nil, s.bridge.Destroy(h)
		})

	for _, mname := range c.Methods() {
		m := c.methods[mname]
		method := mname
		params := append([]Type{TypeObject}, m.Params...)

		s.mustRegister(&Function{Name: FunctionName(name, method), Params: params, Result: m.Result, Owned: m.Owned},
			func(args []any) (any, error) {
				o, err := s.self(c, args[0])
				if err != nil {
					return nil, err
				}
				v, err := o.Call(method, args[1:]...)
				if err != nil {
					return nil, err
				}
				return s.result(v, m.Owned), nil
			})

		if m.Virtual {
			s.mustRegister(&Function{Name: FunctionName(name, method) + "Default", Params: params, Result: m.Result, Owned: m.Owned},
				func(args []any) (any, error) {
					o, err := s.self(c, args[0])
					if err != nil {
						return nil, err
					}
					v, err := o.CallDefault(method, args[1:]...)
					if err != nil {
						return nil, err
					}
					return s.result(v, m.Owned), nil
				})
		}

		s.addMethodTrios(name, m)
	}

	for _, sname := range c.Signals() {
		sig := c.signals[sname]
		signal := sname

		s.mustRegister(&Function{Name: FunctionName(name, "Connect"+upperFirst(signal)), Params: []Type{TypeObject}, Result: TypeVoid},
			func(args []any) (any, error) {
				o, err := s.self(c, args[0])
				if err != nil {
					return nil, err
				}
				return nil, o.Connect(signal)
			})
		s.mustRegister(&Function{Name: FunctionName(name, "Disconnect"+upperFirst(signal)), Params: []Type{TypeObject}, Result: TypeVoid},
			func(args []any) (any, error) {
				o, err := s.self(c, args[0])
				if err != nil {
					return nil, err
				}
				_, err = o.Disconnect(signal)
				return nil, err
			})
		s.mustRegister(&Function{Name: FunctionName(name, signal), Params: append([]Type{TypeObject}, sig.Params...), Result: TypeVoid},
			func(args []any) (any, error) {
				o, err := s.self(c, args[0])
				if err != nil {
					return nil, err
				}
				return nil, o.Emit(signal, args[1:]...)
			})
	}
}

// addMethodTrios adds container adapter functions for every distinct slice
// or map type among the parameters and result of m, named
// <Class>___<method>_atList and so on. The second distinct container type
// gets the suffix 2, the third 3.
func (s *Surface) addMethodTrios(class string, m *methodInfo) {
	var seen []reflect.Type
	slots := append([]reflect.Type(nil), m.in...)
	if m.out != nil {
		slots = append(slots, m.out)
	}

	for _, t := range slots {
		if t == bytesType || (t.Kind() != reflect.Slice && t.Kind() != reflect.Array && t.Kind() != reflect.Map) {
			continue
		}
		dup := false
		for _, e := range seen {
			dup = dup || e == t
		}
		if dup {
			continue
		}
		seen = append(seen, t)

		suffix := ""
		if len(seen) > 1 {
			suffix = strconv.Itoa(len(seen))
		}
		prefix := class + "___" + m.Name

		if t.Kind() == reflect.Map {
			key, elem := t.Key(), t.Elem()
			s.addMapTrio(prefix, suffix, key, elem, func() (any, error) {
				return newDynamicMap(key, elem)
			})
		} else {
			elem := t.Elem()
			s.addListTrio(prefix, suffix, elem, func() (any, error) {
				return newDynamicList(elem), nil
			})
		}
	}
}

func (s *Surface) container(arg any) (any, Handle, error) {
	h, err := toHandle(arg)
	if err != nil {
		return nil, 0, err
	}
	v, err := s.bridge.handles.Get(h)
	if err != nil {
		return nil, 0, err
	}
	return v, h, nil
}

func (s *Surface) list(arg any) (listContainer, error) {
	v, h, err := s.container(arg)
	if err != nil {
		return nil, err
	}
	l, ok := v.(listContainer)
	if !ok {
		return nil, newError(KindTypeMismatch, "", "handle %s is %T, not a list", h, v)
	}
	return l, nil
}

func (s *Surface) keyed(arg any) (mapContainer, error) {
	v, h, err := s.container(arg)
	if err != nil {
		return nil, err
	}
	m, ok := v.(mapContainer)
	if !ok {
		return nil, newError(KindTypeMismatch, "", "handle %s is %T, not a map", h, v)
	}
	return m, nil
}

func (s *Surface) addContainerCommon(prefix, suffix string, create func() (any, error), size func(any) int) {
	s.mustRegister(&Function{Name: prefix + "_newList" + suffix, Result: TypeList, Owned: true},
		func(args []any) (any, error) {
			c, err := create()
			if err != nil {
				return nil, err
			}
			return PackedList{Data: s.bridge.handles.Insert(c, Owned), Length: int32(size(c))}, nil
		})
	s.mustRegister(&Function{Name: prefix + "_destroyList" + suffix, Params: []Type{TypeList}, Result: TypeVoid},
		func(args []any) (any, error) {
			v, h, err := s.container(args[0])
			if err != nil {
				return nil, err
			}
			switch v.(type) {
			case listContainer, mapContainer:
			default:
				return nil, newError(KindTypeMismatch, "", "handle %s is %T, not a container", h, v)
			}
			return nil, s.bridge.Destroy(h)
		})
}

func (s *Surface) addListTrio(prefix, suffix string, elem reflect.Type, create func() (any, error)) {
	s.addContainerCommon(prefix, suffix, create, func(c any) int { return c.(listContainer).containerLen() })

	s.mustRegister(&Function{Name: prefix + "_atList" + suffix, Params: []Type{TypeList, TypeInt}, Result: typeOf(elem)},
		func(args []any) (any, error) {
			l, err := s.list(args[0])
			if err != nil {
				return nil, err
			}
			i, err := s.bridge.convert(args[1], reflect.TypeOf(0))
			if err != nil {
				return nil, err
			}
			return s.bridge.pack(reflect.ValueOf(l.atAny(int(i.Int()))), false), nil
		})
	s.mustRegister(&Function{Name: prefix + "_setList" + suffix, Params: []Type{TypeList, typeOf(elem)}, Result: TypeVoid},
		func(args []any) (any, error) {
			l, err := s.list(args[0])
			if err != nil {
				return nil, err
			}
			v, err := s.bridge.convert(args[1], l.elemType())
			if err != nil {
				return nil, err
			}
			l.appendValue(v)
			return nil, nil
		})
	s.mustRegister(&Function{Name: prefix + "_sizeList" + suffix, Params: []Type{TypeList}, Result: TypeInt},
		func(args []any) (any, error) {
			l, err := s.list(args[0])
			if err != nil {
				return nil, err
			}
			return int64(l.containerLen()), nil
		})
}

func (s *Surface) addMapTrio(prefix, suffix string, key, elem reflect.Type, create func() (any, error)) {
	s.addContainerCommon(prefix, suffix, create, func(c any) int { return c.(mapContainer).containerLen() })

	s.mustRegister(&Function{Name: prefix + "_atList" + suffix, Params: []Type{TypeMap, typeOf(key)}, Result: typeOf(elem)},
		func(args []any) (any, error) {
			m, err := s.keyed(args[0])
			if err != nil {
				return nil, err
			}
			k, err := s.bridge.convert(args[1], m.keyType())
			if err != nil {
				return nil, err
			}
			return s.bridge.pack(reflect.ValueOf(m.atKey(k)), false), nil
		})
	s.mustRegister(&Function{Name: prefix + "_setList" + suffix, Params: []Type{TypeMap, typeOf(key), typeOf(elem)}, Result: TypeVoid},
		func(args []any) (any, error) {
			m, err := s.keyed(args[0])
			if err != nil {
				return nil, err
			}
			k, err := s.bridge.convert(args[1], m.keyType())
			if err != nil {
				return nil, err
			}
			v, err := s.bridge.convert(args[2], m.elemType())
			if err != nil {
				return nil, err
			}
			m.setKey(k, v)
			return nil, nil
		})
	s.mustRegister(&Function{Name: prefix + "_sizeList" + suffix, Params: []Type{TypeMap}, Result: TypeInt},
		func(args []any) (any, error) {
			m, err := s.keyed(args[0])
			if err != nil {
				return nil, err
			}
			return int64(m.containerLen()), nil
		})
	s.mustRegister(&Function{Name: prefix + "_keyList" + suffix, Params: []Type{TypeMap}, Result: TypeList, Owned: true},
		func(args []any) (any, error) {
			m, err := s.keyed(args[0])
			if err != nil {
				return nil, err
			}
			keys := reflect.MakeSlice(reflect.SliceOf(m.keyType()), 0, m.containerLen())
			for _, k := range m.keysAny() {
				keys = reflect.Append(keys, reflect.ValueOf(k))
			}
			return s.bridge.PackList(keys.Interface()), nil
		})
}

// ListAdapter adds the container functions <prefix>_newList, _atList,
// _setList, _sizeList and _destroyList for lists of T.
func ListAdapter[T any](s *Surface, prefix string) {
	elem := reflect.TypeOf((*T)(nil)).Elem()
	s.addListTrio(prefix, "", elem, func() (any, error) {
		return NewList[T](), nil
	})
}

// MapAdapter adds the keyed container functions <prefix>_newList, _atList,
// _setList, _sizeList, _keyList and _destroyList for maps from K to V.
func MapAdapter[K cmp.Ordered, V any](s *Surface, prefix string) {
	key := reflect.TypeOf((*K)(nil)).Elem()
	elem := reflect.TypeOf((*V)(nil)).Elem()
	s.addMapTrio(prefix, "", key, elem, func() (any, error) {
		return NewMap[K, V](), nil
	})
}
