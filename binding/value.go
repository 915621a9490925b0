package qtbind

import (
	"encoding"
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

func isScalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isNumericKind(k reflect.Kind) bool {
	return isScalarKind(k) && k != reflect.Bool && k != reflect.String
}

// convert turns a value received from the boundary into a value of type t,
// resolving handles and packed values and converting or unmarshaling as
// necessary.
func (b *Bridge) convert(in any, t reflect.Type) (reflect.Value, error) {
	if in == nil {
		return reflect.Zero(t), nil
	}
	inValue := reflect.ValueOf(in)
	if inValue.Type() == t {
		return inValue, nil
	}

	switch v := in.(type) {
	case PackedString:
		switch {
		case t == bytesType:
			return reflect.ValueOf(v.Bytes()), nil
		case t.Kind() == reflect.String:
			return reflect.ValueOf(v.String()).Convert(t), nil
		case t.Kind() == reflect.Interface:
			return reflect.ValueOf(v.String()), nil
		}
		return b.convert(v.String(), t)

	case Handle:
		if t == objectPtrType {
			if v == 0 {
				return reflect.Zero(t), nil
			}
			o, err := b.Object(v)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(o), nil
		}
		if t.Kind() == reflect.Slice || t.Kind() == reflect.Map || t.Kind() == reflect.Interface {
			return b.convertContainer(v, t)
		}
		return reflect.Value{}, newError(KindTypeMismatch, "", "handle %s cannot be used as %s", v, t)

	case PackedList:
		return b.convertContainer(v.Data, t)

	case []any:
		if t.Kind() == reflect.Slice {
			out := reflect.MakeSlice(t, len(v), len(v))
			for i, e := range v {
				ev, err := b.convert(e, t.Elem())
				if err != nil {
					return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
				}
				out.Index(i).Set(ev)
			}
			return out, nil
		}

	case map[string]any:
		if t.Kind() == reflect.Map {
			out := reflect.MakeMapWithSize(t, len(v))
			for k, e := range v {
				kv, err := b.convert(k, t.Key())
				if err != nil {
					return reflect.Value{}, fmt.Errorf("key %q: %w", k, err)
				}
				ev, err := b.convert(e, t.Elem())
				if err != nil {
					return reflect.Value{}, fmt.Errorf("value %q: %w", k, err)
				}
				out.SetMapIndex(kv, ev)
			}
			return out, nil
		}
	}

	if t.Kind() == reflect.Interface && inValue.Type().Implements(t) {
		out := reflect.New(t).Elem()
		out.Set(inValue)
		return out, nil
	}

	// Numbers convert freely between each other, but never into strings.
	inKind := inValue.Kind()
	if isScalarKind(inKind) && isScalarKind(t.Kind()) && inValue.Type().ConvertibleTo(t) &&
		!(t.Kind() == reflect.String && inKind != reflect.String) &&
		!(inKind == reflect.String && isNumericKind(t.Kind())) {
		return inValue.Convert(t), nil
	}

	if s, ok := in.(string); ok {
		var um encoding.TextUnmarshaler
		var out reflect.Value
		if t.Implements(textUnmarshalerType) && t.Kind() == reflect.Ptr {
			out = reflect.New(t.Elem())
			um = out.Interface().(encoding.TextUnmarshaler)
		} else if reflect.PointerTo(t).Implements(textUnmarshalerType) {
			ptr := reflect.New(t)
			um = ptr.Interface().(encoding.TextUnmarshaler)
			out = ptr.Elem()
		}
		if um != nil {
			if err := um.UnmarshalText([]byte(s)); err != nil {
				return reflect.Value{}, newError(KindTypeMismatch, "", "expected %s, unmarshal failed: %s", t, err)
			}
			return out, nil
		}
	}

	return reflect.Value{}, newError(KindTypeMismatch, "", "expected %s, provided %T", t, in)
}

func (b *Bridge) convertContainer(h Handle, t reflect.Type) (reflect.Value, error) {
	if h == 0 {
		return reflect.Zero(t), nil
	}
	v, err := b.handles.Get(h)
	if err != nil {
		return reflect.Value{}, err
	}

	switch c := v.(type) {
	case listContainer:
		if t.Kind() == reflect.Interface {
			t = reflect.TypeOf([]any(nil))
		}
		if t.Kind() != reflect.Slice {
			return reflect.Value{}, newError(KindTypeMismatch, "", "handle %s is a list, expected %s", h, t)
		}
		n := c.containerLen()
		out := reflect.MakeSlice(t, n, n)
		for i := 0; i < n; i++ {
			ev, err := b.convert(c.atAny(i), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil

	case mapContainer:
		if t.Kind() == reflect.Interface {
			t = reflect.MapOf(c.keyType(), reflect.TypeOf((*any)(nil)).Elem())
		}
		if t.Kind() != reflect.Map {
			return reflect.Value{}, newError(KindTypeMismatch, "", "handle %s is a map, expected %s", h, t)
		}
		out := reflect.MakeMapWithSize(t, c.containerLen())
		for _, k := range c.keysAny() {
			kv, err := b.convert(k, t.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			ev, err := b.convert(c.atKey(reflect.ValueOf(k)), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("value %v: %w", k, err)
			}
			out.SetMapIndex(kv, ev)
		}
		return out, nil
	}

	if t.Kind() == reflect.Interface {
		return reflect.ValueOf(v), nil
	}
	return reflect.Value{}, newError(KindTypeMismatch, "", "handle %s is %T, expected %s", h, v, t)
}

// pack turns a Go value into its boundary form: strings become
// PackedString, objects become handles and slices and maps become
// containers behind a PackedList. Containers created here are owned by the
// receiver. An object is passed by its owned handle when owned is set and
// by a borrowed handle otherwise.
func (b *Bridge) pack(v reflect.Value, owned bool) any {
	if !v.IsValid() {
		return nil
	}

	switch v.Type() {
	case objectPtrType:
		o := v.Interface().(*Object)
		if o == nil {
			return Handle(0)
		}
		if owned {
			return o.handle
		}
		return b.Lend(o)
	case bytesType:
		return PackBytes(v.Bytes())
	case packedStringType, packedListType:
		return v.Interface()
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return PackString(v.String())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return PackedList{}
		}
		return b.PackList(v.Interface())
	case reflect.Map:
		if v.IsNil() {
			return PackedList{}
		}
		return b.PackList(v.Interface())
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Interface {
			return b.pack(v.Elem(), owned)
		}
	}
	return v.Interface()
}

// PackList copies a slice, array or map into a new container and returns
// an owned PackedList for it. The receiver must destroy the container.
func (b *Bridge) PackList(value any) PackedList {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		l := newDynamicList(v.Type().Elem())
		for i := 0; i < v.Len(); i++ {
			l.Set(v.Index(i).Interface())
		}
		return PackedList{Data: b.handles.Insert(l, Owned), Length: int32(l.Len())}

	case reflect.Map:
		m, err := newDynamicMap(v.Type().Key(), v.Type().Elem())
		if err != nil {
			b.log.Warn("cannot pack map", zap.Error(err))
			return PackedList{}
		}
		iter := v.MapRange()
		for iter.Next() {
			m.setKey(iter.Key(), iter.Value())
		}
		return PackedList{Data: b.handles.Insert(m, Owned), Length: int32(m.containerLen())}
	}

	panic(fmt.Sprintf("qtbind: PackList of non-container %T", value))
}

// unpack is the inverse of pack for values of unknown target type.
func (b *Bridge) unpack(in any) any {
	switch v := in.(type) {
	case PackedString:
		return v.String()
	case PackedList:
		out, err := b.convertContainer(v.Data, reflect.TypeOf((*any)(nil)).Elem())
		if err != nil {
			return nil
		}
		return out.Interface()
	}
	return in
}
