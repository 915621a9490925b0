package qtbind

import (
	"reflect"

	"go.uber.org/zap"
)

func (o *Object) signal(name string) (*signalInfo, error) {
	if o.destroyed {
		return nil, newError(KindStaleHandle, o.class.Name, "object was destroyed")
	}
	s, ok := o.class.signals[name]
	if !ok {
		return nil, newError(KindUnknownSignal, o.class.Name, "no signal named '%s'", name)
	}
	return s, nil
}

// Connect forwards emissions of signal to the callback installed for it at
// construction. Connecting twice delivers every emission twice, as the
// native connection mechanism does.
func (o *Object) Connect(signal string) error {
	if _, err := o.signal(signal); err != nil {
		return err
	}
	if _, ok := o.overrides[signal]; !ok {
		return newError(KindNilCallback, o.class.Name, "no callback registered for signal '%s'", signal)
	}
	o.connections[signal]++
	if n := o.connections[signal]; n > 1 {
		o.bridge.log.Debug("duplicate signal connection",
			zap.Stringer("object", o),
			zap.String("signal", signal),
			zap.Int("connections", n))
	}
	return nil
}

// Disconnect removes every connection of signal and reports whether there
// was any. Disconnecting an unconnected signal does nothing.
func (o *Object) Disconnect(signal string) (bool, error) {
	if _, err := o.signal(signal); err != nil {
		return false, err
	}
	n := o.connections[signal]
	delete(o.connections, signal)
	return n > 0, nil
}

// Connections returns how many times signal is connected.
func (o *Object) Connections(signal string) int {
	return o.connections[signal]
}

// Emit is the native emission of signal. The arguments are checked against
// the signal's parameters, packed, and delivered synchronously once per
// connection.
func (o *Object) Emit(signal string, args ...any) error {
	s, err := o.signal(signal)
	if err != nil {
		return err
	}
	if len(args) != len(s.in) {
		return newError(KindSignature, o.class.Name, "signal '%s' takes %d arguments, %d provided", signal, len(s.in), len(args))
	}

	n := o.connections[signal]
	if n == 0 {
		return nil
	}

	b := o.bridge
	converted := make([]reflect.Value, len(args))
	for i, arg := range args {
		v, err := b.convert(arg, s.in[i])
		if err != nil {
			return &Error{Kind: KindTypeMismatch, Function: o.class.Name, Detail: "argument " + s.Names[i] + " of signal " + signal, Cause: err}
		}
		converted[i] = v
	}

	// Receivers own the containers they are handed: pack per delivery.
	cb := o.overrides[signal]
	for i := 0; i < n; i++ {
		packed := make([]any, len(converted))
		for j, v := range converted {
			packed[j] = b.pack(v, false)
		}
		if _, err := cb(o, packed); err != nil {
			return err
		}
	}
	return nil
}
