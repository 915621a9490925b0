// Package qtbind is the runtime of a binding that exposes native Qt classes to a host language through a flat
// set of functions.
//
// The host knows nothing about virtual dispatch, templates or object layout. It sees functions named by a
// fixed convention, opaque handles in place of objects, and two packed structures for variable-length data.
// Everything else (which implementation of a virtual method runs, how a signal reaches the host, who must
// free what) is decided here.
//
// Classes
//
// Classes are registered base-first. Methods are ordinary Go functions taking the object as their first
// argument; their signatures are read by reflection, like the properties and methods of a qbackend object.
//
//  reg := qtbind.NewRegistry()
//  reg.Define("QObject", "").
//      Constructor(func(self *qtbind.Object) { self.State = &object{} }).
//      Virtual("event", func(self *qtbind.Object, kind int) bool { return false }).
//      Signal("destroyed", func() {}).
//      MustRegister()
//  reg.Define("QTimer", "QObject").
//      Virtual("event", func(self *qtbind.Object, kind int) bool { return kind == timerEvent }).
//      Property("interval", getInterval, setInterval).
//      Signal("timeout", func() {}).
//      MustRegister()
//
// Registration builds a dispatch table for each class, the base's table overlaid with the class's own
// methods. Overriding a virtual with a different signature is refused.
//
// Objects and handles
//
// A Bridge creates objects and issues handles for them. Every object has exactly one owned handle, returned
// by its constructor, which must be destroyed exactly once. Accessors return borrowed handles, which must
// never be destroyed. Handles carry a generation, so destroying twice, destroying a borrowed handle, or
// using a handle after its object is gone all fail with an *Error instead of corrupting anything.
//
// Overrides
//
// The host replaces virtual methods and listens to signals through callbacks installed when the object is
// constructed:
//
//  timer, err := bridge.New("QTimer", qtbind.Overrides{
//      "event": func(self *qtbind.Object, args []any) (any, error) {
//          // args arrive packed; call the class's own implementation like Base::event()
//          return self.CallDefault("event", args...)
//      },
//  })
//
// Unknown names and nil callbacks are rejected at construction. Object.Call runs the override when there is
// one; Object.CallDefault always runs the class's implementation from its dispatch table.
//
// Signals are connected with Object.Connect and emitted with Object.Emit. As with native connections,
// connecting the same signal twice delivers every emission twice.
//
// Packed values
//
// Strings cross as PackedString, an owned copy of the bytes, so the receiver never has to copy before its
// next call. Lists and maps cross as PackedList, a handle to a container plus its length when packed. The
// container is read and written through adapter functions (_atList, _setList, _sizeList) and is destroyed
// by its owner like any other handle.
//
// Surfaces
//
// Surface names the flat functions of every registered class: QTimer_NewQTimer, QTimer_DestroyQTimer,
// QTimer_Event, QTimer_EventDefault, QTimer_ConnectTimeout, QTimer_DisconnectTimeout, and container trios like
// QObject___children_atList. A surface reports virtual calls and signals to a CallbackSink under the names
// callbackQTimer_Event and callbackQTimer_Timeout.
//
// Connection
//
// Connection serves a surface over a byte stream, with the same framing as qbackend. It is the
// CallbackSink for the objects it constructs: a callback is sent to the host and the connection waits for
// the reply, serving any calls the host makes in the meantime. See the wasmhost package for serving a
// surface to WebAssembly guests instead.
//
// Run processes messages until the connection closes. Process and ProcessSignal let the application decide
// when objects may be touched, and RunLockable combines both with a sync.Locker.
package qtbind
