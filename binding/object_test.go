package qtbind

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sliceOfString = reflect.TypeOf([]string(nil))

func TestObjectNewDestroy(t *testing.T) {
	b := newFixtureBridge(t)

	for _, class := range []string{"QObject", "QTimer", "QPrecisionTimer", "QThread"} {
		o, err := b.New(class, nil)
		require.NoError(t, err, class)
		assert.NotEmpty(t, o.Identifier())
		assert.Equal(t, class, o.Class().Name)

		require.NoError(t, b.Destroy(o.Handle()), class)
		assert.True(t, o.Destroyed())

		err = b.Destroy(o.Handle())
		assert.ErrorIs(t, err, ErrStaleHandle, "double destroy of %s", class)

		_, err = b.Object(o.Handle())
		assert.ErrorIs(t, err, ErrStaleHandle)

		_, err = o.Call("event", 0)
		assert.ErrorIs(t, err, ErrStaleHandle)
	}
	assert.Equal(t, 0, b.Handles().Len())
}

func TestObjectDestroyLeavesOthersIntact(t *testing.T) {
	b := newFixtureBridge(t)
	a, err := b.New("QObject", nil, "a")
	require.NoError(t, err)
	c, err := b.New("QObject", nil, "c")
	require.NoError(t, err)

	require.NoError(t, b.Destroy(a.Handle()))
	assert.Error(t, b.Destroy(a.Handle()))

	name, err := c.Property("objectName")
	require.NoError(t, err)
	assert.Equal(t, "c", name)
}

func TestObjectBorrowedHandle(t *testing.T) {
	b := newFixtureBridge(t)
	parent, err := b.New("QObject", nil, "parent")
	require.NoError(t, err)
	child, err := b.New("QObject", nil, "child")
	require.NoError(t, err)

	_, err = child.Call("setParent", parent)
	require.NoError(t, err)

	borrowed := b.Lend(parent)
	assert.NotEqual(t, parent.Handle(), borrowed)
	assert.ErrorIs(t, b.Destroy(borrowed), ErrBorrowed)

	resolved, err := b.Object(borrowed)
	require.NoError(t, err)
	assert.Same(t, parent, resolved)

	require.NoError(t, b.Destroy(parent.Handle()))
	_, err = b.Object(borrowed)
	assert.ErrorIs(t, err, ErrStaleHandle, "borrowed handles die with their object")
}

func TestObjectConstructorOverloads(t *testing.T) {
	b := newFixtureBridge(t)

	o, err := b.New("QObject", nil, "named")
	require.NoError(t, err)
	name, err := o.Property("objectName")
	require.NoError(t, err)
	assert.Equal(t, "named", name)

	o, err = b.New("QObject", nil, PackString("packed"))
	require.NoError(t, err)
	name, _ = o.Property("objectName")
	assert.Equal(t, "packed", name)

	_, err = b.New("QObject", nil, "a", "b")
	assert.ErrorIs(t, err, ErrSignature)

	_, err = b.New("QMissing", nil)
	assert.ErrorIs(t, err, ErrUnknownClass)

	c, _ := b.Registry().Lookup("QObject")
	o, err = b.Construct(c, 1, nil, "explicit")
	require.NoError(t, err)
	name, _ = o.Property("objectName")
	assert.Equal(t, "explicit", name)

	_, err = b.Construct(c, 2, nil)
	assert.ErrorIs(t, err, ErrSignature)
}

func TestOverridesValidatedAtConstruction(t *testing.T) {
	b := newFixtureBridge(t)
	cb := func(self *Object, args []any) (any, error) { return nil, nil }

	_, err := b.New("QTimer", Overrides{"noSuchMethod": cb})
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = b.New("QTimer", Overrides{"start": cb})
	assert.ErrorIs(t, err, ErrUnknownMethod, "plain methods cannot be overridden")

	_, err = b.New("QTimer", Overrides{"timerEvent": nil})
	assert.ErrorIs(t, err, ErrNilCallback)

	o, err := b.New("QTimer", Overrides{"timerEvent": cb, "timeout": cb})
	require.NoError(t, err)
	assert.True(t, o.Overridden("timerEvent"))
	assert.True(t, o.Overridden("timeout"))
	assert.False(t, o.Overridden("event"))
}

func TestVirtualShimRoundTrip(t *testing.T) {
	b := newFixtureBridge(t)
	rec := &recorder{result: false}
	o, err := b.New("QTimer", Overrides{"timerEvent": rec.callback})
	require.NoError(t, err)

	for _, tc := range []struct {
		id    int
		label string
	}{
		{0, ""},
		{7, "tick"},
		{-42, "ünïcödé ✓"},
	} {
		rec.calls = nil
		got, err := o.Call("timerEvent", tc.id, tc.label)
		require.NoError(t, err)
		assert.Equal(t, false, got, "result comes from the override")

		require.Len(t, rec.calls, 1)
		args := rec.calls[0]
		require.Len(t, args, 2)
		assert.Equal(t, int64(tc.id), args[0])
		assert.Equal(t, PackString(tc.label), args[1])
	}
	assert.Empty(t, timerOf(o).fired, "the class implementation must not run")
}

func TestVirtualShimPacksObjectsAndLists(t *testing.T) {
	reg := NewRegistry()
	registerFixtures(t, reg)
	reg.Define("QFilter", "QObject").
		Virtual("accept", func(self *Object, from *Object, names []string) bool { return true }).
		MustRegister()
	b := NewBridge(reg)

	var gotFrom *Object
	var gotNames []string
	filter, err := b.New("QFilter", Overrides{
		"accept": func(self *Object, args []any) (any, error) {
			h, ok := args[0].(Handle)
			require.True(t, ok)
			from, err := b.Object(h)
			require.NoError(t, err)
			gotFrom = from

			list, ok := args[1].(PackedList)
			require.True(t, ok)
			assert.Equal(t, int32(2), list.Length)
			v, err := b.convert(list, sliceOfString)
			require.NoError(t, err)
			gotNames = v.Interface().([]string)
			require.NoError(t, b.Destroy(list.Data), "packed lists are owned by the receiver")
			return true, nil
		},
	})
	require.NoError(t, err)
	sender, err := b.New("QObject", nil)
	require.NoError(t, err)

	ok, err := filter.Call("accept", sender, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, true, ok)
	assert.Same(t, sender, gotFrom)
	assert.Equal(t, []string{"x", "y"}, gotNames)
}

func TestDefaultResolvesPerSubtype(t *testing.T) {
	b := newFixtureBridge(t)
	override := &recorder{result: "override"}

	for _, class := range []string{"QObject", "QTimer", "QPrecisionTimer", "QThread"} {
		plain, err := b.New(class, nil)
		require.NoError(t, err)
		got, err := plain.CallDefault("event", 1)
		require.NoError(t, err)
		assert.Equal(t, class, got, "default of %s", class)

		got, err = plain.Call("event", 1)
		require.NoError(t, err)
		assert.Equal(t, class, got, "call without override runs the default")

		overridden, err := b.New(class, Overrides{"event": override.callback})
		require.NoError(t, err)
		got, err = overridden.Call("event", 1)
		require.NoError(t, err)
		assert.Equal(t, "override", got)

		got, err = overridden.CallDefault("event", 1)
		require.NoError(t, err)
		assert.Equal(t, class, got, "default of overridden %s", class)
	}
}

func TestCallDefaultAs(t *testing.T) {
	b := newFixtureBridge(t)
	o, err := b.New("QPrecisionTimer", nil)
	require.NoError(t, err)

	got, err := o.CallDefaultAs("QTimer", "event", 0)
	require.NoError(t, err)
	assert.Equal(t, "QTimer", got)

	got, err = o.CallDefaultAs("QObject", "event", 0)
	require.NoError(t, err)
	assert.Equal(t, "QObject", got)

	_, err = o.CallDefaultAs("QThread", "event", 0)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = o.CallDefault("start")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestDefaultFromInsideOverride(t *testing.T) {
	b := newFixtureBridge(t)
	o, err := b.New("QTimer", Overrides{
		"event": func(self *Object, args []any) (any, error) {
			base, err := self.CallDefault("event", args...)
			if err != nil {
				return nil, err
			}
			return base.(string) + "+host", nil
		},
	})
	require.NoError(t, err)

	got, err := o.Call("event", 3)
	require.NoError(t, err)
	assert.Equal(t, "QTimer+host", got)
}

func TestOverrideWrongResultType(t *testing.T) {
	b := newFixtureBridge(t)
	o, err := b.New("QTimer", Overrides{
		"timerEvent": func(self *Object, args []any) (any, error) { return PackString("yes"), nil },
	})
	require.NoError(t, err)

	_, err = o.Call("timerEvent", 1, "x")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestMethodArguments(t *testing.T) {
	b := newFixtureBridge(t)
	o, err := b.New("QTimer", nil)
	require.NoError(t, err)

	_, err = o.Call("timerEvent", "not a number", "x")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = o.Call("timerEvent", 1)
	assert.ErrorIs(t, err, ErrSignature)

	_, err = o.Call("timerEvent", o.Handle(), "x")
	assert.ErrorIs(t, err, ErrTypeMismatch, "handles are not integers")

	_, err = o.Call("noSuchMethod")
	assert.ErrorIs(t, err, ErrUnknownMethod)

	// Numbers decoded from a stream arrive as float64.
	ok, err := o.Call("timerEvent", float64(3), PackString("converted"))
	require.NoError(t, err)
	assert.Equal(t, true, ok)
	assert.Equal(t, []string{"converted"}, timerOf(o).fired)
}

func TestMethodErrorPropagates(t *testing.T) {
	b := newFixtureBridge(t)
	th, err := b.New("QThread", nil)
	require.NoError(t, err)

	_, err = th.Call("wait", -1)
	assert.EqualError(t, err, "negative timeout")

	got, err := th.Call("wait", 10)
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestFactoryResult(t *testing.T) {
	b := newFixtureBridge(t)
	o, err := b.New("QObject", nil, "origin")
	require.NoError(t, err)

	v, err := o.Call("sibling")
	require.NoError(t, err)
	sibling := v.(*Object)
	name, _ := sibling.Property("objectName")
	assert.Equal(t, "origin-sibling", name)

	own, err := b.Handles().Ownership(sibling.Handle())
	require.NoError(t, err)
	assert.Equal(t, Owned, own)
}

func TestProperties(t *testing.T) {
	b := newFixtureBridge(t)
	changed := &recorder{}
	o, err := b.New("QTimer", Overrides{"intervalChanged": changed.callback})
	require.NoError(t, err)
	require.NoError(t, o.Connect("intervalChanged"))

	require.NoError(t, o.SetProperty("interval", 25))
	v, err := o.Property("interval")
	require.NoError(t, err)
	assert.Equal(t, 25, v)
	assert.Len(t, changed.calls, 1)

	_, err = o.Call("setInterval", 50)
	require.NoError(t, err)
	assert.Len(t, changed.calls, 2, "the setter method notifies too")

	_, err = o.Property("missing")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestDestroyedSignal(t *testing.T) {
	b := newFixtureBridge(t)
	var sawHandle bool
	o, err := b.New("QTimer", Overrides{
		"destroyed": func(self *Object, args []any) (any, error) {
			_, err := b.Object(self.Handle())
			sawHandle = err == nil
			return nil, nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, o.Connect("destroyed"))

	require.NoError(t, b.Destroy(o.Handle()))
	assert.True(t, sawHandle, "destroyed is emitted while the handle still resolves")
}

func TestDestroyFromDestroyedCallback(t *testing.T) {
	b := newFixtureBridge(t)
	emitted := 0
	var nested []error
	o, err := b.New("QTimer", Overrides{
		"destroyed": func(self *Object, args []any) (any, error) {
			emitted++
			nested = append(nested, b.Destroy(self.Handle()), b.Destroy(self.Handle()))
			return nil, nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, o.Connect("destroyed"))

	require.NoError(t, b.Destroy(o.Handle()))
	assert.Equal(t, 1, emitted)
	require.Len(t, nested, 2)
	for _, err := range nested {
		assert.ErrorIs(t, err, ErrStaleHandle)
	}
	assert.True(t, o.Destroyed())
	assert.ErrorIs(t, b.Destroy(o.Handle()), ErrStaleHandle)
}
