package qtbind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test double hierarchy:
//
//	QObject
//	├── QTimer
//	│   └── QPrecisionTimer
//	└── QThread
//
// Every class implements the virtual "event" by returning its own name, so
// a test can tell which implementation ran.

type objectState struct {
	name       string
	parent     *Object
	children   []*Object
	tags       []string
	properties map[string]int
}

func (s *objectState) object() *objectState { return s }

type objectHolder interface {
	object() *objectState
}

type timerState struct {
	objectState
	interval int
	active   bool
	fired    []string
}

type threadState struct {
	objectState
	running bool
}

func objectOf(self *Object) *objectState {
	return self.State.(objectHolder).object()
}

func timerOf(self *Object) *timerState {
	return self.State.(*timerState)
}

func registerFixtures(t testing.TB, reg *Registry) {
	t.Helper()

	_, err := reg.Define("QObject", "").
		Constructor(func(self *Object) { self.State = &objectState{} }).
		Constructor(func(self *Object, name string) { self.State = &objectState{name: name} }).
		Virtual("event", func(self *Object, kind int) string { return "QObject" }).
		Property("objectName",
			func(self *Object) string { return objectOf(self).name },
			func(self *Object, name string) { objectOf(self).name = name }).
		Method("setParent", func(self *Object, parent *Object) {
			objectOf(self).parent = parent
			if parent != nil {
				p := objectOf(parent)
				p.children = append(p.children, self)
			}
		}).
		Method("parent", func(self *Object) *Object { return objectOf(self).parent }).
		Method("children", func(self *Object) []*Object { return objectOf(self).children }).
		Method("setTags", func(self *Object, tags []string) { objectOf(self).tags = tags }).
		Method("tags", func(self *Object) []string { return objectOf(self).tags }).
		Method("setProperties", func(self *Object, props map[string]int) { objectOf(self).properties = props }).
		Method("properties", func(self *Object) map[string]int { return objectOf(self).properties }).
		Factory("sibling", func(self *Object) (*Object, error) {
			return self.Bridge().New("QObject", nil, objectOf(self).name+"-sibling")
		}).
		Signal("destroyed", func() {}).
		Register()
	require.NoError(t, err)

	_, err = reg.Define("QTimer", "QObject").
		Constructor(func(self *Object) { self.State = &timerState{} }).
		Virtual("event", func(self *Object, kind int) string { return "QTimer" }).
		Virtual("timerEvent", func(self *Object, id int, label string) bool {
			timerOf(self).fired = append(timerOf(self).fired, label)
			return true
		}).
		Property("interval",
			func(self *Object) int { return timerOf(self).interval },
			func(self *Object, ms int) { timerOf(self).interval = ms }).
		Method("start", func(self *Object) { timerOf(self).active = true }).
		Method("isActive", func(self *Object) bool { return timerOf(self).active }).
		Signal("timeout", func() {}).
		Signal("tick", func(int, string, bool) {}, "count", "label", "late").
		Signal("labelsChanged", func([]string) {}, "labels").
		Register()
	require.NoError(t, err)

	_, err = reg.Define("QPrecisionTimer", "QTimer").
		Constructor(func(self *Object) { self.State = &timerState{interval: 1} }).
		Virtual("event", func(self *Object, kind int) string { return "QPrecisionTimer" }).
		Register()
	require.NoError(t, err)

	_, err = reg.Define("QThread", "QObject").
		Constructor(func(self *Object) { self.State = &threadState{} }).
		Virtual("event", func(self *Object, kind int) string { return "QThread" }).
		Virtual("run", func(self *Object) int {
			self.State.(*threadState).running = true
			return 0
		}).
		Method("wait", func(self *Object, ms int) (bool, error) {
			if ms < 0 {
				return false, errors.New("negative timeout")
			}
			return !self.State.(*threadState).running, nil
		}).
		Signal("finished", func() {}).
		Register()
	require.NoError(t, err)
}

func newFixtureBridge(t testing.TB) *Bridge {
	t.Helper()
	reg := NewRegistry()
	registerFixtures(t, reg)
	return NewBridge(reg)
}

// recorder is a callback that records its arguments and returns a fixed
// result.
type recorder struct {
	calls  [][]any
	result any
	err    error
}

func (r *recorder) callback(self *Object, args []any) (any, error) {
	r.calls = append(r.calls, args)
	return r.result, r.err
}

// fakeSink is a CallbackSink with a fixed set of callbacks.
type fakeSink struct {
	results map[string]any
	calls   []sinkCall
}

type sinkCall struct {
	name string
	self Handle
	args []any
}

func newFakeSink(results map[string]any) *fakeSink {
	return &fakeSink{results: results}
}

func (s *fakeSink) Implements(name string) bool {
	_, ok := s.results[name]
	return ok
}

func (s *fakeSink) Callback(name string, self Handle, args []any) (any, error) {
	s.calls = append(s.calls, sinkCall{name, self, args})
	return s.results[name], nil
}

func (s *fakeSink) count(name string) int {
	n := 0
	for _, c := range s.calls {
		if c.name == name {
			n++
		}
	}
	return n
}
