package qtbind

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"
)

const protocolVersion = 1

// Connection serves the flat surface of a bridge to a host over a byte
// stream, and implements CallbackSink by sending callbacks back over the
// same stream. Messages are framed as "<byte count> <json>\n".
type Connection struct {
	bridge    *Bridge
	surface   *Surface
	in        io.ReadCloser
	out       io.WriteCloser
	session   string
	callbacks map[string]struct{}
	log       *zap.Logger
	err       error

	started       bool
	processSignal chan struct{}
	queue         chan []byte
}

// NewConnection creates a new connection from an open stream. Every class
// must be registered with the bridge's registry before the connection is
// created. Call Run or Process to start processing data.
func NewConnection(b *Bridge, data io.ReadWriteCloser) *Connection {
	return NewConnectionSplit(b, data, data)
}

// NewConnectionSplit is equivalent to NewConnection, except that it uses
// separate streams for reading and writing. This is useful for certain
// kinds of pipe or when using stdin and stdout.
func NewConnectionSplit(b *Bridge, in io.ReadCloser, out io.WriteCloser) *Connection {
	u, _ := uuid.NewV4()
	c := &Connection{
		bridge:        b,
		in:            in,
		out:           out,
		session:       u.String(),
		callbacks:     make(map[string]struct{}),
		log:           b.log.With(zap.String("component", "connection")),
		processSignal: make(chan struct{}, 1),
		queue:         make(chan []byte, 128),
	}
	c.surface = NewSurface(b, c)
	return c
}

// NewStdConnection creates a connection to a parent process over stdin and
// stdout. os.Stdout is redirected to os.Stderr so stray output can't corrupt
// the stream.
func NewStdConnection(b *Bridge) *Connection {
	if os.Stdin == nil {
		panic("Cannot create multiple stdin/stdout connections")
	}

	in, out := os.Stdin, os.Stdout
	os.Stdin, os.Stdout = nil, os.Stderr
	return NewConnectionSplit(b, in, out)
}

// Surface is the function set served by the connection. Container
// adapters added to it before the connection starts are announced to the
// host.
func (c *Connection) Surface() *Surface {
	return c.surface
}

// Session identifies this connection in the VERSION message.
func (c *Connection) Session() string {
	return c.session
}

type messageBase struct {
	Command string `json:"command"`
}

type message struct {
	Command    string   `json:"command"`
	Id         string   `json:"id"`
	Function   string   `json:"function"`
	Parameters []any    `json:"parameters"`
	Value      any      `json:"value"`
	Error      string   `json:"error"`
	Kind       string   `json:"kind"`
	Names      []string `json:"names"`
}

func (c *Connection) fatal(fmsg string, p ...any) {
	msg := fmt.Sprintf(fmsg, p...)
	c.log.Error("fatal connection error", zap.String("error", msg))
	if c.err == nil {
		c.err = &Error{Kind: KindClosed, Detail: msg}
		c.in.Close()
		c.out.Close()
	}
}

func (c *Connection) warn(fmsg string, p ...any) {
	c.log.Warn(fmt.Sprintf(fmsg, p...))
}

func (c *Connection) sendMessage(msg any) {
	buf, err := json.Marshal(msg)
	if err != nil {
		c.fatal("message encoding failed: %s", err)
		return
	}
	fmt.Fprintf(c.out, "%d %s\n", len(buf), buf)
}

// encodeValue turns a value in boundary form into its JSON form.
func encodeValue(v any) any {
	switch v := v.(type) {
	case PackedString:
		return v.String()
	case Handle:
		return struct {
			Tag    string `json:"_qtbind_"`
			Handle uint32 `json:"handle"`
		}{"handle", uint32(v)}
	case PackedList:
		return struct {
			Tag    string `json:"_qtbind_"`
			Handle uint32 `json:"handle"`
			Length int32  `json:"length"`
		}{"list", uint32(v.Data), v.Length}
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = encodeValue(e)
		}
		return out
	}
	return v
}

// decodeValue is the inverse of encodeValue for a value decoded with
// json.Decoder.UseNumber.
func decodeValue(v any) (any, error) {
	switch v := v.(type) {
	case string:
		return PackString(v), nil

	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()

	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			d, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil

	case map[string]any:
		tag, tagged := v["_qtbind_"]
		if !tagged {
			out := make(map[string]any, len(v))
			for k, e := range v {
				d, err := decodeValue(e)
				if err != nil {
					return nil, err
				}
				out[k] = d
			}
			return out, nil
		}
		h, ok := v["handle"].(json.Number)
		if !ok {
			return nil, fmt.Errorf("%v reference is malformed; invalid handle %v", tag, v["handle"])
		}
		hv, err := strconv.ParseUint(h.String(), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%v reference is malformed; invalid handle %v", tag, h)
		}
		switch tag {
		case "handle":
			return Handle(hv), nil
		case "list":
			n, _ := v["length"].(json.Number)
			length, _ := n.Int64()
			return PackedList{Data: Handle(hv), Length: int32(length)}, nil
		}
		return nil, fmt.Errorf("reference is malformed; tag %v is incorrect", tag)
	}
	return v, nil
}

func decodeMessage(data []byte) (*message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var msg message
	if err := dec.Decode(&msg); err != nil {
		return nil, err
	}
	for i, p := range msg.Parameters {
		d, err := decodeValue(p)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		msg.Parameters[i] = d
	}
	if msg.Value != nil {
		d, err := decodeValue(msg.Value)
		if err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
		msg.Value = d
	}
	return &msg, nil
}

// handle() runs in an internal goroutine to read from 'in'. Messages are
// posted to the queue and processSignal is triggered.
func (c *Connection) handle() {
	defer close(c.processSignal)
	defer close(c.queue)

	c.sendMessage(struct {
		messageBase
		Version int    `json:"version"`
		Session string `json:"session"`
	}{messageBase{"VERSION"}, protocolVersion, c.session})

	c.sendMessage(struct {
		messageBase
		Classes   *Registry   `json:"classes"`
		Functions []*Function `json:"functions"`
	}{messageBase{"CLASSES"}, c.bridge.registry, c.surface.Functions()})

	rd := bufio.NewReader(c.in)
	for c.err == nil {
		sizeStr, err := rd.ReadString(' ')
		if err != nil {
			c.fatal("read error: %s", err)
			return
		} else if len(sizeStr) < 2 {
			c.fatal("read invalid message: invalid size")
			return
		}

		byteCnt, _ := strconv.ParseInt(sizeStr[:len(sizeStr)-1], 10, 32)
		if byteCnt < 1 {
			c.fatal("read invalid message: size too short")
			return
		}

		blob := make([]byte, byteCnt)
		if _, err := io.ReadFull(rd, blob); err != nil {
			c.fatal("read error: %s", err)
			return
		}

		if nl, err := rd.ReadByte(); err != nil {
			c.fatal("read error: %s", err)
			return
		} else if nl != '\n' {
			c.fatal("read invalid message: expected terminating newline, read %c", nl)
			return
		}

		// The signal only means "there is something queued"; it never
		// blocks the reader, which a callback waiting for its reply
		// depends on.
		c.queue <- blob
		select {
		case c.processSignal <- struct{}{}:
		default:
		}
	}
}

func (c *Connection) ensureHandler() error {
	if !c.started {
		c.started = true
		go c.handle()
	}
	return c.err
}

func (c *Connection) Started() bool {
	return c.started
}

// Run processes messages until the connection is closed. Be aware that when
// using Run, objects may be touched by the connection at any time. For
// better control over concurrency, see Process.
//
// Run is equivalent to a loop of Process and ProcessSignal.
func (c *Connection) Run() error {
	c.ensureHandler()
	for {
		if _, open := <-c.processSignal; !open {
			return c.err
		}
		if err := c.Process(); err != nil {
			return err
		}
	}
}

// Process handles any pending messages on the connection, but does not
// block to wait for new messages. ProcessSignal signals when there are
// messages to process.
//
// Objects are never touched by the connection except during calls to
// Process or Callback. By controlling calls to Process, applications can
// avoid concurrency issues with object state.
//
// Process returns nil when no messages are pending. All errors are fatal for
// the connection.
func (c *Connection) Process() error {
	c.ensureHandler()

	for {
		var data []byte
		select {
		case data = <-c.queue:
		default:
			return c.err
		}
		if data == nil {
			// queue closed; the error from fatal will be returned
			return c.err
		}

		msg, err := decodeMessage(data)
		if err != nil {
			c.fatal("process invalid message: %s", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Connection) ProcessSignal() <-chan struct{} {
	c.ensureHandler()
	return c.processSignal
}

func (c *Connection) dispatch(msg *message) {
	switch msg.Command {
	case "CALLBACKS":
		c.callbacks = make(map[string]struct{}, len(msg.Names))
		for _, name := range msg.Names {
			c.callbacks[name] = struct{}{}
		}

	case "CALL":
		if msg.Id == "" {
			c.fatal("call of %s without an id", msg.Function)
			return
		}
		result, err := c.surface.Call(msg.Function, msg.Parameters...)
		if err != nil {
			c.warn("call of %s failed: %s", msg.Function, err)
			c.sendError(msg.Id, err)
			return
		}
		c.sendMessage(struct {
			messageBase
			Id    string `json:"id"`
			Value any    `json:"value"`
		}{messageBase{"RETURN"}, msg.Id, encodeValue(result)})

	case "RETURN", "ERROR":
		c.warn("reply to unknown request %s", msg.Id)

	default:
		c.fatal("unknown command %s", msg.Command)
	}
}

func (c *Connection) sendError(id string, err error) {
	kind := ""
	if e, ok := err.(*Error); ok {
		kind = string(e.Kind)
	}
	c.sendMessage(struct {
		messageBase
		Id    string `json:"id"`
		Error string `json:"error"`
		Kind  string `json:"kind,omitempty"`
	}{messageBase{"ERROR"}, id, err.Error(), kind})
}

// Implements reports whether the host declared the callback in its last
// CALLBACKS message.
func (c *Connection) Implements(name string) bool {
	_, ok := c.callbacks[name]
	return ok
}

// Callback sends a CALLBACK message and waits for the host's reply. While
// waiting, calls from the host are served, so a callback may call back into
// the surface (a Default function, typically). Callback must only be used
// from the goroutine processing the connection, or while holding the lock
// returned by RunLockable.
func (c *Connection) Callback(name string, self Handle, args []any) (any, error) {
	if err := c.ensureHandler(); err != nil {
		return nil, &Error{Kind: KindClosed, Function: name, Cause: err}
	}

	u, _ := uuid.NewV4()
	id := u.String()

	params := make([]any, len(args))
	for i, a := range args {
		params[i] = encodeValue(a)
	}
	c.sendMessage(struct {
		messageBase
		Id         string `json:"id"`
		Function   string `json:"function"`
		Identifier any    `json:"identifier"`
		Parameters []any  `json:"parameters"`
	}{messageBase{"CALLBACK"}, id, name, encodeValue(self), params})

	for {
		data, open := <-c.queue
		if !open {
			return nil, &Error{Kind: KindClosed, Function: name, Cause: c.err}
		}

		msg, err := decodeMessage(data)
		if err != nil {
			c.fatal("process invalid message: %s", err)
			continue
		}

		if (msg.Command == "RETURN" || msg.Command == "ERROR") && msg.Id == id {
			if msg.Command == "ERROR" {
				return nil, newError(KindHost, name, "%s", msg.Error)
			}
			return msg.Value, nil
		}
		c.dispatch(msg)
	}
}
