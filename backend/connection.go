package backend

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("signalgraph.backend")

// ProtocolVersion is sent to the client in the VERSION message.
const ProtocolVersion = 2

type Connection struct {
	// RootObject is a singleton object that is always globally available to
	// the client. The root object must be set before connecting. It is a normal
	// object in all ways, except that it is always referenced.
	//
	// This field may not be changed after connecting, but the object can of
	// course change its fields at any time.
	RootObject QObject

	in      io.ReadCloser
	out     io.WriteCloser
	objects map[string]QObject
	err     error
	// readErr is written by the reader goroutine before it closes queue
	readErr error

	started       bool
	processSignal chan struct{}
	queue         chan []byte
}

// NewConnection creates a new connection from an open stream. To use the
// connection, a RootObject must be assigned and Run() or Process() must be
// called to start processing data.
func NewConnection(data io.ReadWriteCloser) *Connection {
	return NewConnectionSplit(data, data)
}

// NewConnectionSplit is equivalent to NewConnection, except that it uses
// separate streams for reading and writing. This is useful for certain kinds
// of pipe or when using stdin and stdout.
func NewConnectionSplit(in io.ReadCloser, out io.WriteCloser) *Connection {
	return &Connection{
		in:            in,
		out:           out,
		objects:       make(map[string]QObject),
		processSignal: make(chan struct{}, 2),
		queue:         make(chan []byte, 128),
	}
}

type messageBase struct {
	Command string `json:"command"`
}

// ErrClosed is returned once the client has closed the stream.
var ErrClosed = errors.New("connection closed")

func (c *Connection) fail(err error) {
	if c.err == nil {
		c.err = err
		c.in.Close()
		c.out.Close()
	}
}

func (c *Connection) fatal(fmsg string, p ...interface{}) {
	msg := fmt.Sprintf(fmsg, p...)
	log.Errorf("qbackend: FATAL: %s", msg)
	c.fail(errors.New(msg))
}

func (c *Connection) warn(fmsg string, p ...interface{}) {
	log.Warningf("qbackend: WARNING: "+fmsg, p...)
}

func (c *Connection) sendMessage(msg interface{}) {
	if c.err != nil {
		return
	}
	buf, err := json.Marshal(msg)
	if err != nil {
		c.fatal("message encoding failed: %s", err)
		return
	}
	if _, err := fmt.Fprintf(c.out, "%d %s\n", len(buf), buf); err != nil {
		c.fatal("write error: %s", err)
	}
}

// handle runs in an internal goroutine to read from 'in'. Messages are
// posted to the queue and processSignal is triggered. Nothing else in the
// connection is touched from this goroutine.
func (c *Connection) handle() {
	defer close(c.processSignal)
	defer close(c.queue)

	rd := bufio.NewReader(c.in)
	for {
		blob, err := readMessage(rd)
		if err != nil {
			c.readErr = err
			return
		}

		// Queue and signal
		c.queue <- blob
		select {
		case c.processSignal <- struct{}{}:
		default:
		}
	}
}

// readMessage reads one "<size> <json>\n" frame.
func readMessage(rd *bufio.Reader) ([]byte, error) {
	sizeStr, err := rd.ReadString(' ')
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	} else if len(sizeStr) < 2 {
		return nil, errors.New("read invalid message: invalid size")
	}

	byteCnt, _ := strconv.ParseInt(sizeStr[:len(sizeStr)-1], 10, 32)
	if byteCnt < 1 {
		return nil, errors.New("read invalid message: size too short")
	}

	blob := make([]byte, byteCnt)
	if _, err := io.ReadFull(rd, blob); err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}

	// Read the final newline
	if nl, err := rd.ReadByte(); err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	} else if nl != '\n' {
		return nil, fmt.Errorf("read invalid message: expected terminating newline, read %c", nl)
	}
	return blob, nil
}

// Start sends the VERSION and ROOT messages and begins reading from the
// client. It is called implicitly by Run, Process, and ProcessSignal, and
// does nothing after the first call.
//
// Like Process, Start accesses application data and must not run
// concurrently with changes to it.
func (c *Connection) Start() error {
	if c.started {
		return c.err
	}
	c.started = true

	if c.RootObject == nil {
		c.fatal("connection must have a root object")
	} else if impl, isObject := asQObject(c.RootObject); !isObject {
		c.fatal("root object must be a QObject")
	} else if impl == nil {
		if _, err := initObjectId(c.RootObject, c, "root"); err != nil {
			c.fatal("root object init failed: %s", err)
		}
	}
	if c.err != nil {
		close(c.processSignal)
		close(c.queue)
		return c.err
	}

	c.sendMessage(struct {
		messageBase
		Version int `json:"version"`
	}{messageBase{"VERSION"}, ProtocolVersion})

	impl, _ := asQObject(c.RootObject)
	impl.ref = true
	data, err := impl.marshalObject()
	if err != nil {
		c.fatal("marshalling of root object failed: %s", err)
	} else {
		c.sendMessage(struct {
			messageBase
			Identifier string                 `json:"identifier"`
			Type       *typeInfo              `json:"type"`
			Data       map[string]interface{} `json:"data"`
		}{
			messageBase{"ROOT"},
			impl.id,
			impl.typ,
			data,
		})
	}
	if c.err != nil {
		close(c.processSignal)
		close(c.queue)
		return c.err
	}

	go c.handle()
	return nil
}

func (c *Connection) Started() bool {
	return c.started
}

// Err returns the error that ended the connection, or nil while it is open.
func (c *Connection) Err() error {
	return c.err
}

// Run processes messages until the connection is closed. Be aware that when using Run,
// any data exposed in objects could be accessed by the connection at any time. For
// better control over concurrency, see Process.
//
// Run is equivalent to a loop of Process and ProcessSignal.
func (c *Connection) Run() error {
	if err := c.Start(); err != nil {
		return err
	}
	for {
		if _, open := <-c.processSignal; !open {
			// Drain what was read before the stream closed
			return c.Process()
		}
		if err := c.Process(); err != nil {
			return err
		}
	}
}

// Process handles any pending messages on the connection, but does not block to wait
// for new messages. ProcessSignal signals when there are messages to process.
//
// Application data (objects and their fields) is never accessed except during calls to
// Process() or other connection methods. By controlling calls to Process, applications
// can avoid concurrency issues with object data.
//
// Process returns nil when no messages are pending. All errors are fatal for the
// connection.
func (c *Connection) Process() error {
	if err := c.Start(); err != nil {
		return err
	}

	for c.err == nil {
		var data []byte
		select {
		case msg, open := <-c.queue:
			if !open {
				if c.readErr == nil || errors.Is(c.readErr, io.EOF) {
					log.Info("qbackend: connection closed")
					c.fail(ErrClosed)
				} else {
					c.fatal("%s", c.readErr)
				}
				return c.err
			}
			data = msg
		default:
			return nil
		}
		c.processMessage(data)
	}
	return c.err
}

func (c *Connection) processMessage(data []byte) {
	var msg struct {
		Command    string        `json:"command"`
		Identifier string        `json:"identifier"`
		Method     string        `json:"method"`
		Parameters []interface{} `json:"parameters"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.fatal("process invalid message: %s", err)
		return
	}

	obj, objExists := c.objects[msg.Identifier]
	var impl *objectImpl
	if objExists {
		impl, _ = asQObject(obj)
	}

	switch msg.Command {
	case "OBJECT_REF":
		if objExists {
			impl.ref = true
		} else {
			c.warn("ref of unknown object %s", msg.Identifier)
		}

	case "OBJECT_DEREF":
		if objExists {
			// The root object is always referenced
			impl.ref = obj == c.RootObject
		} else {
			c.warn("deref of unknown object %s", msg.Identifier)
		}

	case "OBJECT_QUERY":
		if objExists {
			impl.ref = true
			c.sendUpdate(impl)
		} else {
			c.fatal("query of unknown object %s", msg.Identifier)
		}

	case "INVOKE":
		if !objExists {
			c.fatal("invoke of %s on unknown object %s", msg.Method, msg.Identifier)
			break
		}
		if err := impl.invoke(msg.Method, msg.Parameters...); err != nil {
			c.warn("invoke of %s on %s failed: %s", msg.Method, msg.Identifier, err)
		}

	default:
		c.fatal("unknown command %s", msg.Command)
	}
}

func (c *Connection) ProcessSignal() <-chan struct{} {
	c.Start()
	return c.processSignal
}

func (c *Connection) addObject(obj QObject) error {
	id := obj.Identifier()
	if eObj, exists := c.objects[id]; exists {
		if obj == eObj {
			return nil
		}
		return fmt.Errorf("registered different object with duplicate identifier %s", id)
	}
	c.objects[id] = obj
	return nil
}

// Object returns a registered QObject by its identifier
func (c *Connection) Object(name string) QObject {
	return c.objects[name]
}

// InitObject explicitly initializes a QObject, assigning an identifier and
// setting up signal functions.
//
// It's not necessary to InitObject manually. Objects are automatically
// initialized as they are encountered in properties and parameters.
//
// InitObject can be useful to guarantee that a QObject and its signals are
// non-nil and can be called, even when it may have not yet been sent to the
// client.
func (c *Connection) InitObject(obj QObject) error {
	_, err := initObject(obj, c)
	return err
}

func (c *Connection) sendUpdate(impl *objectImpl) {
	if !impl.ref {
		return
	}

	data, err := impl.marshalObject()
	if err != nil {
		c.warn("marshal of object %s (type %s) failed: %s", impl.id, impl.typ.Name, err)
		return
	}

	c.sendMessage(struct {
		messageBase
		Identifier string                 `json:"identifier"`
		Data       map[string]interface{} `json:"data"`
	}{
		messageBase{"OBJECT_RESET"},
		impl.id,
		data,
	})
}

func (c *Connection) sendEmit(impl *objectImpl, method string, data []interface{}) {
	if data == nil {
		data = []interface{}{}
	}
	c.sendMessage(struct {
		messageBase
		Identifier string        `json:"identifier"`
		Method     string        `json:"method"`
		Parameters []interface{} `json:"parameters"`
	}{messageBase{"EMIT"}, impl.id, method, data})
}
