package backend

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/signalgraph/engine"
	"github.com/CrimsonAS/signalgraph/registry"
)

type Child struct {
	QObject
	Title string
}

type Root struct {
	QObject
	Title string
	Child *Child
}

// testClient plays the frontend side of a connection.
type testClient struct {
	t      *testing.T
	c      *Connection
	w      io.WriteCloser
	frames chan map[string]interface{}
}

func newTestClient(t *testing.T, root QObject) *testClient {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	c := NewConnectionSplit(inR, outW)
	c.RootObject = root

	client := &testClient{t: t, c: c, w: inW, frames: make(chan map[string]interface{}, 64)}
	go func() {
		defer close(client.frames)
		rd := bufio.NewReader(outR)
		for {
			blob, err := readMessage(rd)
			if err != nil {
				return
			}
			var msg map[string]interface{}
			if json.Unmarshal(blob, &msg) == nil {
				client.frames <- msg
			}
		}
	}()
	t.Cleanup(func() {
		inW.Close()
		outR.Close()
	})
	return client
}

func (tc *testClient) send(msg map[string]interface{}) {
	buf, err := json.Marshal(msg)
	require.NoError(tc.t, err)
	_, err = fmt.Fprintf(tc.w, "%d %s\n", len(buf), buf)
	require.NoError(tc.t, err)
}

// expect processes the connection until the next message arrives from the
// backend, and checks its command.
func (tc *testClient) expect(command string) map[string]interface{} {
	tc.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-tc.frames:
			require.True(tc.t, ok, "backend closed the stream")
			require.Equal(tc.t, command, msg["command"], "message %v", msg)
			return msg
		case <-tc.c.ProcessSignal():
			require.NoError(tc.t, tc.c.Process())
		case <-timeout:
			tc.t.Fatalf("timed out waiting for %s", command)
		}
	}
}

func identifierOf(t *testing.T, ref interface{}) string {
	t.Helper()
	m, ok := ref.(map[string]interface{})
	require.True(t, ok, "not an object reference: %v", ref)
	require.Equal(t, "object", m["_qbackend_"])
	return m["identifier"].(string)
}

func TestConnectionInit(t *testing.T) {
	r := &Root{
		Title: "I am Root",
		Child: &Child{
			Title: "I am Child",
		},
	}
	tc := newTestClient(t, r)
	require.NoError(t, tc.c.Start())
	assert.True(t, tc.c.Started())

	version := tc.expect("VERSION")
	assert.Equal(t, float64(ProtocolVersion), version["version"])

	root := tc.expect("ROOT")
	assert.Equal(t, "root", root["identifier"])
	assert.Equal(t, "root", r.Identifier())
	data := root["data"].(map[string]interface{})
	assert.Equal(t, "I am Root", data["title"])
	childID := identifierOf(t, data["child"])
	assert.Equal(t, r.Child, tc.c.Object(childID))

	tc.send(map[string]interface{}{"command": "OBJECT_QUERY", "identifier": childID})
	reset := tc.expect("OBJECT_RESET")
	assert.Equal(t, childID, reset["identifier"])
	assert.Equal(t, "I am Child", reset["data"].(map[string]interface{})["title"])
	assert.True(t, r.Child.Referenced())

	tc.send(map[string]interface{}{"command": "OBJECT_DEREF", "identifier": childID})
	tc.send(map[string]interface{}{"command": "OBJECT_DEREF", "identifier": "root"})
	r.Title = "Changed"
	tc.send(map[string]interface{}{"command": "OBJECT_QUERY", "identifier": "root"})
	reset = tc.expect("OBJECT_RESET")
	assert.Equal(t, "root", reset["identifier"])
	assert.False(t, r.Child.Referenced())
	assert.True(t, r.Referenced(), "the root object stays referenced")
}

func TestConnectionNeedsRoot(t *testing.T) {
	tc := newTestClient(t, nil)
	assert.Error(t, tc.c.Start())
	assert.Error(t, tc.c.Process())
	assert.Error(t, tc.c.Run())
}

func TestConnectionUnknownCommand(t *testing.T) {
	tc := newTestClient(t, &Root{})
	require.NoError(t, tc.c.Start())
	tc.expect("VERSION")
	tc.expect("ROOT")

	tc.send(map[string]interface{}{"command": "OBJECT_CREATE", "identifier": "x"})
	<-tc.c.ProcessSignal()
	assert.Error(t, tc.c.Process())
	assert.Error(t, tc.c.Err())
}

func TestConnectionClosedByClient(t *testing.T) {
	tc := newTestClient(t, &Root{})
	require.NoError(t, tc.c.Start())
	tc.expect("VERSION")
	tc.expect("ROOT")

	tc.w.Close()
	assert.ErrorIs(t, tc.c.Run(), ErrClosed)
	assert.ErrorIs(t, tc.c.Process(), ErrClosed)
}

func TestInspectorProtocol(t *testing.T) {
	reg := registry.NewMemRegistry()
	t1 := reg.AddThread("T1")
	a, err := reg.AddObject("C1", t1, "A")
	require.NoError(t, err)
	b, err := reg.AddObject("C1", t1, "B")
	require.NoError(t, err)
	require.NoError(t, reg.Connect(a, b, registry.QueuedConnection))

	opts := engine.DefaultOptions()
	opts.Mode = engine.ModeSampling
	eng := engine.New(reg, opts)
	insp := NewInspector(eng)

	tc := newTestClient(t, insp)
	require.NoError(t, tc.c.Start())
	tc.expect("VERSION")
	root := tc.expect("ROOT")
	data := root["data"].(map[string]interface{})
	assert.Equal(t, "sampling", data["mode"])
	assert.Equal(t, "stopped", data["state"])
	assert.Equal(t, float64(0), data["edgeCount"])
	edgesID := identifierOf(t, data["edges"])
	identifierOf(t, data["connectionTypes"])

	// Reference the edge model and its data API
	tc.send(map[string]interface{}{"command": "OBJECT_QUERY", "identifier": edgesID})
	reset := tc.expect("OBJECT_RESET")
	apiID := identifierOf(t, reset["data"].(map[string]interface{})["_qb_model"])
	tc.send(map[string]interface{}{"command": "OBJECT_QUERY", "identifier": apiID})
	reset = tc.expect("OBJECT_RESET")
	assert.Equal(t, []interface{}{"sender", "receiver", "senderThread", "receiverThread", "weight", "visible"},
		reset["data"].(map[string]interface{})["roleNames"])

	tc.send(map[string]interface{}{
		"command":    "INVOKE",
		"identifier": "root",
		"method":     "refresh",
		"parameters": []interface{}{},
	})
	insert := tc.expect("EMIT")
	assert.Equal(t, apiID, insert["identifier"])
	assert.Equal(t, "modelInsert", insert["method"])
	params := insert["parameters"].([]interface{})
	require.Len(t, params, 3)
	assert.Equal(t, float64(0), params[0])
	assert.Equal(t, []interface{}{map[string]interface{}{
		"sender":         "A",
		"receiver":       "B",
		"senderThread":   "T1",
		"receiverThread": "T1",
		"weight":         float64(1),
		"visible":        true,
	}}, params[1])

	telemetry := tc.expect("OBJECT_RESET")
	assert.Equal(t, "root", telemetry["identifier"])
	assert.Equal(t, float64(1), telemetry["data"].(map[string]interface{})["edgeCount"])

	// Hiding a class resets the edge model
	tc.send(map[string]interface{}{
		"command":    "INVOKE",
		"identifier": "root",
		"method":     "showNone",
		"parameters": []interface{}{"class"},
	})
	modelReset := tc.expect("EMIT")
	assert.Equal(t, "modelReset", modelReset["method"])
	rows := modelReset["parameters"].([]interface{})[0].([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, false, rows[0].(map[string]interface{})["visible"])
	assert.True(t, eng.Classes().Len() > 0)

	tc.send(map[string]interface{}{
		"command":    "INVOKE",
		"identifier": "root",
		"method":     "start",
		"parameters": []interface{}{},
	})
	started := tc.expect("OBJECT_RESET")
	assert.Equal(t, "started", started["data"].(map[string]interface{})["state"])
	assert.Equal(t, engine.Started, eng.State())
	eng.Stop()
}
