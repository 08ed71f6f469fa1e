// Package backend publishes a signalgraph engine to a QML frontend over the
// qbackend protocol.
//
// The frontend runs out of process, or in process through the
// backend/qmlscene package, and talks to the Go side over a pair of streams.
// The Go side does not use cgo.
//
// Objects
//
// In the middle of everything is QObject. When QObject is embedded in a struct, that type is "a QObject" and
// will be a fully functional Qt object in the frontend. The exported fields become QML properties,
// exported methods are callable functions, and func fields create Qt signals. Properties and parameters can
// contain other QObjects, structs (as JS objects), maps, arrays, and any encodable type.
//
//  // Go
//  type Demo struct {
//      backend.QObject
//      Steps []*Demo
//  }
//  func (d *Demo) Run() {
//      ...
//  }
//
//  // QML
//  property var demo: Backend.topDemo
//  property int numSteps: demo.steps.length
//  onClicked: { demo.run(); demo.steps = [] }
//
// QObjects do not need to be initialized explicitly; they are set up the
// first time they appear in a published property or signal. Objects stay
// registered with the connection for its lifetime.
//
// A singleton root object is always available within QML as Backend. For
// signalgraph this is an Inspector, which carries the engine's telemetry as
// properties and its controls as methods.
//
// Data Models
//
// For large or dynamic data used in QML views, Model provides a QAbstractListModel equivalent API.
// A type which embeds Model and implements RowSource is usable as a model anywhere in QML. Model is a
// model.Observer, so it can subscribe to the engine's edge table and counters and forward their
// change notifications as they happen.
//
// Protocol
//
// Every message is a JSON object framed as "<byte count> <json>\n". The
// backend sends VERSION and ROOT when the connection starts, then
// OBJECT_RESET and EMIT as objects change. The frontend sends OBJECT_REF,
// OBJECT_DEREF, OBJECT_QUERY, and INVOKE. Messages about objects the
// frontend does not reference are not sent.
//
// Connection
//
// Connection handles communication with the frontend and manages objects. The RootObject must be assigned
// before the connection starts. The connection is driven by calling Run() or, in a loop, Process() whenever
// ProcessSignal() fires. Any member of an initialized QObject can be accessed during those calls, so they must
// not run concurrently with changes to the objects. Inspector changes the engine, so Process must run on the
// goroutine that owns the engine, or under the lock returned by engine.RunLockable.
package backend
