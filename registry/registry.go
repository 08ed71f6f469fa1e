// Package registry is the engine's view of the inspected process: which
// objects are alive, which thread owns them, their class, and which signal
// connections leave them.
//
// The inspected process mutates its object graph from arbitrary threads.
// Every Registry query must be made while holding the lock returned by
// Locker, and a Handle must be checked with IsValid before any other query
// uses it.
package registry

import (
	"fmt"
	"strings"
	"sync"
)

// Handle identifies an object in the inspected process. Handles are not
// owned by the engine; the object behind one may be destroyed at any time.
// The zero Handle never refers to an object.
type Handle uint64

func (h Handle) String() string {
	return fmt.Sprintf("0x%x", uint64(h))
}

// Class is the name of an object's meta class.
type Class string

// ConnectionType is the kind of a signal connection. Unique variants carry
// the Unique flag on top of the base type.
type ConnectionType int

const (
	AutoConnection ConnectionType = iota
	DirectConnection
	QueuedConnection
	BlockingQueuedConnection

	// Unique is or'ed onto a base type; a unique connection is refused when
	// an identical one already exists.
	Unique ConnectionType = 0x80

	UniqueAutoConnection           = AutoConnection | Unique
	UniqueDirectConnection         = DirectConnection | Unique
	UniqueQueuedConnection         = QueuedConnection | Unique
	UniqueBlockingQueuedConnection = BlockingQueuedConnection | Unique
)

// ConnectionTypes lists every connection type, in display order.
var ConnectionTypes = []ConnectionType{
	AutoConnection,
	DirectConnection,
	QueuedConnection,
	BlockingQueuedConnection,
	UniqueAutoConnection,
	UniqueDirectConnection,
	UniqueQueuedConnection,
	UniqueBlockingQueuedConnection,
}

var connectionTypeNames = []string{"Auto", "Direct", "Queued", "BlockingQueued"}

// Base strips the Unique flag.
func (t ConnectionType) Base() ConnectionType {
	return t &^ Unique
}

func (t ConnectionType) IsUnique() bool {
	return t&Unique != 0
}

// Valid reports whether t is one of ConnectionTypes.
func (t ConnectionType) Valid() bool {
	return t&^(Unique|3) == 0
}

func (t ConnectionType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("ConnectionType(%d)", int(t))
	}
	name := connectionTypeNames[t.Base()]
	if t.IsUnique() {
		return "Unique" + name
	}
	return name
}

// ParseConnectionType accepts the names produced by ConnectionType.String,
// case-insensitively, with an optional "Connection" suffix.
func ParseConnectionType(s string) (ConnectionType, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "connection")
	for _, t := range ConnectionTypes {
		if strings.ToLower(t.String()) == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown connection type %q", s)
}

// Connection is one outbound signal connection of a sender.
type Connection struct {
	Type     ConnectionType
	Receiver Handle
}

// EventKind identifies a registry notification.
type EventKind int

const (
	ObjectAdded EventKind = iota
	ObjectRemoved
	ConnectionAdded
	ConnectionRemoved
)

func (k EventKind) String() string {
	switch k {
	case ObjectAdded:
		return "object added"
	case ObjectRemoved:
		return "object removed"
	case ConnectionAdded:
		return "connection added"
	case ConnectionRemoved:
		return "connection removed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a change notification. For object events only Object is set;
// for connection events Object is the sender.
type Event struct {
	Kind     EventKind
	Object   Handle
	Receiver Handle
	Type     ConnectionType
}

// Listener receives registry notifications. It may be called from any
// goroutine, and must not block or call back into the registry.
type Listener func(Event)

// Registry is the query surface over the live object graph.
//
// Query methods have no side effects and must be called while holding
// Locker. ThreadOf, MetaClassOf, Name and Outbound are undefined for a
// handle that is not valid.
type Registry interface {
	// Objects returns every live object, in creation order.
	Objects() []Handle
	// IsValid is true if h refers to a live object that is not being destroyed.
	IsValid(h Handle) bool
	// ThreadOf returns the thread object owning h.
	ThreadOf(h Handle) Handle
	MetaClassOf(h Handle) Class
	// Name is a display label for h.
	Name(h Handle) string
	// Outbound is a snapshot of the connections whose sender is h.
	Outbound(h Handle) []Connection

	// Locker guards the object graph against concurrent mutation.
	Locker() sync.Locker
	// Subscribe registers l for notifications until cancel is called.
	Subscribe(l Listener) (cancel func())
}
