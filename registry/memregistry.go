package registry

import (
	"errors"
	"fmt"
	"sync"
)

// ThreadClass is the meta class of thread objects created by AddThread.
const ThreadClass Class = "QThread"

var (
	ErrInvalidHandle = errors.New("invalid object handle")
	ErrDuplicate     = errors.New("unique connection already exists")
)

type memObject struct {
	class    Class
	thread   Handle
	name     string
	outbound []Connection
}

// MemRegistry is an in-memory, thread-safe Registry. A probe inside the
// inspected process, a simulator, or a test mutates it; the engine queries
// it.
//
// Mutating methods take the lock themselves and must not be called while
// holding Locker. Listeners are notified synchronously after the lock has
// been released.
type MemRegistry struct {
	mu      sync.Mutex
	objects map[Handle]*memObject
	order   []Handle
	last    Handle

	lmu       sync.Mutex
	listeners []listenerEntry
	nextID    int
}

type listenerEntry struct {
	id int
	l  Listener
}

var _ Registry = (*MemRegistry)(nil)

func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		objects: make(map[Handle]*memObject),
	}
}

func (m *MemRegistry) Locker() sync.Locker {
	return &m.mu
}

func (m *MemRegistry) Objects() []Handle {
	out := make([]Handle, len(m.order))
	copy(out, m.order)
	return out
}

func (m *MemRegistry) IsValid(h Handle) bool {
	_, ok := m.objects[h]
	return ok
}

func (m *MemRegistry) ThreadOf(h Handle) Handle {
	if o, ok := m.objects[h]; ok {
		return o.thread
	}
	return 0
}

func (m *MemRegistry) MetaClassOf(h Handle) Class {
	if o, ok := m.objects[h]; ok {
		return o.class
	}
	return ""
}

func (m *MemRegistry) Name(h Handle) string {
	if o, ok := m.objects[h]; ok && o.name != "" {
		return o.name
	}
	return h.String()
}

func (m *MemRegistry) Outbound(h Handle) []Connection {
	o, ok := m.objects[h]
	if !ok {
		return nil
	}
	out := make([]Connection, len(o.outbound))
	copy(out, o.outbound)
	return out
}

func (m *MemRegistry) Subscribe(l Listener) (cancel func()) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerEntry{id, l})
	return func() {
		m.lmu.Lock()
		defer m.lmu.Unlock()
		for i, e := range m.listeners {
			if e.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

func (m *MemRegistry) notify(events ...Event) {
	m.lmu.Lock()
	listeners := make([]listenerEntry, len(m.listeners))
	copy(listeners, m.listeners)
	m.lmu.Unlock()

	for _, ev := range events {
		for _, e := range listeners {
			e.l(ev)
		}
	}
}

// Len returns the number of live objects.
func (m *MemRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

func (m *MemRegistry) add(class Class, thread Handle, name string, isThread bool) (Handle, error) {
	m.mu.Lock()
	if !isThread {
		if _, ok := m.objects[thread]; !ok {
			m.mu.Unlock()
			return 0, fmt.Errorf("thread %s: %w", thread, ErrInvalidHandle)
		}
	}
	m.last++
	h := m.last
	if isThread {
		thread = h
	}
	m.objects[h] = &memObject{class: class, thread: thread, name: name}
	m.order = append(m.order, h)
	m.mu.Unlock()

	m.notify(Event{Kind: ObjectAdded, Object: h})
	return h, nil
}

// AddThread creates a thread object. A thread owns itself.
func (m *MemRegistry) AddThread(name string) Handle {
	h, _ := m.add(ThreadClass, 0, name, true)
	return h
}

// AddObject creates an object of class owned by thread.
func (m *MemRegistry) AddObject(class Class, thread Handle, name string) (Handle, error) {
	return m.add(class, thread, name, false)
}

// Destroy removes h together with every connection it sends or receives.
// Listeners see the removal of h followed by the removal of each connection
// other objects had to h. Destroying a handle that is not valid is a no-op.
func (m *MemRegistry) Destroy(h Handle) {
	m.mu.Lock()
	if _, ok := m.objects[h]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.objects, h)
	for i, oh := range m.order {
		if oh == h {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	events := []Event{{Kind: ObjectRemoved, Object: h}}
	for _, sender := range m.order {
		o := m.objects[sender]
		kept := o.outbound[:0]
		for _, c := range o.outbound {
			if c.Receiver != h {
				kept = append(kept, c)
				continue
			}
			events = append(events, Event{Kind: ConnectionRemoved, Object: sender, Receiver: h, Type: c.Type})
		}
		o.outbound = kept
	}
	m.mu.Unlock()

	m.notify(events...)
}

// MoveToThread changes the thread owning h.
func (m *MemRegistry) MoveToThread(h, thread Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[h]
	if !ok {
		return fmt.Errorf("object %s: %w", h, ErrInvalidHandle)
	}
	if _, ok := m.objects[thread]; !ok {
		return fmt.Errorf("thread %s: %w", thread, ErrInvalidHandle)
	}
	o.thread = thread
	return nil
}

// Rename changes the display label of h.
func (m *MemRegistry) Rename(h Handle, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[h]
	if !ok {
		return fmt.Errorf("object %s: %w", h, ErrInvalidHandle)
	}
	o.name = name
	return nil
}

// Connect adds a connection from sender to receiver. Unique types are
// refused with ErrDuplicate when the same connection exists already.
func (m *MemRegistry) Connect(sender, receiver Handle, t ConnectionType) error {
	if !t.Valid() {
		return fmt.Errorf("connect %s -> %s: invalid %s", sender, receiver, t)
	}

	m.mu.Lock()
	o, ok := m.objects[sender]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("sender %s: %w", sender, ErrInvalidHandle)
	}
	if _, ok := m.objects[receiver]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("receiver %s: %w", receiver, ErrInvalidHandle)
	}
	if t.IsUnique() {
		for _, c := range o.outbound {
			if c.Receiver == receiver && c.Type.Base() == t.Base() {
				m.mu.Unlock()
				return ErrDuplicate
			}
		}
	}
	o.outbound = append(o.outbound, Connection{Type: t, Receiver: receiver})
	m.mu.Unlock()

	m.notify(Event{Kind: ConnectionAdded, Object: sender, Receiver: receiver, Type: t})
	return nil
}

// Disconnect removes one connection of type t from sender to receiver. It
// returns false if no such connection existed.
func (m *MemRegistry) Disconnect(sender, receiver Handle, t ConnectionType) bool {
	m.mu.Lock()
	o, ok := m.objects[sender]
	if !ok {
		m.mu.Unlock()
		return false
	}
	found := false
	for i, c := range o.outbound {
		if c.Receiver == receiver && c.Type == t {
			o.outbound = append(o.outbound[:i], o.outbound[i+1:]...)
			found = true
			break
		}
	}
	m.mu.Unlock()

	if found {
		m.notify(Event{Kind: ConnectionRemoved, Object: sender, Receiver: receiver, Type: t})
	}
	return found
}
