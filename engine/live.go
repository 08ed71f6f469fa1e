package engine

import (
	"sort"
	"sync"

	"github.com/CrimsonAS/signalgraph/registry"
)

// liveQueue collects registry notifications between drains. It holds at
// most one pending operation per object: a handle is either waiting to be
// removed or waiting to be (re)examined, never both. Connection events only
// mark their sender for examination, so the drain works from the state of
// the registry rather than from the event history.
//
// liveQueue is safe for concurrent use; registry listeners push into it
// from the mutating goroutine.
type liveQueue struct {
	mu      sync.Mutex
	removed []registry.Handle
	dirty   []registry.Handle
}

func newLiveQueue() *liveQueue {
	return &liveQueue{}
}

func (q *liveQueue) push(ev registry.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch ev.Kind {
	case registry.ObjectAdded:
		q.removed = without(q.removed, ev.Object)
		q.dirty = with(q.dirty, ev.Object)
	case registry.ObjectRemoved:
		q.dirty = without(q.dirty, ev.Object)
		q.removed = with(q.removed, ev.Object)
	case registry.ConnectionAdded, registry.ConnectionRemoved:
		if contains(q.removed, ev.Object) {
			return
		}
		q.dirty = with(q.dirty, ev.Object)
	}
}

// take empties the queue.
func (q *liveQueue) take() (removed, dirty []registry.Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed, dirty = q.removed, q.dirty
	q.removed, q.dirty = nil, nil
	return
}

func (q *liveQueue) reset() {
	q.take()
}

// Len is the number of pending operations.
func (q *liveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.removed) + len(q.dirty)
}

func contains(list []registry.Handle, h registry.Handle) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}

func with(list []registry.Handle, h registry.Handle) []registry.Handle {
	if contains(list, h) {
		return list
	}
	return append(list, h)
}

func without(list []registry.Handle, h registry.Handle) []registry.Handle {
	for i, x := range list {
		if x == h {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// subscribe starts queueing registry notifications and queues every object
// that is already alive.
func (e *Engine) subscribe() {
	if e.unsubscribe != nil {
		return
	}
	e.unsubscribe = e.reg.Subscribe(e.queue.push)
	e.queueAll()
}

// queueAll marks every tracked object and every live object for
// examination by the next drain. Tracked objects that were destroyed
// unobserved are dropped there.
func (e *Engine) queueAll() {
	handles := e.objects.Keys()

	lock := e.reg.Locker()
	lock.Lock()
	handles = append(handles, e.reg.Objects()...)
	lock.Unlock()
	for _, h := range handles {
		e.queue.push(registry.Event{Kind: registry.ObjectAdded, Object: h})
	}
}

func (e *Engine) unsubscribeLive() {
	if e.unsubscribe == nil {
		return
	}
	e.unsubscribe()
	e.unsubscribe = nil
	e.queue.reset()
}

// drain applies the pending live operations: removals first, then every
// object whose connections may have changed. Without a registry
// subscription, or after a recording gate changed, every object is
// examined.
func (e *Engine) drain() {
	if gen := e.recordingGeneration(); e.unsubscribe == nil || gen != e.recordingGen {
		e.recordingGen = gen
		e.queueAll()
	}
	removed, dirty := e.queue.take()
	e.metrics.observeQueue(len(removed) + len(dirty))

	for _, h := range removed {
		e.forget(h)
	}
	if len(dirty) == 0 {
		return
	}

	facts := e.collect(dirty)
	for _, f := range facts {
		if !f.valid {
			e.metrics.staleHandle()
			e.forget(f.handle)
			continue
		}
		e.observe(f)
		for _, c := range f.conns {
			if c.receiver.valid {
				e.observe(c.receiver)
			}
		}
		e.countTypes(f)
		e.reconcileLive(f)
	}
}

func (e *Engine) collect(handles []registry.Handle) []objectFacts {
	lock := e.reg.Locker()
	lock.Lock()
	defer lock.Unlock()

	facts := make([]objectFacts, len(handles))
	for i, h := range handles {
		facts[i] = e.inspect(h, true)
	}
	return facts
}

// reconcileLive makes the edge references held by f's connections match
// the connections the live policy accepts. Every accepted connection holds
// one reference on its edge, so parallel connections add weight.
func (e *Engine) reconcileLive(f objectFacts) {
	var order []connKey
	want := make(map[connKey]int)
	for _, c := range f.conns {
		if c.Receiver == f.handle || !c.receiver.valid {
			continue
		}
		if !e.live.Accept(e.gates(f, c.Type)) {
			continue
		}
		k := connKey{receiver: c.Receiver, typ: c.Type}
		if want[k] == 0 {
			order = append(order, k)
		}
		want[k]++
	}

	acc := e.accepted[f.handle]
	var gone []connKey
	for k := range acc {
		if _, ok := want[k]; !ok {
			gone = append(gone, k)
		}
	}
	sort.Slice(gone, func(i, j int) bool {
		if gone[i].receiver != gone[j].receiver {
			return gone[i].receiver < gone[j].receiver
		}
		return gone[i].typ < gone[j].typ
	})
	for _, k := range gone {
		for n := acc[k]; n > 0; n-- {
			e.edges.Remove(f.handle, k.receiver)
		}
	}

	next := make(map[connKey]int, len(want))
	for _, k := range order {
		for n := acc[k]; n < want[k]; n++ {
			e.edges.Add(f.handle, k.receiver)
		}
		for n := acc[k]; n > want[k]; n-- {
			e.edges.Remove(f.handle, k.receiver)
		}
		next[k] = want[k]
	}
	if len(next) == 0 {
		delete(e.accepted, f.handle)
	} else {
		e.accepted[f.handle] = next
	}
}
