package engine

import (
	"github.com/CrimsonAS/signalgraph/registry"
)

// objectFacts is what a pass learned about one object while holding the
// registry lock. Nothing in the registry is read again after the lock is
// released.
type objectFacts struct {
	handle registry.Handle
	valid  bool
	info   objectInfo
	conns  []connFacts
}

type connFacts struct {
	registry.Connection
	receiver objectFacts
}

// inspect reads the facts about h. The registry lock must be held.
func (e *Engine) inspect(h registry.Handle, withConns bool) objectFacts {
	f := objectFacts{handle: h, valid: e.reg.IsValid(h)}
	if !f.valid {
		return f
	}
	f.info = objectInfo{
		class:  e.reg.MetaClassOf(h),
		thread: e.reg.ThreadOf(h),
		name:   e.reg.Name(h),
	}
	if !withConns {
		return f
	}
	for _, c := range e.reg.Outbound(h) {
		f.conns = append(f.conns, connFacts{
			Connection: c,
			receiver:   e.inspect(c.Receiver, false),
		})
	}
	return f
}

// sample is one sampling pass. The first half collects facts under the
// registry lock; the second half applies them and lets observers see the
// changes with the lock released.
func (e *Engine) sample() {
	facts := e.collectAll()

	// Every object is known before any edge to it appears
	for _, f := range facts {
		if !f.valid {
			log.Debugf("dropping destroyed object %s", f.handle)
			e.metrics.staleHandle()
			e.forget(f.handle)
			continue
		}
		e.observe(f)
	}
	for _, f := range facts {
		if f.valid {
			e.countTypes(f)
			e.reconcileSampled(f)
		}
	}
}

// collectAll inspects every tracked object, in row order, followed by every
// live object that is not tracked yet, in registry order.
func (e *Engine) collectAll() []objectFacts {
	lock := e.reg.Locker()
	lock.Lock()
	defer lock.Unlock()

	tracked := e.objects.Keys()
	seen := make(map[registry.Handle]struct{}, len(tracked))
	facts := make([]objectFacts, 0, len(tracked))
	for _, h := range tracked {
		seen[h] = struct{}{}
		facts = append(facts, e.inspect(h, true))
	}
	for _, h := range e.reg.Objects() {
		if _, ok := seen[h]; !ok {
			facts = append(facts, e.inspect(h, true))
		}
	}
	return facts
}

// observe counts a valid object the first time it is seen and follows it
// across threads afterwards.
func (e *Engine) observe(f objectFacts) {
	old, known := e.info[f.handle]
	e.info[f.handle] = f.info
	if !known {
		e.objects.Increment(f.handle)
		e.classes.Increment(f.info.class)
		e.threads.Increment(f.info.thread)
		return
	}
	if old.thread != f.info.thread {
		e.releaseThread(old.thread)
		e.threads.Increment(f.info.thread)
	}
}

func (e *Engine) releaseThread(thread registry.Handle) {
	e.threads.Decrement(thread)
	if e.threads.Count(thread) == 0 {
		e.threads.Forget(thread)
	}
}

// forget drops every trace of h: its edges, its counts and its row in the
// object counter.
func (e *Engine) forget(h registry.Handle) {
	e.edges.RemoveAllFor(h)

	if i, ok := e.info[h]; ok {
		e.classes.Decrement(i.class)
		e.releaseThread(i.thread)
		delete(e.info, h)
	}
	e.setTypeCounts(h, nil)
	delete(e.accepted, h)
	for _, acc := range e.accepted {
		for k := range acc {
			if k.receiver == h {
				delete(acc, k)
			}
		}
	}
	e.objects.Forget(h)
}

// countTypes brings the connection type counter in line with the current
// outbound connections of f.
func (e *Engine) countTypes(f objectFacts) {
	counts := make(map[registry.ConnectionType]int)
	for _, c := range f.conns {
		if c.receiver.valid {
			counts[c.Type]++
		}
	}
	e.setTypeCounts(f.handle, counts)
}

func (e *Engine) setTypeCounts(h registry.Handle, counts map[registry.ConnectionType]int) {
	prev := e.typeCounts[h]
	for _, t := range registry.ConnectionTypes {
		for n := prev[t]; n < counts[t]; n++ {
			e.types.Increment(t)
		}
		for n := prev[t]; n > counts[t]; n-- {
			e.types.Decrement(t)
		}
	}
	if len(counts) == 0 {
		delete(e.typeCounts, h)
	} else {
		e.typeCounts[h] = counts
	}
}

func (e *Engine) gates(f objectFacts, t registry.ConnectionType) Gates {
	return Gates{
		Type:   e.types.IsRecording(t),
		Thread: e.threads.IsRecording(f.info.thread),
		Class:  e.classes.IsRecording(f.info.class),
		Object: e.objects.IsRecording(f.handle),
	}
}

// reconcileSampled makes the edges sent by f match its connections. Each
// receiver holds a single reference, wanted when any connection to it is
// accepted, so repeated passes over an unchanged graph change nothing.
func (e *Engine) reconcileSampled(f objectFacts) {
	var order []registry.Handle
	want := make(map[registry.Handle]bool)
	for _, c := range f.conns {
		r := c.Receiver
		if r == f.handle {
			continue
		}
		if !c.receiver.valid {
			e.edges.RemoveAllFor(r)
			continue
		}
		if _, ok := want[r]; !ok {
			order = append(order, r)
		}
		want[r] = want[r] || SamplingPolicy.Accept(e.gates(f, c.Type))
	}

	for _, r := range e.edges.Receivers(f.handle) {
		if _, ok := want[r]; !ok {
			e.edges.Remove(f.handle, r)
		}
	}
	for _, r := range order {
		has := e.edges.Has(f.handle, r)
		switch {
		case want[r] && !has:
			e.edges.Add(f.handle, r)
		case !want[r] && has:
			e.edges.Remove(f.handle, r)
		}
	}
}
