package engine

import (
	"context"
	"time"

	"github.com/CrimsonAS/signalgraph/registry"
)

// Start begins ticking. It only has an effect on a stopped engine. In live
// mode it also subscribes to the registry and queues every live object.
func (e *Engine) Start() {
	if e.state != Stopped {
		return
	}
	if e.mode == ModeLive {
		e.subscribe()
	}
	e.state = Started
	e.startTicking()
	log.Infof("started %s engine", e.mode)
}

// Stop halts ticking from Started or Paused. The edge table keeps its
// contents. In live mode pending notifications are dropped and the registry
// is no longer followed.
func (e *Engine) Stop() {
	if e.state == Stopped {
		return
	}
	e.stopTicking()
	e.unsubscribeLive()
	e.state = Stopped
	log.Infof("stopped %s engine", e.mode)
}

// Pause halts ticking without changing anything else. Live notifications
// keep being queued.
func (e *Engine) Pause() {
	if e.state != Started {
		return
	}
	e.stopTicking()
	e.state = Paused
}

// Resume restarts ticking after Pause.
func (e *Engine) Resume() {
	if e.state != Paused {
		return
	}
	e.state = Started
	e.startTicking()
}

// Refresh runs one pass immediately, whatever the state. A stopped live
// engine does not follow the registry, so its refresh examines every
// tracked and live object.
func (e *Engine) Refresh() {
	e.pass()
}

// Clear empties the edge table, zeroes every count and the overrun counter.
// Gates and the run state are kept. Objects are counted again by the next
// pass that sees them; a live engine that is following the registry queues
// every live object for that pass.
func (e *Engine) Clear() {
	e.edges.Clear()
	e.classes.Reset()
	e.threads.Reset()
	e.objects.Reset()
	e.types.Reset()

	e.info = make(map[registry.Handle]objectInfo)
	e.typeCounts = make(map[registry.Handle]map[registry.ConnectionType]int)
	e.accepted = make(map[registry.Handle]map[connKey]int)
	e.overruns = 0
	if e.unsubscribe != nil {
		e.queueAll()
	}
}

// Process runs the pass that a tick asked for. It does nothing unless the
// engine is Started; Refresh runs a pass unconditionally.
func (e *Engine) Process() {
	if e.state != Started {
		return
	}
	e.pass()
}

// ProcessSignal receives a value when a tick is due. Ticks that arrive
// while one is already pending are dropped. ProcessSignal is safe to call
// from any goroutine.
func (e *Engine) ProcessSignal() <-chan struct{} {
	return e.signal
}

// Run processes ticks until ctx is done. It is equivalent to a loop of
// ProcessSignal and Process.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.signal:
			e.Process()
		}
	}
}

func (e *Engine) pass() {
	start := time.Now()
	if e.mode == ModeLive {
		e.drain()
	} else {
		e.sample()
	}
	d := time.Since(start)

	overrun := e.edges.Len() > e.bufferSize
	if overrun {
		e.overruns++
		log.Debugf("buffer overrun: %d edges, buffer size %d", e.edges.Len(), e.bufferSize)
	}
	e.lastPass = start
	e.passTiming = d
	e.metrics.observePass(e.mode, d, e.edges.Len(), e.BufferUsage(), overrun)

	for _, fn := range e.afterPass {
		if fn != nil {
			fn()
		}
	}
}

func (e *Engine) tickPeriod() time.Duration {
	if e.mode == ModeLive {
		return e.interval
	}
	return e.period
}

func (e *Engine) startTicking() {
	stop := make(chan struct{})
	e.stopTicker = stop

	period := e.tickPeriod()
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case e.signal <- struct{}{}:
				default:
				}
			}
		}
	}()
}

func (e *Engine) stopTicking() {
	if e.stopTicker != nil {
		close(e.stopTicker)
		e.stopTicker = nil
	}
}
