// Package engine keeps the edge table of a live process's signal
// connection graph up to date, either by periodically rescanning the whole
// object graph (sampling mode) or by applying queued registry
// notifications (live mode).
//
// An Engine follows the same processing model as a backend connection: a
// timer goroutine only signals ProcessSignal, and the engine's state is
// read and written exclusively inside Process (or Run, or RunLockable's
// loop) and by the goroutine that calls them. Methods other than
// ProcessSignal must not be called from any other goroutine unless it holds
// the lock returned by RunLockable.
package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/tliron/commonlog"

	"github.com/CrimsonAS/signalgraph/counter"
	"github.com/CrimsonAS/signalgraph/edges"
	"github.com/CrimsonAS/signalgraph/registry"
)

var log = commonlog.GetLogger("signalgraph.engine")

// State is the run state of an Engine.
type State int

const (
	Stopped State = iota
	Started
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Started:
		return "started"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// objectInfo is what the engine remembers about a tracked object, so it
// can undo its counts after the object is gone.
type objectInfo struct {
	class  registry.Class
	thread registry.Handle
	name   string
}

// connKey identifies the live mode connections of one sender that share a
// receiver and type.
type connKey struct {
	receiver registry.Handle
	typ      registry.ConnectionType
}

type Engine struct {
	reg  registry.Registry
	mode Mode
	live Policy

	classes *counter.Counter[registry.Class]
	threads *counter.Counter[registry.Handle]
	objects *counter.Counter[registry.Handle]
	types   *counter.Counter[registry.ConnectionType]
	edges   *edges.Table

	// info holds every object counted in the class and thread counters.
	info map[registry.Handle]objectInfo
	// typeCounts is each sender's contribution to the connection type counter.
	typeCounts map[registry.Handle]map[registry.ConnectionType]int
	// accepted counts, per sender, the live mode connections that hold a
	// reference on an edge.
	accepted map[registry.Handle]map[connKey]int

	state      State
	rate       float64
	period     time.Duration
	interval   time.Duration
	bufferSize int
	overruns   int

	queue       *liveQueue
	unsubscribe func()
	// recordingGen is the gate generation the live edges were last
	// reconciled against.
	recordingGen uint64

	signal     chan struct{}
	stopTicker chan struct{}

	metrics    *Metrics
	afterPass  []func()
	lastPass   time.Time
	passTiming time.Duration
}

// New creates a stopped engine over reg. Invalid rate, buffer size or
// interval options fall back to the defaults.
func New(reg registry.Registry, opts Options) *Engine {
	def := DefaultOptions()
	if !validRate(opts.SamplingRate) {
		opts.SamplingRate = def.SamplingRate
	}
	if opts.BufferSize < 1 {
		opts.BufferSize = def.BufferSize
	}
	if opts.LiveInterval <= 0 {
		opts.LiveInterval = def.LiveInterval
	}
	if opts.LivePolicy.Accept == nil {
		opts.LivePolicy = ObservedLivePolicy
	}

	e := &Engine{
		reg:        reg,
		mode:       opts.Mode,
		live:       opts.LivePolicy,
		edges:      edges.New(),
		info:       make(map[registry.Handle]objectInfo),
		typeCounts: make(map[registry.Handle]map[registry.ConnectionType]int),
		accepted:   make(map[registry.Handle]map[connKey]int),
		interval:   opts.LiveInterval,
		bufferSize: opts.BufferSize,
		queue:      newLiveQueue(),
		signal:     make(chan struct{}, 1),
		metrics:    opts.Metrics,
	}
	e.setRate(opts.SamplingRate)

	e.classes = counter.New[registry.Class](counter.Class, opts.Defaults, nil)
	e.threads = counter.New[registry.Handle](counter.Thread, opts.Defaults, e.label)
	e.objects = counter.New[registry.Handle](counter.Object, opts.Defaults, e.label)
	e.types = counter.New[registry.ConnectionType](counter.ConnectionType, opts.Defaults, nil)
	for _, t := range registry.ConnectionTypes {
		e.types.Track(t)
	}
	e.recordingGen = e.recordingGeneration()
	return e
}

// recordingGeneration moves whenever a recording gate of any dimension may
// have changed.
func (e *Engine) recordingGeneration() uint64 {
	return e.classes.RecordingGeneration() + e.threads.RecordingGeneration() +
		e.objects.RecordingGeneration() + e.types.RecordingGeneration()
}

func (e *Engine) label(h registry.Handle) string {
	if i, ok := e.info[h]; ok && i.name != "" {
		return i.name
	}
	return h.String()
}

func (e *Engine) Mode() Mode {
	return e.mode
}

// LivePolicy returns the policy gating live mode connections.
func (e *Engine) LivePolicy() Policy {
	return e.live
}

func (e *Engine) Edges() *edges.Table {
	return e.edges
}

func (e *Engine) Classes() *counter.Counter[registry.Class] {
	return e.classes
}

func (e *Engine) Threads() *counter.Counter[registry.Handle] {
	return e.threads
}

func (e *Engine) Objects() *counter.Counter[registry.Handle] {
	return e.objects
}

func (e *Engine) ConnectionTypes() *counter.Counter[registry.ConnectionType] {
	return e.types
}

// Dimension returns the counter of dimension d.
func (e *Engine) Dimension(d counter.Dimension) counter.Table {
	switch d {
	case counter.Class:
		return e.classes
	case counter.Thread:
		return e.threads
	case counter.Object:
		return e.objects
	case counter.ConnectionType:
		return e.types
	default:
		return nil
	}
}

// SetDefaults changes the gates of keys first seen from now on, in every
// dimension.
func (e *Engine) SetDefaults(d counter.Defaults) {
	e.classes.SetDefaults(d)
	e.threads.SetDefaults(d)
	e.objects.SetDefaults(d)
	e.types.SetDefaults(d)
}

// EdgeRow is the displayable state of one edge.
type EdgeRow struct {
	Sender         registry.Handle
	Receiver       registry.Handle
	SenderLabel    string
	ReceiverLabel  string
	SenderThread   registry.Handle
	ReceiverThread registry.Handle
	// Thread labels are empty for threads not yet seen
	SenderThreadLabel   string
	ReceiverThreadLabel string
	Weight              int
	Visible             bool
}

// EdgeRow describes the edge in row.
func (e *Engine) EdgeRow(row int) EdgeRow {
	edge := e.edges.At(row)
	r := EdgeRow{
		Sender:         edge.Sender,
		Receiver:       edge.Receiver,
		SenderLabel:    e.label(edge.Sender),
		ReceiverLabel:  e.label(edge.Receiver),
		SenderThread:   e.threadOf(edge.Sender),
		ReceiverThread: e.threadOf(edge.Receiver),
		Weight:         edge.Weight,
		Visible:        e.visible(edge.Sender) && e.visible(edge.Receiver),
	}
	if r.SenderThread != 0 {
		r.SenderThreadLabel = e.label(r.SenderThread)
	}
	if r.ReceiverThread != 0 {
		r.ReceiverThreadLabel = e.label(r.ReceiverThread)
	}
	return r
}

// EdgeVisible reports whether both endpoints of the edge in row pass the
// object, class and thread visibility gates.
func (e *Engine) EdgeVisible(row int) bool {
	edge := e.edges.At(row)
	return e.visible(edge.Sender) && e.visible(edge.Receiver)
}

func (e *Engine) threadOf(h registry.Handle) registry.Handle {
	return e.info[h].thread
}

func (e *Engine) visible(h registry.Handle) bool {
	if !e.objects.IsVisible(h) {
		return false
	}
	i, ok := e.info[h]
	if !ok {
		return true
	}
	return e.classes.IsVisible(i.class) && e.threads.IsVisible(i.thread)
}

// Telemetry is a snapshot of the engine's run state and buffer accounting.
type Telemetry struct {
	Mode         Mode
	State        State
	SamplingRate float64
	Period       time.Duration
	BufferSize   int
	BufferUsage  int
	Overruns     int
	Edges        int
	QueueDepth   int
	LastPass     time.Time
	PassDuration time.Duration
}

func (e *Engine) Telemetry() Telemetry {
	return Telemetry{
		Mode:         e.mode,
		State:        e.state,
		SamplingRate: e.rate,
		Period:       e.period,
		BufferSize:   e.bufferSize,
		BufferUsage:  e.BufferUsage(),
		Overruns:     e.overruns,
		Edges:        e.edges.Len(),
		QueueDepth:   e.queue.Len(),
		LastPass:     e.lastPass,
		PassDuration: e.passTiming,
	}
}

func (e *Engine) State() State {
	return e.state
}

func (e *Engine) SamplingRate() float64 {
	return e.rate
}

// Period is the sampling tick period derived from the sampling rate.
func (e *Engine) Period() time.Duration {
	return e.period
}

func (e *Engine) BufferSize() int {
	return e.bufferSize
}

// BufferUsage is the edge count as a percentage of the buffer size.
func (e *Engine) BufferUsage() int {
	return e.edges.Len() * 100 / e.bufferSize
}

// Overruns counts passes that ended with more edges than the buffer size
// since the last Clear.
func (e *Engine) Overruns() int {
	return e.overruns
}

// SetSamplingRate sets the sampling rate in ticks per second. Rates outside
// (0, 100) are ignored. A running timer picks up the new period at once.
func (e *Engine) SetSamplingRate(rate float64) {
	if !validRate(rate) {
		log.Debugf("ignoring sampling rate %v", rate)
		return
	}
	e.setRate(rate)
	if e.state == Started && e.mode == ModeSampling {
		e.stopTicking()
		e.startTicking()
	}
}

// validRate reports whether rate is within (0, 100). NaN is not.
func validRate(rate float64) bool {
	return rate > 0 && rate < 100
}

func (e *Engine) setRate(rate float64) {
	e.rate = rate
	e.period = time.Duration(math.Round(1000/rate)) * time.Millisecond
}

// SetBufferSize sets the edge count BufferUsage treats as full. Sizes below
// one are ignored.
func (e *Engine) SetBufferSize(size int) {
	if size < 1 {
		log.Debugf("ignoring buffer size %d", size)
		return
	}
	e.bufferSize = size
}

// AfterPass registers fn to run after every sampling pass or live drain,
// once all change notifications of the pass have been delivered.
func (e *Engine) AfterPass(fn func()) (cancel func()) {
	e.afterPass = append(e.afterPass, fn)
	i := len(e.afterPass) - 1
	return func() {
		if i < len(e.afterPass) {
			e.afterPass[i] = nil
		}
	}
}
