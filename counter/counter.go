// Package counter implements the dimensional counters: tally tables over
// one classification axis (class, thread, object or connection type) that
// also carry the user's recording and visibility gates for each key.
package counter

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/CrimsonAS/signalgraph/internal/invariant"
	"github.com/CrimsonAS/signalgraph/model"
)

var log = commonlog.GetLogger("signalgraph.counter")

// Dimension is the axis a counter classifies by.
type Dimension int

const (
	Class Dimension = iota
	Thread
	Object
	ConnectionType
)

// Dimensions lists every dimension.
var Dimensions = []Dimension{Class, Thread, Object, ConnectionType}

func (d Dimension) String() string {
	switch d {
	case Class:
		return "class"
	case Thread:
		return "thread"
	case Object:
		return "object"
	case ConnectionType:
		return "connectionType"
	default:
		return fmt.Sprintf("Dimension(%d)", int(d))
	}
}

// ParseDimension is the inverse of Dimension.String.
func ParseDimension(s string) (Dimension, error) {
	for _, d := range Dimensions {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown dimension %q", s)
}

func (d Dimension) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Dimension) UnmarshalText(text []byte) error {
	parsed, err := ParseDimension(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Defaults are the gate values of newly tracked keys.
type Defaults struct {
	Recording bool
	Visible   bool
}

// Row is the displayable state of one key.
type Row struct {
	Label     string
	Count     int
	Recording bool
	Visible   bool
}

// Table is the key-type independent surface of a Counter, used by
// controllers and display sinks.
type Table interface {
	Dimension() Dimension
	Len() int
	Row(i int) Row
	Enabled() bool
	SetEnabled(enabled bool)
	RecordAll()
	RecordNone()
	ShowAll()
	ShowNone()
	SetRecordingAt(row int, recording bool)
	SetVisibleAt(row int, visible bool)
	Subscribe(o model.Observer) (cancel func())
}

type entry[K comparable] struct {
	key       K
	count     int
	recording bool
	visible   bool
}

// Counter tallies live occurrences per key and holds each key's gates.
// Keys are kept in the order they were first tracked, which is also their
// row order. A key stays present at count zero until it is forgotten.
//
// Counter is not safe for concurrent use.
type Counter[K comparable] struct {
	dim      Dimension
	label    func(K) string
	defaults Defaults
	enabled  bool
	// recordingGen moves on every change that can alter IsRecording.
	recordingGen uint64

	index   map[K]int
	entries []*entry[K]

	observers model.Fanout
}

var _ Table = (*Counter[int])(nil)

// New creates an enabled counter. label renders keys for display; when nil,
// keys are formatted with fmt.
func New[K comparable](dim Dimension, defaults Defaults, label func(K) string) *Counter[K] {
	if label == nil {
		label = func(k K) string { return fmt.Sprint(k) }
	}
	return &Counter[K]{
		dim:      dim,
		label:    label,
		defaults: defaults,
		enabled:  true,
		index:    make(map[K]int),
	}
}

func (c *Counter[K]) Dimension() Dimension {
	return c.dim
}

func (c *Counter[K]) Subscribe(o model.Observer) (cancel func()) {
	return c.observers.Subscribe(o)
}

func (c *Counter[K]) Len() int {
	return len(c.entries)
}

// Keys returns the tracked keys in row order.
func (c *Counter[K]) Keys() []K {
	keys := make([]K, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.key
	}
	return keys
}

func (c *Counter[K]) Row(i int) Row {
	e := c.entries[i]
	return Row{
		Label:     c.label(e.key),
		Count:     e.count,
		Recording: c.enabled && e.recording || !c.enabled,
		Visible:   c.enabled && e.visible || !c.enabled,
	}
}

// RowOf returns the row of key, or -1.
func (c *Counter[K]) RowOf(key K) int {
	if i, ok := c.index[key]; ok {
		return i
	}
	return -1
}

func (c *Counter[K]) Has(key K) bool {
	_, ok := c.index[key]
	return ok
}

// Count returns the live count of key, zero if untracked.
func (c *Counter[K]) Count(key K) int {
	if i, ok := c.index[key]; ok {
		return c.entries[i].count
	}
	return 0
}

// Track makes key present with the default gates. It reports whether key
// was newly added.
func (c *Counter[K]) Track(key K) bool {
	if _, ok := c.index[key]; ok {
		return false
	}
	c.index[key] = len(c.entries)
	c.entries = append(c.entries, &entry[K]{
		key:       key,
		recording: c.defaults.Recording,
		visible:   c.defaults.Visible,
	})
	c.observers.Inserted(len(c.entries)-1, 1)
	return true
}

// Forget removes key and its gates entirely.
func (c *Counter[K]) Forget(key K) {
	i, ok := c.index[key]
	if !ok {
		return
	}
	delete(c.index, key)
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	for j := i; j < len(c.entries); j++ {
		c.index[c.entries[j].key] = j
	}
	c.observers.Removed(i, 1)
}

// Increment tracks key if needed and adds one to its count.
func (c *Counter[K]) Increment(key K) {
	i, ok := c.index[key]
	if !ok {
		// Insert with the count already in place, so observers see one row
		// insertion and nothing else.
		c.index[key] = len(c.entries)
		c.entries = append(c.entries, &entry[K]{
			key:       key,
			count:     1,
			recording: c.defaults.Recording,
			visible:   c.defaults.Visible,
		})
		c.observers.Inserted(len(c.entries)-1, 1)
		return
	}
	c.entries[i].count++
	c.observers.Updated(i)
}

// Decrement subtracts one from the count of key. Decrementing an untracked
// key or a zero count is an invariant violation and leaves the counter
// unchanged.
func (c *Counter[K]) Decrement(key K) {
	i, ok := c.index[key]
	if !invariant.Check(ok, "%s counter: decrement of untracked key %s", c.dim, c.label(key)) {
		return
	}
	e := c.entries[i]
	if !invariant.Check(e.count > 0, "%s counter: decrement below zero for %s", c.dim, c.label(key)) {
		return
	}
	e.count--
	c.observers.Updated(i)
}

// Reset zeroes every count but keeps keys and gates.
func (c *Counter[K]) Reset() {
	for _, e := range c.entries {
		e.count = 0
	}
	c.observers.Reset()
}

func (c *Counter[K]) Enabled() bool {
	return c.enabled
}

// SetEnabled switches discrimination on this dimension on or off. A
// disabled counter reports every key as recording and visible.
func (c *Counter[K]) SetEnabled(enabled bool) {
	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	c.recordingGen++
	log.Debugf("%s counter enabled: %t", c.dim, enabled)
	c.observers.Reset()
}

// IsRecording reports the recording gate of key. Untracked keys report the
// default.
func (c *Counter[K]) IsRecording(key K) bool {
	if !c.enabled {
		return true
	}
	if i, ok := c.index[key]; ok {
		return c.entries[i].recording
	}
	return c.defaults.Recording
}

// IsVisible reports the visibility gate of key. Untracked keys report the
// default.
func (c *Counter[K]) IsVisible(key K) bool {
	if !c.enabled {
		return true
	}
	if i, ok := c.index[key]; ok {
		return c.entries[i].visible
	}
	return c.defaults.Visible
}

// SetRecording sets the recording gate of key, tracking it if needed.
func (c *Counter[K]) SetRecording(key K, recording bool) {
	c.Track(key)
	c.SetRecordingAt(c.index[key], recording)
}

// SetVisible sets the visibility gate of key, tracking it if needed.
func (c *Counter[K]) SetVisible(key K, visible bool) {
	c.Track(key)
	c.SetVisibleAt(c.index[key], visible)
}

func (c *Counter[K]) SetRecordingAt(row int, recording bool) {
	if row < 0 || row >= len(c.entries) {
		return
	}
	if e := c.entries[row]; e.recording != recording {
		e.recording = recording
		c.recordingGen++
		c.observers.Updated(row)
	}
}

func (c *Counter[K]) SetVisibleAt(row int, visible bool) {
	if row < 0 || row >= len(c.entries) {
		return
	}
	if e := c.entries[row]; e.visible != visible {
		e.visible = visible
		c.observers.Updated(row)
	}
}

// RecordAll turns recording on for every key, including keys tracked later.
func (c *Counter[K]) RecordAll() {
	c.setAllRecording(true)
}

// RecordNone turns recording off for every key, including keys tracked later.
func (c *Counter[K]) RecordNone() {
	c.setAllRecording(false)
}

// ShowAll makes every key visible, including keys tracked later.
func (c *Counter[K]) ShowAll() {
	c.setAllVisible(true)
}

// ShowNone hides every key, including keys tracked later.
func (c *Counter[K]) ShowNone() {
	c.setAllVisible(false)
}

func (c *Counter[K]) setAllRecording(recording bool) {
	if c.defaults.Recording != recording {
		c.defaults.Recording = recording
		c.recordingGen++
	}
	for i := range c.entries {
		c.SetRecordingAt(i, recording)
	}
}

func (c *Counter[K]) setAllVisible(visible bool) {
	c.defaults.Visible = visible
	for i := range c.entries {
		c.SetVisibleAt(i, visible)
	}
}

// SetDefaults replaces the gates used for keys tracked from now on.
func (c *Counter[K]) SetDefaults(d Defaults) {
	if c.defaults.Recording != d.Recording {
		c.recordingGen++
	}
	c.defaults = d
}

// RecordingGeneration changes whenever IsRecording may have started to
// answer differently for some key. Count changes leave it alone.
func (c *Counter[K]) RecordingGeneration() uint64 {
	return c.recordingGen
}
