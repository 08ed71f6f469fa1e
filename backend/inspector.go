package backend

import (
	"github.com/CrimsonAS/signalgraph/counter"
	"github.com/CrimsonAS/signalgraph/engine"
)

// Inspector publishes an engine to the client: its telemetry as
// properties, its tables as models, and its controls as methods. It is
// intended as the connection's RootObject.
//
// Like every object, the Inspector must only be used from the goroutine
// that calls Connection.Process, which is also the one driving the engine.
type Inspector struct {
	QObject

	Mode         string
	State        string
	LivePolicy   string
	SamplingRate float64
	BufferSize   int
	BufferUsage  int
	Overruns     int
	EdgeCount    int
	QueueDepth   int

	Edges           *EdgeModel
	Classes         *DimensionModel
	Threads         *DimensionModel
	Objects         *DimensionModel
	ConnectionTypes *DimensionModel

	engine *engine.Engine
}

// NewInspector creates an Inspector for e and subscribes its models to the
// engine's tables. Telemetry is refreshed after every engine pass.
func NewInspector(e *engine.Engine) *Inspector {
	i := &Inspector{
		Edges:           &EdgeModel{engine: e},
		Classes:         &DimensionModel{table: e.Classes()},
		Threads:         &DimensionModel{table: e.Threads()},
		Objects:         &DimensionModel{table: e.Objects()},
		ConnectionTypes: &DimensionModel{table: e.ConnectionTypes()},
		engine:          e,
	}
	e.Edges().Subscribe(i.Edges)
	for _, m := range i.dimensions() {
		m.table.Subscribe(m)
		m.Dimension = m.table.Dimension().String()
		m.Enabled = m.table.Enabled()
	}
	e.AfterPass(i.update)
	i.readTelemetry()
	return i
}

func (i *Inspector) dimensions() []*DimensionModel {
	return []*DimensionModel{i.Classes, i.Threads, i.Objects, i.ConnectionTypes}
}

func (i *Inspector) dimension(d counter.Dimension) *DimensionModel {
	for _, m := range i.dimensions() {
		if m.table.Dimension() == d {
			return m
		}
	}
	log.Warningf("unknown dimension %s", d)
	return nil
}

// readTelemetry copies the engine state into the properties and reports
// whether anything changed.
func (i *Inspector) readTelemetry() bool {
	t := i.engine.Telemetry()
	next := *i
	next.Mode = t.Mode.String()
	next.State = t.State.String()
	next.LivePolicy = i.engine.LivePolicy().Name
	next.SamplingRate = t.SamplingRate
	next.BufferSize = t.BufferSize
	next.BufferUsage = t.BufferUsage
	next.Overruns = t.Overruns
	next.EdgeCount = t.Edges
	next.QueueDepth = t.QueueDepth
	if next == *i {
		return false
	}
	*i = next
	return true
}

func (i *Inspector) update() {
	// Passes may run before the connection starts
	if i.readTelemetry() && i.QObject != nil {
		i.ResetProperties()
	}
}

func (i *Inspector) Start() {
	i.engine.Start()
	i.update()
}

func (i *Inspector) Stop() {
	i.engine.Stop()
	i.update()
}

func (i *Inspector) Pause() {
	i.engine.Pause()
	i.update()
}

func (i *Inspector) Resume() {
	i.engine.Resume()
	i.update()
}

func (i *Inspector) Refresh() {
	i.engine.Refresh()
}

func (i *Inspector) Clear() {
	i.engine.Clear()
	i.update()
}

func (i *Inspector) SetSamplingRate(rate float64) {
	i.engine.SetSamplingRate(rate)
	i.update()
}

func (i *Inspector) SetBufferSize(size int) {
	i.engine.SetBufferSize(size)
	i.update()
}

func (i *Inspector) SetEnabled(dim counter.Dimension, enabled bool) {
	if m := i.dimension(dim); m != nil {
		m.table.SetEnabled(enabled)
		m.Enabled = enabled
		if m.QObject != nil {
			m.Changed("Enabled")
		}
		i.Edges.Reset()
	}
}

func (i *Inspector) RecordAll(dim counter.Dimension) {
	if m := i.dimension(dim); m != nil {
		m.table.RecordAll()
	}
}

func (i *Inspector) RecordNone(dim counter.Dimension) {
	if m := i.dimension(dim); m != nil {
		m.table.RecordNone()
	}
}

func (i *Inspector) ShowAll(dim counter.Dimension) {
	if m := i.dimension(dim); m != nil {
		m.table.ShowAll()
		i.Edges.Reset()
	}
}

func (i *Inspector) ShowNone(dim counter.Dimension) {
	if m := i.dimension(dim); m != nil {
		m.table.ShowNone()
		i.Edges.Reset()
	}
}

func (i *Inspector) SetRecording(dim counter.Dimension, row int, recording bool) {
	if m := i.dimension(dim); m != nil {
		m.table.SetRecordingAt(row, recording)
	}
}

func (i *Inspector) SetVisible(dim counter.Dimension, row int, visible bool) {
	if m := i.dimension(dim); m != nil {
		m.table.SetVisibleAt(row, visible)
		i.Edges.Reset()
	}
}

// EdgeModel publishes the engine's edge table.
type EdgeModel struct {
	Model
	engine *engine.Engine
}

type edgeRowData struct {
	Sender         string `json:"sender"`
	Receiver       string `json:"receiver"`
	SenderThread   string `json:"senderThread"`
	ReceiverThread string `json:"receiverThread"`
	Weight         int    `json:"weight"`
	Visible        bool   `json:"visible"`
}

func (m *EdgeModel) Row(row int) interface{} {
	r := m.engine.EdgeRow(row)
	return edgeRowData{
		Sender:         r.SenderLabel,
		Receiver:       r.ReceiverLabel,
		SenderThread:   r.SenderThreadLabel,
		ReceiverThread: r.ReceiverThreadLabel,
		Weight:         r.Weight,
		Visible:        r.Visible,
	}
}

func (m *EdgeModel) RowCount() int {
	return m.engine.Edges().Len()
}

func (m *EdgeModel) RoleNames() []string {
	return []string{"sender", "receiver", "senderThread", "receiverThread", "weight", "visible"}
}

// DimensionModel publishes one dimensional counter.
type DimensionModel struct {
	Model
	Dimension string
	Enabled   bool

	table counter.Table
}

type dimensionRowData struct {
	Label     string `json:"label"`
	Count     int    `json:"count"`
	Recording bool   `json:"recording"`
	Visible   bool   `json:"visible"`
}

func (m *DimensionModel) Row(row int) interface{} {
	r := m.table.Row(row)
	return dimensionRowData{r.Label, r.Count, r.Recording, r.Visible}
}

func (m *DimensionModel) RowCount() int {
	return m.table.Len()
}

func (m *DimensionModel) RoleNames() []string {
	return []string{"label", "count", "recording", "visible"}
}
