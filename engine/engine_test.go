package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/signalgraph/counter"
	"github.com/CrimsonAS/signalgraph/edges"
	"github.com/CrimsonAS/signalgraph/model"
	"github.com/CrimsonAS/signalgraph/registry"
)

// fixture is a registry with one thread T1 and two objects A and B of
// class C1 living on it.
type fixture struct {
	reg  *registry.MemRegistry
	eng  *Engine
	t1   registry.Handle
	a, b registry.Handle
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	reg := registry.NewMemRegistry()
	f := &fixture{reg: reg, t1: reg.AddThread("T1")}
	var err error
	f.a, err = reg.AddObject("C1", f.t1, "A")
	require.NoError(t, err)
	f.b, err = reg.AddObject("C1", f.t1, "B")
	require.NoError(t, err)
	f.eng = New(reg, opts)
	return f
}

func samplingOptions() Options {
	opts := DefaultOptions()
	opts.Mode = ModeSampling
	return opts
}

func liveOptions(p Policy) Options {
	opts := DefaultOptions()
	opts.Mode = ModeLive
	opts.LivePolicy = p
	return opts
}

// recordAll subscribes a recorder to the edge table and every counter.
func recordAll(e *Engine) *model.Recorder {
	rec := &model.Recorder{}
	e.Edges().Subscribe(rec)
	for _, d := range counter.Dimensions {
		e.Dimension(d).Subscribe(rec)
	}
	return rec
}

func TestBasicConnect(t *testing.T) {
	f := newFixture(t, samplingOptions())
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))

	f.eng.Refresh()

	assert.Equal(t, []edges.Edge{{Sender: f.a, Receiver: f.b, Weight: 1}}, f.eng.Edges().Edges())
	assert.Equal(t, 2, f.eng.Classes().Count("C1"))
	assert.Equal(t, 1, f.eng.Classes().Count(registry.ThreadClass))
	assert.Equal(t, 3, f.eng.Threads().Count(f.t1))
	assert.Equal(t, 1, f.eng.Objects().Count(f.a))
	assert.Equal(t, 1, f.eng.ConnectionTypes().Count(registry.DirectConnection))
	assert.Equal(t, 0, f.eng.ConnectionTypes().Count(registry.QueuedConnection))

	row := f.eng.EdgeRow(0)
	assert.Equal(t, "A", row.SenderLabel)
	assert.Equal(t, "B", row.ReceiverLabel)
	assert.Equal(t, f.t1, row.SenderThread)
	assert.Equal(t, f.t1, row.ReceiverThread)
	assert.True(t, row.Visible)
	assert.Equal(t, "T1", f.eng.Threads().Row(0).Label)
}

func TestGatedOut(t *testing.T) {
	f := newFixture(t, samplingOptions())
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))

	f.eng.Classes().SetRecording("C1", false)
	f.eng.Threads().SetRecording(f.t1, false)
	f.eng.Objects().RecordNone()
	f.eng.ConnectionTypes().SetRecording(registry.DirectConnection, false)

	f.eng.Refresh()
	assert.False(t, f.eng.Edges().Has(f.a, f.b))
	assert.Equal(t, 0, f.eng.Edges().Len())

	// Any single gate is enough under the sampling policy
	f.eng.ConnectionTypes().SetRecording(registry.DirectConnection, true)
	f.eng.Refresh()
	assert.True(t, f.eng.Edges().Has(f.a, f.b))

	f.eng.ConnectionTypes().SetRecording(registry.DirectConnection, false)
	f.eng.Refresh()
	assert.False(t, f.eng.Edges().Has(f.a, f.b))
}

func TestObjectDestroyed(t *testing.T) {
	f := newFixture(t, samplingOptions())
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	f.eng.Refresh()
	require.Equal(t, 1, f.eng.Edges().Len())

	f.reg.Destroy(f.a)
	f.eng.Refresh()

	assert.Equal(t, 0, f.eng.Edges().Len())
	assert.False(t, f.eng.Objects().Has(f.a))
	assert.Equal(t, 1, f.eng.Classes().Count("C1"))
	assert.Equal(t, 2, f.eng.Threads().Count(f.t1))
	assert.Equal(t, 0, f.eng.ConnectionTypes().Count(registry.DirectConnection))
}

func TestReceiverDestroyed(t *testing.T) {
	f := newFixture(t, samplingOptions())
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	require.NoError(t, f.reg.Connect(f.b, f.a, registry.QueuedConnection))
	f.eng.Refresh()
	require.Equal(t, 2, f.eng.Edges().Len())

	f.reg.Destroy(f.b)
	f.eng.Refresh()

	assert.Equal(t, 0, f.eng.Edges().Len())
	assert.Equal(t, 0, f.eng.ConnectionTypes().Count(registry.DirectConnection))
	assert.Equal(t, 0, f.eng.ConnectionTypes().Count(registry.QueuedConnection))
}

func TestThreadForgottenWithLastObject(t *testing.T) {
	f := newFixture(t, samplingOptions())
	worker := f.reg.AddThread("worker")
	c, err := f.reg.AddObject("C2", worker, "C")
	require.NoError(t, err)
	f.eng.Refresh()
	require.Equal(t, 2, f.eng.Threads().Count(worker))

	f.reg.Destroy(c)
	f.reg.Destroy(worker)
	f.eng.Refresh()

	assert.False(t, f.eng.Threads().Has(worker))
	// Classes stay listed without live instances
	assert.True(t, f.eng.Classes().Has("C2"))
	assert.Equal(t, 0, f.eng.Classes().Count("C2"))
}

func TestMoveToThread(t *testing.T) {
	f := newFixture(t, samplingOptions())
	worker := f.reg.AddThread("worker")
	f.eng.Refresh()
	require.Equal(t, 3, f.eng.Threads().Count(f.t1))

	require.NoError(t, f.reg.MoveToThread(f.a, worker))
	f.eng.Refresh()

	assert.Equal(t, 2, f.eng.Threads().Count(f.t1))
	assert.Equal(t, 2, f.eng.Threads().Count(worker))
	assert.Equal(t, 2, f.eng.Classes().Count("C1"))
}

func TestParallelConnectionsSampleAsOneReference(t *testing.T) {
	f := newFixture(t, samplingOptions())
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.QueuedConnection))

	f.eng.Refresh()
	f.eng.Refresh()
	assert.Equal(t, 1, f.eng.Edges().Weight(f.a, f.b))
	assert.Equal(t, 1, f.eng.ConnectionTypes().Count(registry.QueuedConnection))

	require.True(t, f.reg.Disconnect(f.a, f.b, registry.DirectConnection))
	f.eng.Refresh()
	assert.Equal(t, 1, f.eng.Edges().Weight(f.a, f.b))
	assert.Equal(t, 0, f.eng.ConnectionTypes().Count(registry.DirectConnection))

	require.True(t, f.reg.Disconnect(f.a, f.b, registry.QueuedConnection))
	f.eng.Refresh()
	assert.False(t, f.eng.Edges().Has(f.a, f.b))
}

func TestSelfConnectionIgnored(t *testing.T) {
	f := newFixture(t, samplingOptions())
	require.NoError(t, f.reg.Connect(f.a, f.a, registry.DirectConnection))

	f.eng.Refresh()
	assert.Equal(t, 0, f.eng.Edges().Len())
	assert.Equal(t, 1, f.eng.ConnectionTypes().Count(registry.DirectConnection))
}

func TestSamplingNoOpStability(t *testing.T) {
	f := newFixture(t, samplingOptions())
	worker := f.reg.AddThread("worker")
	c, err := f.reg.AddObject("C2", worker, "C")
	require.NoError(t, err)
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	require.NoError(t, f.reg.Connect(f.a, c, registry.QueuedConnection))
	require.NoError(t, f.reg.Connect(c, f.b, registry.UniqueAutoConnection))
	require.NoError(t, f.reg.Connect(c, f.b, registry.DirectConnection))
	f.eng.Threads().SetRecording(worker, false)

	f.eng.Refresh()
	before := f.eng.Edges().Edges()
	require.Len(t, before, 3)

	rec := recordAll(f.eng)
	f.eng.Refresh()
	assert.Empty(t, rec.Events)
	assert.Equal(t, before, f.eng.Edges().Edges())
}

func TestRateClamp(t *testing.T) {
	f := newFixture(t, samplingOptions())
	require.Equal(t, 10.0, f.eng.SamplingRate())
	require.Equal(t, 100*time.Millisecond, f.eng.Period())

	for _, rate := range []float64{0, 100, -5, 250, math.NaN()} {
		f.eng.SetSamplingRate(rate)
		assert.Equal(t, 10.0, f.eng.SamplingRate(), "rate %v", rate)
		assert.Equal(t, 100*time.Millisecond, f.eng.Period(), "rate %v", rate)
	}

	f.eng.SetSamplingRate(5)
	assert.Equal(t, 5.0, f.eng.SamplingRate())
	assert.Equal(t, 200*time.Millisecond, f.eng.Period())

	f.eng.SetSamplingRate(3)
	assert.Equal(t, 333*time.Millisecond, f.eng.Period())
}

func TestBufferAccounting(t *testing.T) {
	f := newFixture(t, samplingOptions())
	c, err := f.reg.AddObject("C1", f.t1, "C")
	require.NoError(t, err)
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	require.NoError(t, f.reg.Connect(f.b, c, registry.DirectConnection))
	require.NoError(t, f.reg.Connect(c, f.a, registry.DirectConnection))

	f.eng.SetBufferSize(0)
	assert.Equal(t, 1000, f.eng.BufferSize())
	f.eng.SetBufferSize(4)
	f.eng.Refresh()
	assert.Equal(t, 75, f.eng.BufferUsage())
	assert.Equal(t, 0, f.eng.Overruns())

	f.eng.SetBufferSize(2)
	f.eng.Refresh()
	f.eng.Refresh()
	assert.Equal(t, 150, f.eng.BufferUsage())
	assert.Equal(t, 2, f.eng.Overruns())

	f.eng.Clear()
	assert.Equal(t, 0, f.eng.Overruns())
	assert.Equal(t, 0, f.eng.Edges().Len())
	assert.Equal(t, 0, f.eng.BufferUsage())
}

func TestClearKeepsGatesAndState(t *testing.T) {
	f := newFixture(t, samplingOptions())
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	f.eng.Classes().SetVisible("C1", false)
	f.eng.Start()
	defer f.eng.Stop()
	f.eng.Refresh()

	rec := recordAll(f.eng)
	f.eng.Clear()

	// One reset per table
	assert.Equal(t, 5, rec.Count(model.KindReset))
	assert.Equal(t, len(rec.Events), rec.Count(model.KindReset))
	assert.Equal(t, Started, f.eng.State())
	assert.True(t, f.eng.Classes().Has("C1"))
	assert.Equal(t, 0, f.eng.Classes().Count("C1"))
	assert.False(t, f.eng.Classes().IsVisible("C1"))

	// Counting starts over on the next pass
	f.eng.Refresh()
	assert.Equal(t, 2, f.eng.Classes().Count("C1"))
	assert.Equal(t, 1, f.eng.Objects().Count(f.a))
	assert.Equal(t, 1, f.eng.ConnectionTypes().Count(registry.DirectConnection))
	assert.Equal(t, 1, f.eng.Edges().Len())
}

func TestStateMachine(t *testing.T) {
	type step struct {
		op   string
		want State
	}
	tests := []struct {
		name  string
		steps []step
	}{
		{"pause while stopped", []step{{"pause", Stopped}, {"resume", Stopped}}},
		{"start twice", []step{{"start", Started}, {"start", Started}}},
		{"pause and resume", []step{{"start", Started}, {"pause", Paused}, {"pause", Paused}, {"resume", Started}}},
		{"resume while started", []step{{"start", Started}, {"resume", Started}}},
		{"stop from paused", []step{{"start", Started}, {"pause", Paused}, {"stop", Stopped}, {"resume", Stopped}}},
		{"restart", []step{{"start", Started}, {"stop", Stopped}, {"start", Started}}},
		{"refresh and clear keep state", []step{{"start", Started}, {"pause", Paused}, {"refresh", Paused}, {"clear", Paused}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, samplingOptions())
			defer f.eng.Stop()
			ops := map[string]func(){
				"start":   f.eng.Start,
				"stop":    f.eng.Stop,
				"pause":   f.eng.Pause,
				"resume":  f.eng.Resume,
				"refresh": f.eng.Refresh,
				"clear":   f.eng.Clear,
			}
			for i, s := range tt.steps {
				ops[s.op]()
				assert.Equal(t, s.want, f.eng.State(), "step %d: %s", i, s.op)
			}
		})
	}
}

func TestProcessOnlyWhileStarted(t *testing.T) {
	f := newFixture(t, samplingOptions())
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))

	f.eng.Process()
	assert.Equal(t, 0, f.eng.Edges().Len())

	f.eng.Start()
	f.eng.Pause()
	f.eng.Process()
	assert.Equal(t, 0, f.eng.Edges().Len())

	f.eng.Resume()
	f.eng.Process()
	assert.Equal(t, 1, f.eng.Edges().Len())
	f.eng.Stop()
}

func TestGateIdempotence(t *testing.T) {
	f := newFixture(t, samplingOptions())
	f.eng.Refresh()

	for _, d := range counter.Dimensions {
		tbl := f.eng.Dimension(d)
		require.NotNil(t, tbl, d.String())
		require.NotZero(t, tbl.Len(), d.String())

		check := func(apply func(), recording, visible bool) {
			apply()
			apply()
			for i := 0; i < tbl.Len(); i++ {
				assert.Equal(t, recording, tbl.Row(i).Recording, "%s row %d", d, i)
				assert.Equal(t, visible, tbl.Row(i).Visible, "%s row %d", d, i)
			}
		}
		check(tbl.RecordNone, false, true)
		check(tbl.ShowNone, false, false)
		check(tbl.RecordAll, true, false)
		check(tbl.ShowAll, true, true)
	}
}

func TestEdgeVisibility(t *testing.T) {
	f := newFixture(t, samplingOptions())
	worker := f.reg.AddThread("worker")
	c, err := f.reg.AddObject("C2", worker, "C")
	require.NoError(t, err)
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	require.NoError(t, f.reg.Connect(f.a, c, registry.DirectConnection))
	f.eng.Refresh()

	ab := f.eng.Edges().RowOf(f.a, f.b)
	ac := f.eng.Edges().RowOf(f.a, c)
	assert.True(t, f.eng.EdgeVisible(ab))
	assert.True(t, f.eng.EdgeVisible(ac))

	f.eng.Threads().SetVisible(worker, false)
	assert.True(t, f.eng.EdgeVisible(ab))
	assert.False(t, f.eng.EdgeVisible(ac))

	f.eng.Objects().SetVisible(f.b, false)
	assert.False(t, f.eng.EdgeVisible(ab))
	assert.False(t, f.eng.EdgeRow(ab).Visible)

	// A disabled counter no longer hides anything
	f.eng.Threads().SetEnabled(false)
	f.eng.Objects().SetEnabled(false)
	assert.True(t, f.eng.EdgeVisible(ab))
	assert.True(t, f.eng.EdgeVisible(ac))
}

func TestLiveObservedPolicy(t *testing.T) {
	f := newFixture(t, liveOptions(ObservedLivePolicy))
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	f.eng.Start()
	defer f.eng.Stop()

	// Recording classes are excluded by the observed policy
	f.eng.Refresh()
	assert.Equal(t, 0, f.eng.Edges().Len())
	assert.Equal(t, 1, f.eng.ConnectionTypes().Count(registry.DirectConnection))
	assert.Equal(t, 2, f.eng.Classes().Count("C1"))

	f.eng.Classes().RecordNone()
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.QueuedConnection))
	f.eng.Refresh()
	assert.Equal(t, 2, f.eng.Edges().Weight(f.a, f.b))

	f.eng.Threads().SetRecording(f.t1, false)
	require.NoError(t, f.reg.Connect(f.b, f.a, registry.QueuedConnection))
	f.eng.Refresh()
	assert.False(t, f.eng.Edges().Has(f.b, f.a))
}

func TestLiveSymmetricPolicy(t *testing.T) {
	f := newFixture(t, liveOptions(SymmetricLivePolicy))
	f.eng.Start()
	defer f.eng.Stop()
	f.eng.Refresh()
	assert.Equal(t, 3, f.eng.Objects().Len())

	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.QueuedConnection))
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	f.eng.Refresh()
	assert.Equal(t, 3, f.eng.Edges().Weight(f.a, f.b))
	assert.Equal(t, 2, f.eng.ConnectionTypes().Count(registry.DirectConnection))

	require.True(t, f.reg.Disconnect(f.a, f.b, registry.DirectConnection))
	f.eng.Refresh()
	assert.Equal(t, 2, f.eng.Edges().Weight(f.a, f.b))
	assert.Equal(t, 1, f.eng.ConnectionTypes().Count(registry.DirectConnection))

	f.reg.Destroy(f.b)
	f.eng.Refresh()
	assert.Equal(t, 0, f.eng.Edges().Len())
	assert.Equal(t, 0, f.eng.ConnectionTypes().Count(registry.DirectConnection))
	assert.Equal(t, 0, f.eng.ConnectionTypes().Count(registry.QueuedConnection))
	assert.Equal(t, 1, f.eng.Classes().Count("C1"))
	assert.False(t, f.eng.Objects().Has(f.b))
}

func TestLiveNewObjects(t *testing.T) {
	f := newFixture(t, liveOptions(SymmetricLivePolicy))
	f.eng.Start()
	defer f.eng.Stop()
	f.eng.Refresh()

	c, err := f.reg.AddObject("C3", f.t1, "C")
	require.NoError(t, err)
	require.NoError(t, f.reg.Connect(c, f.a, registry.AutoConnection))
	assert.Equal(t, 1, f.eng.Telemetry().QueueDepth)

	f.eng.Refresh()
	assert.Equal(t, 1, f.eng.Classes().Count("C3"))
	assert.True(t, f.eng.Edges().Has(c, f.a))
	assert.Equal(t, 0, f.eng.Telemetry().QueueDepth)

	// Created and destroyed between drains: never counted
	d, err := f.reg.AddObject("C4", f.t1, "D")
	require.NoError(t, err)
	require.NoError(t, f.reg.Connect(d, f.a, registry.AutoConnection))
	f.reg.Destroy(d)
	f.eng.Refresh()
	assert.False(t, f.eng.Classes().Has("C4"))
	assert.False(t, f.eng.Objects().Has(d))
	assert.False(t, f.eng.Edges().Has(d, f.a))
}

func TestLiveRestartDoesNotDoubleCount(t *testing.T) {
	f := newFixture(t, liveOptions(SymmetricLivePolicy))
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.QueuedConnection))

	f.eng.Start()
	f.eng.Refresh()
	f.eng.Stop()

	// Stopped: notifications are not followed
	require.NoError(t, f.reg.Connect(f.b, f.a, registry.DirectConnection))
	assert.Equal(t, 0, f.eng.Telemetry().QueueDepth)

	f.eng.Start()
	defer f.eng.Stop()
	rec := recordAll(f.eng)
	f.eng.Refresh()

	assert.Equal(t, 2, f.eng.Edges().Weight(f.a, f.b))
	assert.Equal(t, 1, f.eng.Edges().Weight(f.b, f.a))
	assert.Equal(t, 2, f.eng.Classes().Count("C1"))
	assert.Equal(t, 2, f.eng.ConnectionTypes().Count(registry.DirectConnection))
	assert.Equal(t, 0, rec.Count(model.KindRemoved))
}

func TestLiveDestroyedWhileStopped(t *testing.T) {
	f := newFixture(t, liveOptions(SymmetricLivePolicy))
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	f.eng.Start()
	f.eng.Refresh()
	require.True(t, f.eng.Edges().Has(f.a, f.b))
	f.eng.Stop()

	// Nobody is listening when A goes away
	f.reg.Destroy(f.a)
	f.eng.Start()
	defer f.eng.Stop()
	f.eng.Refresh()

	assert.False(t, f.eng.Edges().Has(f.a, f.b))
	assert.Equal(t, 0, f.eng.Edges().Len())
	assert.False(t, f.eng.Objects().Has(f.a))
	assert.Equal(t, 1, f.eng.Classes().Count("C1"))
	assert.Equal(t, 0, f.eng.ConnectionTypes().Count(registry.DirectConnection))
}

func TestLiveRefreshWhileStopped(t *testing.T) {
	f := newFixture(t, liveOptions(SymmetricLivePolicy))
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))

	f.eng.Refresh()
	assert.Equal(t, Stopped, f.eng.State())
	assert.Equal(t, 1, f.eng.Edges().Weight(f.a, f.b))
	assert.Equal(t, 2, f.eng.Classes().Count("C1"))

	f.reg.Destroy(f.b)
	f.eng.Refresh()
	assert.Equal(t, 0, f.eng.Edges().Len())
	assert.False(t, f.eng.Objects().Has(f.b))
	assert.Equal(t, 1, f.eng.Classes().Count("C1"))
	assert.Equal(t, 0, f.eng.Telemetry().QueueDepth)
}

func TestLiveGateChangesReconcile(t *testing.T) {
	f := newFixture(t, liveOptions(ObservedLivePolicy))
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	f.eng.Start()
	defer f.eng.Stop()
	f.eng.Refresh()
	require.Equal(t, 0, f.eng.Edges().Len())

	// No registry event: the gate change alone brings the edge in
	f.eng.Classes().RecordNone()
	f.eng.Refresh()
	assert.Equal(t, 1, f.eng.Edges().Weight(f.a, f.b))

	f.eng.ConnectionTypes().SetRecording(registry.DirectConnection, false)
	f.eng.Refresh()
	assert.False(t, f.eng.Edges().Has(f.a, f.b))

	f.eng.ConnectionTypes().SetEnabled(false)
	f.eng.Refresh()
	assert.Equal(t, 1, f.eng.Edges().Weight(f.a, f.b))
	assert.Equal(t, 1, f.eng.ConnectionTypes().Count(registry.DirectConnection))

	// Visibility is not a recording gate
	rec := recordAll(f.eng)
	f.eng.Classes().ShowNone()
	f.eng.Refresh()
	assert.Equal(t, 0, rec.Count(model.KindInserted)+rec.Count(model.KindRemoved))
}

func TestLiveClearRecounts(t *testing.T) {
	f := newFixture(t, liveOptions(SymmetricLivePolicy))
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	f.eng.Start()
	defer f.eng.Stop()
	f.eng.Refresh()
	require.Equal(t, 1, f.eng.Edges().Weight(f.a, f.b))

	f.eng.Clear()
	assert.Equal(t, 0, f.eng.Edges().Len())
	assert.NotZero(t, f.eng.Telemetry().QueueDepth)

	f.eng.Refresh()
	assert.Equal(t, 1, f.eng.Edges().Weight(f.a, f.b))
	assert.Equal(t, 2, f.eng.Classes().Count("C1"))
	assert.Equal(t, 1, f.eng.ConnectionTypes().Count(registry.DirectConnection))
}

func TestLiveQueue(t *testing.T) {
	q := newLiveQueue()
	add := func(h registry.Handle) registry.Event { return registry.Event{Kind: registry.ObjectAdded, Object: h} }
	remove := func(h registry.Handle) registry.Event { return registry.Event{Kind: registry.ObjectRemoved, Object: h} }
	connect := func(s, r registry.Handle) registry.Event {
		return registry.Event{Kind: registry.ConnectionAdded, Object: s, Receiver: r}
	}

	q.push(add(1))
	q.push(add(2))
	q.push(add(1))
	q.push(connect(2, 1))
	q.push(connect(3, 1))
	q.push(remove(1))
	q.push(connect(1, 2))
	assert.Equal(t, 3, q.Len())

	removed, dirty := q.take()
	assert.Equal(t, []registry.Handle{1}, removed)
	assert.Equal(t, []registry.Handle{2, 3}, dirty)
	assert.Equal(t, 0, q.Len())

	q.push(remove(4))
	q.push(add(4))
	removed, dirty = q.take()
	assert.Empty(t, removed)
	assert.Equal(t, []registry.Handle{4}, dirty)
}

func TestRunLockable(t *testing.T) {
	f := newFixture(t, samplingOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lock, errs := f.eng.RunLockable(ctx)
	passed := make(chan struct{}, 1)

	lock.Lock()
	f.eng.AfterPass(func() {
		select {
		case passed <- struct{}{}:
		default:
		}
	})
	f.eng.SetSamplingRate(50)
	f.eng.Start()
	lock.Unlock()

	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))

	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case <-passed:
			lock.Lock()
			done = f.eng.Edges().Has(f.a, f.b)
			lock.Unlock()
		case <-deadline:
			t.Fatal("no pass saw the connection")
		}
	}

	lock.Lock()
	f.eng.Stop()
	lock.Unlock()

	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)

	// The loop is gone; locking no longer blocks
	lock.Lock()
	lock.Unlock()
}

func TestRunStopsWithContext(t *testing.T) {
	f := newFixture(t, samplingOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.eng.Run(ctx), context.DeadlineExceeded)
}

func TestAfterPassCancel(t *testing.T) {
	f := newFixture(t, samplingOptions())
	calls := 0
	cancel := f.eng.AfterPass(func() { calls++ })
	f.eng.Refresh()
	cancel()
	f.eng.Refresh()
	assert.Equal(t, 1, calls)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := samplingOptions()
	opts.Metrics = NewMetrics(reg)
	opts.BufferSize = 1

	f := newFixture(t, opts)
	require.NoError(t, f.reg.Connect(f.a, f.b, registry.DirectConnection))
	require.NoError(t, f.reg.Connect(f.b, f.a, registry.DirectConnection))
	f.eng.Refresh()
	f.reg.Destroy(f.b)
	f.eng.Refresh()

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		m := mf.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			values[mf.GetName()] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			values[mf.GetName()] = m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			values[mf.GetName()] = float64(m.GetHistogram().GetSampleCount())
		}
	}

	assert.Equal(t, 2.0, values["signalgraph_passes_total"])
	assert.Equal(t, 2.0, values["signalgraph_pass_duration_seconds"])
	assert.Equal(t, 0.0, values["signalgraph_edges"])
	assert.Equal(t, 1.0, values["signalgraph_buffer_overruns_total"])
	assert.Equal(t, 1.0, values["signalgraph_stale_handles_total"])
}
