package model

import "fmt"

// Kind identifies a notification.
type Kind int

const (
	KindReset Kind = iota
	KindInserted
	KindRemoved
	KindUpdated
)

func (k Kind) String() string {
	switch k {
	case KindReset:
		return "reset"
	case KindInserted:
		return "insert"
	case KindRemoved:
		return "remove"
	case KindUpdated:
		return "update"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is one recorded notification. Count is 1 for updates and 0 for
// resets.
type Event struct {
	Kind  Kind
	Start int
	Count int
}

func (e Event) String() string {
	return fmt.Sprintf("%s %d+%d", e.Kind, e.Start, e.Count)
}

// Recorder is an Observer that keeps every notification it receives. It is
// used to count churn between passes and in tests.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Reset() {
	r.Events = append(r.Events, Event{Kind: KindReset})
}

func (r *Recorder) Inserted(start, count int) {
	r.Events = append(r.Events, Event{KindInserted, start, count})
}

func (r *Recorder) Removed(start, count int) {
	r.Events = append(r.Events, Event{KindRemoved, start, count})
}

func (r *Recorder) Updated(row int) {
	r.Events = append(r.Events, Event{KindUpdated, row, 1})
}

// Count returns how many recorded events are of kind k.
func (r *Recorder) Count(k Kind) int {
	n := 0
	for _, e := range r.Events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Clear forgets all recorded events.
func (r *Recorder) Clear() {
	r.Events = r.Events[:0]
}
