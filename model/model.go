// Package model carries row-level change notifications from the engine's
// tables to their subscribers.
//
// The notification set mirrors the qbackend data model signals, so a
// backend model can subscribe to a table directly.
package model

// Observer receives change notifications from a table.
//
// Inserted rows are numbered as in the table after the insertion, removed
// rows as in the table before the removal. Reset means the whole table
// must be read again.
type Observer interface {
	Reset()
	Inserted(start, count int)
	Removed(start, count int)
	Updated(row int)
}

// Fanout delivers notifications to every subscribed Observer, in
// subscription order. The zero value is ready to use.
type Fanout struct {
	next      int
	observers []subscription
}

type subscription struct {
	id int
	o  Observer
}

// Subscribe adds o and returns a function that removes it again.
func (f *Fanout) Subscribe(o Observer) (cancel func()) {
	f.next++
	id := f.next
	f.observers = append(f.observers, subscription{id, o})
	return func() {
		for i, s := range f.observers {
			if s.id == id {
				f.observers = append(f.observers[:i:i], f.observers[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of subscribed observers.
func (f *Fanout) Len() int {
	return len(f.observers)
}

func (f *Fanout) Reset() {
	for _, s := range f.observers {
		s.o.Reset()
	}
}

func (f *Fanout) Inserted(start, count int) {
	for _, s := range f.observers {
		s.o.Inserted(start, count)
	}
}

func (f *Fanout) Removed(start, count int) {
	for _, s := range f.observers {
		s.o.Removed(start, count)
	}
}

func (f *Fanout) Updated(row int) {
	for _, s := range f.observers {
		s.o.Updated(row)
	}
}
