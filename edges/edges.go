// Package edges holds the deduplicated sender to receiver adjacency of the
// tracked connection graph.
package edges

import (
	"sort"

	"github.com/CrimsonAS/signalgraph/internal/invariant"
	"github.com/CrimsonAS/signalgraph/model"
	"github.com/CrimsonAS/signalgraph/registry"
)

// Edge is a tracked sender to receiver pair. Weight counts the connections
// it stands for and is at least one while the edge is in a table.
type Edge struct {
	Sender   registry.Handle
	Receiver registry.Handle
	Weight   int

	row int
}

// Table holds at most one Edge per (sender, receiver) pair. Edges are
// indexed by sender and by receiver, and also kept in insertion order,
// which defines their row numbers for observers.
//
// Table is not safe for concurrent use.
type Table struct {
	out  map[registry.Handle]map[registry.Handle]*Edge
	in   map[registry.Handle]map[registry.Handle]*Edge
	rows []*Edge

	observers model.Fanout
}

func New() *Table {
	return &Table{
		out: make(map[registry.Handle]map[registry.Handle]*Edge),
		in:  make(map[registry.Handle]map[registry.Handle]*Edge),
	}
}

func (t *Table) Subscribe(o model.Observer) (cancel func()) {
	return t.observers.Subscribe(o)
}

func (t *Table) Len() int {
	return len(t.rows)
}

// At returns a copy of the edge in row.
func (t *Table) At(row int) Edge {
	return *t.rows[row]
}

// Edges returns copies of every edge in row order.
func (t *Table) Edges() []Edge {
	out := make([]Edge, len(t.rows))
	for i, e := range t.rows {
		out[i] = *e
	}
	return out
}

func (t *Table) find(sender, receiver registry.Handle) *Edge {
	return t.out[sender][receiver]
}

func (t *Table) Has(sender, receiver registry.Handle) bool {
	return t.find(sender, receiver) != nil
}

// Weight returns the weight of the pair's edge, zero if absent.
func (t *Table) Weight(sender, receiver registry.Handle) int {
	if e := t.find(sender, receiver); e != nil {
		return e.Weight
	}
	return 0
}

// RowOf returns the row of the pair's edge, or -1.
func (t *Table) RowOf(sender, receiver registry.Handle) int {
	if e := t.find(sender, receiver); e != nil {
		return e.row
	}
	return -1
}

// Receivers returns the receivers of sender's edges in row order.
func (t *Table) Receivers(sender registry.Handle) []registry.Handle {
	edges := t.out[sender]
	if len(edges) == 0 {
		return nil
	}
	sorted := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].row < sorted[j].row })
	out := make([]registry.Handle, len(sorted))
	for i, e := range sorted {
		out[i] = e.Receiver
	}
	return out
}

// Add inserts the pair with weight one, or adds one to the weight of its
// existing edge. Self-loops are ignored. Add reports whether a new row was
// inserted.
func (t *Table) Add(sender, receiver registry.Handle) bool {
	if sender == receiver {
		return false
	}
	if e := t.find(sender, receiver); e != nil {
		e.Weight++
		t.observers.Updated(e.row)
		return false
	}

	e := &Edge{Sender: sender, Receiver: receiver, Weight: 1, row: len(t.rows)}
	link(t.out, sender, receiver, e)
	link(t.in, receiver, sender, e)
	t.rows = append(t.rows, e)
	t.observers.Inserted(e.row, 1)
	return true
}

// Remove subtracts one from the weight of the pair's edge and deletes the
// edge when its weight reaches zero. Absent pairs are ignored. Remove
// reports whether a row was deleted.
func (t *Table) Remove(sender, receiver registry.Handle) bool {
	e := t.find(sender, receiver)
	if e == nil {
		return false
	}
	e.Weight--
	if e.Weight > 0 {
		t.observers.Updated(e.row)
		return false
	}
	t.delete(e)
	return true
}

// RemoveAllFor deletes every edge sending from or to h, whatever its
// weight. Rows are removed one at a time in descending order, so rows
// announced later are still numbered as observers last saw them. It returns
// the number of edges removed.
func (t *Table) RemoveAllFor(h registry.Handle) int {
	var doomed []*Edge
	for _, e := range t.out[h] {
		doomed = append(doomed, e)
	}
	for _, e := range t.in[h] {
		doomed = append(doomed, e)
	}
	sort.Slice(doomed, func(i, j int) bool { return doomed[i].row > doomed[j].row })
	for _, e := range doomed {
		t.delete(e)
	}
	return len(doomed)
}

// Clear deletes every edge with a single reset notification.
func (t *Table) Clear() {
	t.out = make(map[registry.Handle]map[registry.Handle]*Edge)
	t.in = make(map[registry.Handle]map[registry.Handle]*Edge)
	t.rows = nil
	t.observers.Reset()
}

func (t *Table) delete(e *Edge) {
	row := e.row
	if !invariant.Check(row < len(t.rows) && t.rows[row] == e, "edge %s -> %s is not in row %d", e.Sender, e.Receiver, row) {
		return
	}
	unlink(t.out, e.Sender, e.Receiver)
	unlink(t.in, e.Receiver, e.Sender)
	t.rows = append(t.rows[:row], t.rows[row+1:]...)
	for i := row; i < len(t.rows); i++ {
		t.rows[i].row = i
	}
	t.observers.Removed(row, 1)
}

func link(idx map[registry.Handle]map[registry.Handle]*Edge, a, b registry.Handle, e *Edge) {
	m := idx[a]
	if m == nil {
		m = make(map[registry.Handle]*Edge)
		idx[a] = m
	}
	m[b] = e
}

func unlink(idx map[registry.Handle]map[registry.Handle]*Edge, a, b registry.Handle) {
	if m := idx[a]; m != nil {
		delete(m, b)
		if len(m) == 0 {
			delete(idx, a)
		}
	}
}
