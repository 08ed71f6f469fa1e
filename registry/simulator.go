package registry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// DefaultClasses are the meta classes the Simulator instantiates when none
// are configured.
var DefaultClasses = []Class{"QObject", "QTimer", "QAction", "QAbstractItemModel", "QWidget"}

// Simulator churns a MemRegistry: it creates and destroys objects and
// connects and disconnects them at random. It stands in for a real
// inspected process in the command line tools and in tests.
type Simulator struct {
	reg     *MemRegistry
	rnd     *rand.Rand
	classes []Class
	threads []Handle
	objects []Handle

	// MaxObjects bounds the number of non-thread objects alive at once.
	MaxObjects int
}

// NewSimulator creates threads thread objects in reg. The same seed always
// produces the same sequence of mutations.
func NewSimulator(reg *MemRegistry, seed int64, threads int, classes []Class) *Simulator {
	if threads < 1 {
		threads = 1
	}
	if len(classes) == 0 {
		classes = DefaultClasses
	}
	s := &Simulator{
		reg:        reg,
		rnd:        rand.New(rand.NewSource(seed)),
		classes:    classes,
		MaxObjects: 64,
	}
	for i := 0; i < threads; i++ {
		name := "main"
		if i > 0 {
			name = fmt.Sprintf("worker-%d", i)
		}
		s.threads = append(s.threads, reg.AddThread(name))
	}
	return s
}

// Threads returns the simulated thread objects.
func (s *Simulator) Threads() []Handle {
	return s.threads
}

// Objects returns the simulated non-thread objects that are still alive.
func (s *Simulator) Objects() []Handle {
	return s.objects
}

// Populate creates n objects and roughly two connections per object.
func (s *Simulator) Populate(n int) {
	for i := 0; i < n; i++ {
		s.create()
	}
	for i := 0; i < 2*n; i++ {
		s.connect()
	}
}

// Step applies one random mutation.
func (s *Simulator) Step() {
	switch r := s.rnd.Intn(10); {
	case r < 3 || len(s.objects) < 2:
		if len(s.objects) < s.MaxObjects {
			s.create()
		} else {
			s.destroy()
		}
	case r < 4:
		s.destroy()
	case r < 8:
		s.connect()
	default:
		s.disconnect()
	}
}

// Run calls Step every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Step()
		}
	}
}

func (s *Simulator) create() {
	class := s.classes[s.rnd.Intn(len(s.classes))]
	thread := s.threads[s.rnd.Intn(len(s.threads))]
	name := fmt.Sprintf("%s#%d", class, len(s.objects)+1)
	if h, err := s.reg.AddObject(class, thread, name); err == nil {
		s.objects = append(s.objects, h)
	}
}

func (s *Simulator) destroy() {
	if len(s.objects) == 0 {
		return
	}
	i := s.rnd.Intn(len(s.objects))
	h := s.objects[i]
	s.objects = append(s.objects[:i], s.objects[i+1:]...)
	s.reg.Destroy(h)
}

func (s *Simulator) pair() (Handle, Handle, bool) {
	if len(s.objects) < 2 {
		return 0, 0, false
	}
	a := s.objects[s.rnd.Intn(len(s.objects))]
	b := s.objects[s.rnd.Intn(len(s.objects))]
	return a, b, a != b
}

func (s *Simulator) connect() {
	if sender, receiver, ok := s.pair(); ok {
		t := ConnectionTypes[s.rnd.Intn(len(ConnectionTypes))]
		s.reg.Connect(sender, receiver, t)
	}
}

func (s *Simulator) disconnect() {
	if len(s.objects) == 0 {
		return
	}
	sender := s.objects[s.rnd.Intn(len(s.objects))]

	s.reg.mu.Lock()
	conns := s.reg.Outbound(sender)
	s.reg.mu.Unlock()

	if len(conns) == 0 {
		return
	}
	c := conns[s.rnd.Intn(len(conns))]
	s.reg.Disconnect(sender, c.Receiver, c.Type)
}
