package engine

import (
	"context"
	"sync"
)

type channelLocker struct {
	L    chan struct{}
	U    chan struct{}
	done chan struct{}
}

func newChannelLocker() *channelLocker {
	return &channelLocker{
		L:    make(chan struct{}),
		U:    make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (cl *channelLocker) Lock() {
	select {
	case cl.L <- struct{}{}:
	case <-cl.done:
	}
}

func (cl *channelLocker) Unlock() {
	select {
	case cl.U <- struct{}{}:
	case <-cl.done:
	}
}

// RunLockable executes Run in a separate goroutine and returns a
// sync.Locker, which can be used for mutually exclusive execution with
// Process. That is, locking guarantees that Process is not and will not run
// until unlocked.
//
// Every other method of Engine, and everything its observers touch, can be
// used safely while holding the lock.
//
// The returned channel receives ctx's error and closes once the loop has
// stopped. After that, Lock and Unlock return immediately.
func (e *Engine) RunLockable(ctx context.Context) (sync.Locker, <-chan error) {
	lock := newChannelLocker()
	errChannel := make(chan error, 1)

	go func() {
		defer close(errChannel)
		defer close(lock.done)
		for {
			select {
			case <-ctx.Done():
				errChannel <- ctx.Err()
				return
			case <-e.signal:
				e.Process()
			case <-lock.L:
				<-lock.U
			}
		}
	}()

	return lock, errChannel
}
