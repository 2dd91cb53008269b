package runtime

import (
	"context"
	"sync"
)

// CountLatch is released once it was incremented at least once and its
// count came back to zero, or when it is cancelled. A released latch is
// re-armed by the next increment.
type CountLatch struct {
	mu sync.Mutex

	count     int64
	activated bool
	cancelled bool
	closed    bool
	released  chan struct{}
}

func NewCountLatch() *CountLatch {
	return &CountLatch{released: make(chan struct{})}
}

func (l *CountLatch) Increment() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancelled {
		return
	}
	if l.closed {
		l.released = make(chan struct{})
		l.closed = false
	}
	l.count++
	l.activated = true
}

func (l *CountLatch) Decrement() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return
	}
	if l.count--; l.count == 0 && !l.closed {
		close(l.released)
		l.closed = true
	}
}

// Cancel releases the waiters, whatever the count is.
func (l *CountLatch) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cancelled = true
	if !l.closed {
		close(l.released)
		l.closed = true
	}
}

// Await blocks until the latch is released or the context is done.
func (l *CountLatch) Await(ctx context.Context) error {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()

	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *CountLatch) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *CountLatch) IsActivated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activated
}

func (l *CountLatch) IsCancelled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelled
}
