package trafficlight

import (
	"context"
	"sync"
)

// Mailbox is a single-slot queue shared by a producer and any number of
// receivers. Send overwrites a value that has not been received yet, so a
// slow receiver only ever sees the latest value. Receive blocks until a
// value is available and removes it; each sent value is delivered to at
// most one receiver.
//
// All methods are safe for concurrent use.
type Mailbox[T any] struct {
	mu     sync.Mutex
	cv     *sync.Cond
	value  T
	full   bool
	closed bool
}

func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{}
	m.cv = sync.NewCond(&m.mu)
	return m
}

// Send stores v, discarding any undelivered value, and wakes one waiting
// receiver. Send never blocks. Values sent after Close are dropped.
func (m *Mailbox[T]) Send(v T) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.value = v
	m.full = true
	m.mu.Unlock()
	m.cv.Signal()
}

// Receive blocks until a value is available or ctx is done, then removes
// and returns it. A value that is already pending is returned even when
// ctx is done or the mailbox is closed. Once the mailbox is closed and
// empty Receive returns ErrMailboxClosed.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	// Wake Wait on cancellation. The broadcast holds mu, so it cannot slip
	// between the ctx check below and cv.Wait.
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cv.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.full {
		var zero T
		if m.closed {
			return zero, ErrMailboxClosed
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		m.cv.Wait()
	}
	return m.take(), nil
}

// TryReceive removes and returns the pending value without blocking.
// ok is false if the slot is empty.
func (m *Mailbox[T]) TryReceive() (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return v, false
	}
	return m.take(), true
}

// Close wakes all receivers. A pending value can still be received.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cv.Broadcast()
}

// take empties the slot. m.mu must be held.
func (m *Mailbox[T]) take() T {
	v := m.value
	var zero T
	m.value = zero
	m.full = false
	return v
}
