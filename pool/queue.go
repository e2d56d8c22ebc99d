package pool

import (
	"context"

	"github.com/jseow5177/hotrod-pool/transport"
)

// idleQueue is the per-endpoint bounded blocking queue of idle
// Transports. poll/offer are non-blocking; pop blocks until an item is
// available or ctx is done. The pool's own mutex guards everything else
// about its state, but push/poll/offer/pop on this queue are safe to
// call without it — this module always happens to call them under the
// pool mutex anyway, except for the scoped-unlock pop() calls inside
// BorrowObject.
type idleQueue struct {
	ch chan transport.Transport
}

func newIdleQueue(capacity int) *idleQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &idleQueue{ch: make(chan transport.Transport, capacity)}
}

// poll is a non-blocking receive.
func (q *idleQueue) poll() (transport.Transport, bool) {
	select {
	case t := <-q.ch:
		return t, true
	default:
		return nil, false
	}
}

// pop blocks until an item is available or ctx is cancelled.
func (q *idleQueue) pop(ctx context.Context) (transport.Transport, error) {
	select {
	case t := <-q.ch:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// offer is a non-blocking send; it returns false if the queue is full.
func (q *idleQueue) offer(t transport.Transport) bool {
	select {
	case q.ch <- t:
		return true
	default:
		return false
	}
}

// push is a send that the caller has already established has room for
// (e.g. immediately after creating capacity via minIdle growth or a
// waiter redirect). It must never be called when the queue could be full
// from the caller's own bookkeeping mistake — that would deadlock the
// pool mutex held by the caller.
func (q *idleQueue) push(t transport.Transport) {
	q.ch <- t
}

func (q *idleQueue) len() int {
	return len(q.ch)
}
