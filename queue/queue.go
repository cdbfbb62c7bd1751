// Package queue implements the bounded, blocking FIFO the message
// dispatcher uses for its inbound and outbound queues, grounded on the
// channel-plus-panic-recover send idiom the donor's cluster/agent.go uses
// for its own bounded write backlog.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/dreamworksanimation/arras4-core/message"
)

// ErrShutdown is returned by any Push/Pop call made on, or in-flight
// against, a queue that Shutdown has been called on (WaitEmpty returns a
// bool and is simply woken). Shutdown is sticky: once set, a queue never
// recovers.
var ErrShutdown = errors.New("queue: shut down")

// Queue is a bounded FIFO over envelopes. The zero value is not usable; use
// New. Safe for concurrent Push from many goroutines and concurrent Pop
// from many goroutines, though the dispatcher only ever has one of each.
type Queue struct {
	ch chan message.Envelope

	mu       sync.Mutex
	shutdown bool
	empty    *sync.Cond
}

// New builds a queue with the given bound. A bound of 0 (or less) selects a
// capacity of 1<<20, which is effectively unbounded: Push blocks on
// capacity only once that many items are buffered.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1 << 20 // effectively unbounded without an actual unbounded channel
	}
	q := &Queue{ch: make(chan message.Envelope, capacity)}
	q.empty = sync.NewCond(&q.mu)
	return q
}

// Push places item at the tail of the queue, blocking while the queue is at
// capacity. Returns ErrShutdown if the queue has been shut down, whether
// before or during the call.
func (q *Queue) Push(item message.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrShutdown
		}
	}()
	q.ch <- item
	return nil
}

// Pop removes and returns the head item, blocking for at most timeout. A
// timeout of 0 blocks indefinitely. ok is false only on timeout; a
// shut-down queue returns ErrShutdown instead.
func (q *Queue) Pop(timeout time.Duration) (item message.Envelope, ok bool, err error) {
	if timeout <= 0 {
		v, open := <-q.ch
		if !open {
			return message.Envelope{}, false, ErrShutdown
		}
		q.signalIfEmpty()
		return v, true, nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case v, open := <-q.ch:
		if !open {
			return message.Envelope{}, false, ErrShutdown
		}
		q.signalIfEmpty()
		return v, true, nil
	case <-t.C:
		return message.Envelope{}, false, nil
	}
}

func (q *Queue) signalIfEmpty() {
	if len(q.ch) == 0 {
		q.mu.Lock()
		q.empty.Broadcast()
		q.mu.Unlock()
	}
}

// WaitEmpty blocks until the queue has no buffered items or timeout
// elapses, whichever comes first. It does not prevent new pushes after it
// returns.
func (q *Queue) WaitEmpty(timeout time.Duration) bool {
	if len(q.ch) == 0 {
		return true
	}
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		for len(q.ch) != 0 && !q.shutdown {
			q.empty.Wait()
		}
		q.mu.Unlock()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return len(q.ch) == 0
	}
}

// Shutdown irreversibly wakes all waiters; subsequent and in-flight Push
// calls recover from the resulting panic and return ErrShutdown, and Pop
// drains any buffered items before itself starting to return ErrShutdown
// (closing a Go channel does not discard what's already buffered).
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return
	}
	q.shutdown = true
	q.mu.Unlock()
	close(q.ch)
	q.mu.Lock()
	q.empty.Broadcast()
	q.mu.Unlock()
}

// Len reports the number of buffered items, for backlog checks mirroring
// the donor's len(chSend) >= backlog overflow guard.
func (q *Queue) Len() int {
	return len(q.ch)
}
