// Package ringchan provides a bounded channel whose producers never block.
package ringchan

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when sending to a closed RingChannel.
var ErrClosed = errors.New("ringchan: closed")

// RingChannel is a buffered channel that makes room for a new value by
// discarding the oldest buffered one. Consumers range over C().
//
// Producers hold mu across the drop-then-insert step so two of them cannot
// interleave it. Consumers never take the lock.
type RingChannel[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool

	sent    atomic.Int64
	dropped atomic.Int64
}

// New creates a RingChannel holding up to capacity values.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send buffers v, evicting the oldest value when full. It reports whether a
// value was evicted.
func (rc *RingChannel[T]) Send(v T) (evicted bool, err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return false, ErrClosed
	}

	for {
		select {
		case rc.ch <- v:
			rc.sent.Add(1)
			return evicted, nil
		default:
		}
		// full: drop one and retry; a consumer may have freed a slot already
		select {
		case <-rc.ch:
			rc.dropped.Add(1)
			evicted = true
		default:
		}
	}
}

// Len returns the number of buffered values.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Sent returns how many values were accepted by Send.
func (rc *RingChannel[T]) Sent() int64 { return rc.sent.Load() }

// Dropped returns how many buffered values were evicted to make room.
func (rc *RingChannel[T]) Dropped() int64 { return rc.dropped.Load() }

// Close closes the receive side; buffered values stay readable. Later sends
// fail with ErrClosed. Close may be called more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}
