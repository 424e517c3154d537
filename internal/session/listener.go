package session

import (
	"errors"
	"reflect"

	"github.com/srg/tagmon/internal/ringchan"
)

var (
	// ErrListenerGone is returned by Deliver when the listener can no longer accept events.
	ErrListenerGone = errors.New("listener gone")
	// ErrListenerNotComparable rejects listeners that cannot be matched with ==.
	ErrListenerNotComparable = errors.New("listener is not comparable")
)

// Listener receives session events. Deliver is called from the session loop
// and must not block; a non-nil error removes the listener for good.
//
// Listeners are identified with ==, so the dynamic type must be comparable.
// Pointer receivers always are; a struct holding a slice, map or func is not.
type Listener interface {
	Deliver(Event) error
}

// identifiable reports whether l can be registered and later found again.
func identifiable(l Listener) bool {
	return l != nil && reflect.ValueOf(l).Comparable()
}

type funcListener struct {
	fn func(Event) error
}

func (l *funcListener) Deliver(ev Event) error { return l.fn(ev) }

// ListenerFunc wraps fn as a Listener. Every call returns a distinct listener,
// so the result can be passed to Unregister later.
func ListenerFunc(fn func(Event) error) Listener {
	return &funcListener{fn: fn}
}

// ChannelListener buffers events in a bounded mailbox for a consumer goroutine.
// When the consumer falls behind, the oldest buffered events are dropped.
type ChannelListener struct {
	ring *ringchan.RingChannel[Event]
}

// NewChannelListener creates a listener with room for size events.
func NewChannelListener(size int) *ChannelListener {
	if size <= 0 {
		size = 1
	}
	return &ChannelListener{ring: ringchan.New[Event](size)}
}

// Deliver enqueues ev. It fails with ErrListenerGone after Close.
func (l *ChannelListener) Deliver(ev Event) error {
	if _, err := l.ring.Send(ev); err != nil {
		return ErrListenerGone
	}
	return nil
}

// Events returns the channel the consumer reads from. It is closed by Close.
func (l *ChannelListener) Events() <-chan Event {
	return l.ring.C()
}

// Dropped returns how many events were discarded because the mailbox was full.
func (l *ChannelListener) Dropped() int64 {
	return l.ring.Dropped()
}

// Close marks the listener gone. The session prunes it on the next broadcast.
func (l *ChannelListener) Close() {
	l.ring.Close()
}
