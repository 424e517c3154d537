package session

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Fanout is the set of registered listeners. It is owned by the session loop
// and not safe for concurrent use.
type Fanout struct {
	listeners []Listener
	logger    *logrus.Logger
}

// NewFanout creates an empty listener set.
func NewFanout(logger *logrus.Logger) *Fanout {
	if logger == nil {
		logger = logrus.New()
	}
	return &Fanout{logger: logger}
}

// Register adds l. Registering the same listener twice has no effect, and
// listeners that are nil or not comparable are refused.
func (f *Fanout) Register(l Listener) bool {
	if !identifiable(l) {
		f.logger.WithField("listener", fmt.Sprintf("%T", l)).Warn("Refusing listener that cannot be compared")
		return false
	}
	if f.index(l) >= 0 {
		return false
	}
	f.listeners = append(f.listeners, l)
	return true
}

// Unregister removes l and reports whether the set is now empty because of it.
func (f *Fanout) Unregister(l Listener) (emptied bool) {
	if !identifiable(l) {
		return false
	}
	i := f.index(l)
	if i < 0 {
		return false
	}
	f.remove(i)
	return len(f.listeners) == 0
}

// Broadcast delivers ev to every listener, newest registration first.
// Listeners whose delivery fails are removed. It reports whether that left
// the set empty.
func (f *Fanout) Broadcast(ev Event) (emptied bool) {
	if len(f.listeners) == 0 {
		return false
	}
	for i := len(f.listeners) - 1; i >= 0; i-- {
		if err := f.listeners[i].Deliver(ev); err != nil {
			f.logger.WithFields(logrus.Fields{
				"listener": i,
				"error":    err,
			}).Warn("Lost connection to listener, removing it")
			f.remove(i)
		}
	}
	return len(f.listeners) == 0
}

// Len returns the number of registered listeners.
func (f *Fanout) Len() int {
	return len(f.listeners)
}

// index requires l to be identifiable; every stored listener is.
func (f *Fanout) index(l Listener) int {
	for i, x := range f.listeners {
		if x == l {
			return i
		}
	}
	return -1
}

func (f *Fanout) remove(i int) {
	copy(f.listeners[i:], f.listeners[i+1:])
	f.listeners[len(f.listeners)-1] = nil
	f.listeners = f.listeners[:len(f.listeners)-1]
}
