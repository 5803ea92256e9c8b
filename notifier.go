// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"log/slog"
	"sync"
)

// Notifier delivers events of type E to registered listeners.
//
// Listeners run synchronously, in registration order, on the goroutine
// calling Notify. A panicking listener is recovered and logged and does not
// prevent the remaining listeners from running, nor does it affect the
// component emitting the event.
//
// A Notifier is safe for concurrent use.
type Notifier[E any] struct {
	logger SLogger
	mu     sync.Mutex
	name   string
	next   uint64
	subs   []subscription[E]
}

type subscription[E any] struct {
	id uint64
	fn func(E)
}

// NewNotifier returns a new [*Notifier] whose name appears in the
// listenerPanic log events.
func NewNotifier[E any](name string, logger SLogger) *Notifier[E] {
	return &Notifier[E]{logger: logger, name: name}
}

// Subscribe registers fn and returns a function that unregisters it.
//
// Calling the returned function more than once is harmless.
func (n *Notifier[E]) Subscribe(fn func(E)) (unsubscribe func()) {
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs = append(n.subs, subscription[E]{id: id, fn: fn})
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for idx, sub := range n.subs {
			if sub.id == id {
				n.subs = append(n.subs[:idx:idx], n.subs[idx+1:]...)
				return
			}
		}
	}
}

// Len returns the number of registered listeners.
func (n *Notifier[E]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Notify delivers event to every listener registered at the time of the call.
func (n *Notifier[E]) Notify(event E) {
	n.mu.Lock()
	subs := append([]subscription[E]{}, n.subs...)
	n.mu.Unlock()
	for _, sub := range subs {
		n.deliver(sub.fn, event)
	}
}

func (n *Notifier[E]) deliver(fn func(E), event E) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Info(
				"listenerPanic",
				slog.String("notifier", n.name),
				slog.Any("panic", r),
			)
		}
	}()
	fn(event)
}
