// Package session tracks the signed-in session and notifies listeners when it changes.
package session

import (
	"sync"

	"taskboard/internal/service"
)

// Event names a session change.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener receives session changes. sess is nil after sign-out.
type Listener func(event Event, sess *service.Session)

// Observer holds the current session and fans out changes to listeners.
type Observer struct {
	mu        sync.RWMutex
	current   *service.Session
	listeners map[int]Listener
	nextID    int
}

// NewObserver creates an observer seeded with initial, which may be nil.
func NewObserver(initial *service.Session) *Observer {
	return &Observer{
		current:   initial,
		listeners: make(map[int]Listener),
	}
}

// Current returns the current session, or nil when signed out.
func (o *Observer) Current() *service.Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// Set replaces the current session and notifies every listener.
// Listeners run on the caller's goroutine, outside the lock.
func (o *Observer) Set(sess *service.Session, event Event) {
	o.mu.Lock()
	o.current = sess
	listeners := make([]Listener, 0, len(o.listeners))
	for _, l := range o.listeners {
		listeners = append(listeners, l)
	}
	o.mu.Unlock()

	for _, l := range listeners {
		l(event, sess)
	}
}

// Subscribe registers l. It is called once with EventInitialSession and the
// current session before Subscribe returns.
func (o *Observer) Subscribe(l Listener) *Subscription {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = l
	current := o.current
	o.mu.Unlock()

	l(EventInitialSession, current)
	return &Subscription{observer: o, id: id}
}

// Subscription is a registered listener.
type Subscription struct {
	observer *Observer
	id       int
	once     sync.Once
}

// Unsubscribe removes the listener. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.observer.mu.Lock()
		delete(s.observer.listeners, s.id)
		s.observer.mu.Unlock()
	})
}
