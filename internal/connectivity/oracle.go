// Package connectivity tracks the process-wide online/offline signal.
//
// The oracle is advisory only: a report of "online" does not guarantee a
// request will succeed, so every request path still handles a failed send.
package connectivity

import (
	"sync"
)

// Oracle reports connectivity and notifies listeners of transitions.
type Oracle interface {
	// Online returns the current advisory state.
	Online() bool

	// Subscribe registers a listener invoked at most once per transition,
	// in transition order. The returned cancel func removes the listener.
	Subscribe(listener func(online bool)) (cancel func())
}

// Switch is a manual Oracle flipped by the host platform's connectivity
// signal (or by a Prober when no push signal exists).
type Switch struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func(bool)
	order     []int

	// notifyMu serializes dispatch so listeners observe transitions in
	// order even when SetOnline is called from multiple goroutines.
	notifyMu sync.Mutex
}

// NewSwitch creates a Switch with the given initial state. No notification
// fires for the initial state.
func NewSwitch(online bool) *Switch {
	return &Switch{
		online:    online,
		listeners: map[int]func(bool){},
	}
}

// Online returns the current advisory state.
func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Subscribe registers a transition listener.
func (s *Switch) Subscribe(listener func(online bool)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.order = append(s.order, id)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
		for i, oid := range s.order {
			if oid == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

// SetOnline records a state change and notifies listeners. Setting the
// current value again is a no-op: listeners fire at most once per transition.
//
// Listeners run synchronously on the caller's goroutine while the dispatch
// lock is held: they may read the Switch (Online, Subscribe, cancel) but
// must not call SetOnline, and must not block indefinitely.
func (s *Switch) SetOnline(online bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	snapshot := make([]func(bool), 0, len(s.order))
	for _, id := range s.order {
		if l, ok := s.listeners[id]; ok {
			snapshot = append(snapshot, l)
		}
	}
	s.mu.Unlock()

	for _, l := range snapshot {
		l(online)
	}
}
