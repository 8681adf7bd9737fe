// Package flow provides a small explicit state machine. Components declare
// their legal transitions up front and expose Fire(event) plus a subscription
// hook, so every recomputation trigger is a visible contract instead of an
// implicit dependency.
package flow

import (
	"fmt"
	"sync"

	"github.com/tbourn/go-stay-booking/internal/domain"
)

// Rule allows Event to move the machine from From to To.
type Rule[S comparable, E comparable] struct {
	From  S
	Event E
	To    S
}

// Change is delivered to observers after a successful transition.
type Change[S comparable, E comparable] struct {
	From  S
	Event E
	To    S
}

// Machine is safe for concurrent use. Observers run synchronously on the
// goroutine that fired the event, after the lock is released.
type Machine[S comparable, E comparable] struct {
	mu        sync.Mutex
	state     S
	rules     map[S]map[E]S
	observers map[int]func(Change[S, E])
	nextID    int
}

// New returns a machine in initial that accepts only the given rules.
func New[S comparable, E comparable](initial S, rules ...Rule[S, E]) *Machine[S, E] {
	m := &Machine[S, E]{
		state:     initial,
		rules:     make(map[S]map[E]S),
		observers: make(map[int]func(Change[S, E])),
	}
	for _, r := range rules {
		if m.rules[r.From] == nil {
			m.rules[r.From] = make(map[E]S)
		}
		m.rules[r.From][r.Event] = r.To
	}
	return m
}

// State returns the current state.
func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Can reports whether event is legal in the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rules[m.state][event]
	return ok
}

// Fire applies event. An illegal event leaves the state untouched and returns
// a *domain.StateError.
func (m *Machine[S, E]) Fire(event E) (S, error) {
	m.mu.Lock()
	from := m.state
	to, ok := m.rules[from][event]
	if !ok {
		m.mu.Unlock()
		return from, &domain.StateError{From: fmt.Sprint(from), Event: fmt.Sprint(event)}
	}
	m.state = to
	obs := make([]func(Change[S, E]), 0, len(m.observers))
	for i := 0; i < m.nextID; i++ {
		if fn, ok := m.observers[i]; ok {
			obs = append(obs, fn)
		}
	}
	m.mu.Unlock()

	ch := Change[S, E]{From: from, Event: event, To: to}
	for _, fn := range obs {
		fn(ch)
	}
	return to, nil
}

// Subscribe registers fn for every future transition and returns a function
// that removes it.
func (m *Machine[S, E]) Subscribe(fn func(Change[S, E])) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}
