// Package clock provides the time source shared by the scheduler.
//
// Production code uses System. Tests use Manual, which notifies listeners
// synchronously on every Set or Shift so tick evaluation never depends on
// wall-clock sleeps.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Func adapts a plain function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// Listener is called with the new time after a Manual clock moves.
type Listener func(now time.Time)

// Manual is a controllable clock.
type Manual struct {
	mu        sync.Mutex
	now       time.Time
	nextID    int
	listeners map[int]Listener
	order     []int
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start, listeners: make(map[int]Listener)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// OnChange registers l and returns a function that removes it.
func (m *Manual) OnChange(l Listener) (cancel func()) {
	if l == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.order = append(m.order, id)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}
}

// Set moves the clock to t and notifies listeners in registration order.
// Listeners run on the caller's goroutine, after the lock is released.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	ls := make([]Listener, 0, len(m.order))
	for _, id := range m.order {
		ls = append(ls, m.listeners[id])
	}
	m.mu.Unlock()

	for _, l := range ls {
		l(t)
	}
}

// Shift moves the clock by d.
func (m *Manual) Shift(d time.Duration) {
	m.Set(m.Now().Add(d))
}
