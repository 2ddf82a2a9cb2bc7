package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal between components.
//
// Publish never blocks: subscribers get buffered channels and a slow
// subscriber loses events instead of stalling the publisher.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events whose Type starts with one of prefixes.
	// No prefixes means every event.
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries lost to full subscriber buffers.
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch       chan Event
	prefixes []string
}

func (s *subscriber) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s.ch, e)
	}
}

// deliver tolerates a concurrent unsubscribe closing ch.
func (b *memBus) deliver(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer), prefixes: append([]string(nil), prefixes...)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
