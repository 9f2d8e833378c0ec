package events

import (
	"sync"

	"github.com/rs/zerolog"

	"choreline/internal/domain"
)

// Publisher receives events after their facts are committed.
type Publisher interface {
	Publish(evts ...domain.Event)
}

// Subscriber is called asynchronously for every matching event.
type Subscriber func(domain.Event)

type subscription struct {
	types map[domain.EventType]struct{}
	ch    chan domain.Event
}

// Bus is a non-blocking fan-out of committed events. A subscriber whose
// buffer is full misses the event; the drop is logged.
type Bus struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	logger     zerolog.Logger
	wg         sync.WaitGroup
	closed     bool
}

func NewBus(bufferSize int, logger zerolog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{bufferSize: bufferSize, logger: logger}
}

// Subscribe registers fn for the given event types, or for every type when
// none are given. It returns an unsubscribe func.
func (b *Bus) Subscribe(fn Subscriber, types ...domain.EventType) func() {
	sub := &subscription{ch: make(chan domain.Event, b.bufferSize)}
	if len(types) > 0 {
		sub.types = make(map[domain.EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for evt := range sub.ch {
			b.deliver(fn, evt)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
}

func (b *Bus) deliver(fn Subscriber, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("event", string(evt.Type)).Msg("event subscriber panicked")
		}
	}()
	fn(evt)
}

func (b *Bus) Publish(evts ...domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, evt := range evts {
		for _, sub := range b.subs {
			if sub.types != nil {
				if _, ok := sub.types[evt.Type]; !ok {
					continue
				}
			}
			select {
			case sub.ch <- evt:
			default:
				b.logger.Warn().Str("event", string(evt.Type)).Str("chore", evt.ChoreID).Msg("event dropped, subscriber buffer full")
			}
		}
	}
}

// Close stops all subscribers after they drain their buffers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
	b.mu.Unlock()
	b.wg.Wait()
}

// Recorder is a synchronous Publisher that keeps every event, for tests and
// one-shot CLI commands.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *Recorder) Publish(evts ...domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evts...)
}

func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// Count returns how many recorded events have type t.
func (r *Recorder) Count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
