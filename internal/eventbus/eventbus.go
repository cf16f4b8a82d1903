// Package eventbus implements the engine's typed event fan-out: an
// in-process broadcast primitive plus a gorilla/websocket hub that
// exposes it over /ws/live. The hub is a mutex-guarded subscriber map
// with a per-client send buffer, a copy-then-iterate broadcast, and
// per-subscriber channel filtering.
package eventbus

import (
	"strconv"
	"sync"

	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "eventbus")

// sendBufferSize bounds how far a slow subscriber can lag before it
// is evicted rather than blocking the publisher.
const sendBufferSize = 256

// Subscriber receives events matching its filter. An empty filter
// means "all channels".
type Subscriber struct {
	id     string
	ch     chan models.Event
	closed chan struct{}

	mu     sync.RWMutex
	filter map[models.EventType]bool
}

// Events returns the channel events are delivered on; callers must
// keep draining it until Closed fires.
func (s *Subscriber) Events() <-chan models.Event { return s.ch }

// Closed fires once the bus has evicted this subscriber.
func (s *Subscriber) Closed() <-chan struct{} { return s.closed }

// SetFilter replaces the subscribed channel set; an empty slice
// subscribes to everything.
func (s *Subscriber) SetFilter(channels []models.EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(channels) == 0 {
		s.filter = nil
		return
	}
	s.filter = make(map[models.EventType]bool, len(channels))
	for _, c := range channels {
		s.filter[c] = true
	}
}

func (s *Subscriber) wants(t models.EventType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filter) == 0 || s.filter[t]
}

// Bus is a broadcast primitive: every Publish is delivered to every
// Subscriber whose filter matches, with copy-then-iterate semantics
// over the subscriber list so Publish never holds the lock while
// sending.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber
	next uint64
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*Subscriber)}
}

// Subscribe registers a new subscriber filtered to channels (empty =
// all) and returns it; callers must Unsubscribe when done.
func (b *Bus) Subscribe(channels []models.EventType) *Subscriber {
	b.mu.Lock()
	b.next++
	id := "sub-" + strconv.FormatUint(b.next, 10)
	sub := &Subscriber{
		id:     id,
		ch:     make(chan models.Event, sendBufferSize),
		closed: make(chan struct{}),
	}
	sub.SetFilter(channels)
	b.subs[id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber, closing its channels.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
		close(sub.closed)
	}
}

// Publish delivers evt to every matching subscriber; a subscriber
// whose buffer is full is evicted rather than blocking the publisher.
func (b *Bus) Publish(evt models.Event) {
	b.mu.RLock()
	targets := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.wants(evt.Type) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- evt:
		default:
			log.Warnf("eventbus: subscriber %s buffer full, evicting", sub.id)
			b.Unsubscribe(sub)
		}
	}
}

// Count returns the current subscriber count, for admin/health use.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
