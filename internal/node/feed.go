package node

import (
	"sync"

	"token-ledger/internal/domain"
)

// Subscription receives committed events in seq order. C is closed when the
// subscription ends, either through Unsubscribe or because the subscriber
// fell behind by more than its buffer.
type Subscription struct {
	C  <-chan *domain.Event
	id uint64
	ch chan *domain.Event
}

// ID returns the feed-local subscription id.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Feed fans committed events out to subscribers without blocking the
// publisher.
type Feed struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber with the given channel buffer.
func (f *Feed) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *domain.Event, buffer)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	sub := &Subscription{C: ch, id: f.nextID, ch: ch}
	if f.closed {
		close(ch)
		return sub
	}
	f.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (f *Feed) Unsubscribe(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[sub.id]; ok {
		delete(f.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers events to every subscriber. A subscriber whose buffer is
// full is dropped.
func (f *Feed) Publish(events []*domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, sub := range f.subs {
		if !deliver(sub.ch, events) {
			delete(f.subs, id)
			close(sub.ch)
		}
	}
}

func deliver(ch chan *domain.Event, events []*domain.Event) bool {
	for _, e := range events {
		select {
		case ch <- e.Clone():
		default:
			return false
		}
	}
	return true
}

// Len returns the number of active subscribers.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close drops every subscriber. Later subscriptions start closed.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, sub := range f.subs {
		delete(f.subs, id)
		close(sub.ch)
	}
	f.closed = true
}
