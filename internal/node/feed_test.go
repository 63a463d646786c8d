package node

import (
	"testing"

	"token-ledger/internal/domain"
)

func TestFeed_PublishAndUnsubscribe(t *testing.T) {
	feed := NewFeed()
	a := feed.Subscribe(4)
	b := feed.Subscribe(4)

	feed.Publish([]*domain.Event{{Seq: 1}, {Seq: 2}})

	for _, sub := range []*Subscription{a, b} {
		if e := <-sub.C; e.Seq != 1 {
			t.Errorf("sub %d: expected seq 1, got %d", sub.ID(), e.Seq)
		}
		if e := <-sub.C; e.Seq != 2 {
			t.Errorf("sub %d: expected seq 2, got %d", sub.ID(), e.Seq)
		}
	}

	feed.Unsubscribe(a)
	feed.Unsubscribe(a)
	if _, ok := <-a.C; ok {
		t.Error("unsubscribed channel should be closed")
	}
	if feed.Len() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", feed.Len())
	}
}

func TestFeed_SlowSubscriberDropped(t *testing.T) {
	feed := NewFeed()
	slow := feed.Subscribe(1)

	feed.Publish([]*domain.Event{{Seq: 1}, {Seq: 2}})

	if feed.Len() != 0 {
		t.Fatalf("slow subscriber should be dropped, %d left", feed.Len())
	}
	<-slow.C
	if _, ok := <-slow.C; ok {
		t.Error("dropped channel should be closed")
	}
}

func TestFeed_PublishesCopies(t *testing.T) {
	feed := NewFeed()
	sub := feed.Subscribe(1)

	e := &domain.Event{Seq: 1, Amount: domain.BaseUnits(5)}
	feed.Publish([]*domain.Event{e})
	e.Amount.SetUint64(7)

	if got := <-sub.C; got.Amount.Uint64() != 5 {
		t.Errorf("subscriber saw mutation: %d", got.Amount.Uint64())
	}
}

func TestFeed_Close(t *testing.T) {
	feed := NewFeed()
	sub := feed.Subscribe(1)
	feed.Close()

	if _, ok := <-sub.C; ok {
		t.Error("channel should be closed after Close")
	}
	late := feed.Subscribe(1)
	if _, ok := <-late.C; ok {
		t.Error("subscription after Close should start closed")
	}
}
