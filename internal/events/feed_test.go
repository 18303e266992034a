package events

import "testing"

func TestFeedDeliversToAllSubscribers(t *testing.T) {
	f := NewFeed[int]()
	a, cancelA := f.Subscribe()
	defer cancelA()
	b, cancelB := f.Subscribe()
	defer cancelB()

	if n := f.Publish(7); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if got := <-a; got != 7 {
		t.Fatalf("subscriber a got %d", got)
	}
	if got := <-b; got != 7 {
		t.Fatalf("subscriber b got %d", got)
	}
}

func TestFeedDropsWhenSubscriberIsFull(t *testing.T) {
	f := NewFeed[int]()
	ch, cancel := f.Subscribe()
	defer cancel()

	for i := 0; i < defaultBuffer; i++ {
		f.Publish(i)
	}
	if n := f.Publish(-1); n != 0 {
		t.Fatalf("expected full subscriber to be skipped, got %d deliveries", n)
	}
	if len(ch) != defaultBuffer {
		t.Fatalf("expected %d buffered values, got %d", defaultBuffer, len(ch))
	}
}

func TestFeedUnsubscribeAndClose(t *testing.T) {
	f := NewFeed[string]()
	ch, cancel := f.Subscribe()
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after unsubscribe")
	}

	other, _ := f.Subscribe()
	f.Close()
	if _, ok := <-other; ok {
		t.Fatalf("expected channel closed after feed close")
	}
	if n := f.Publish("late"); n != 0 {
		t.Fatalf("expected no deliveries after close")
	}

	late, _ := f.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("expected subscribe on closed feed to return closed channel")
	}
}
