package events

import "testing"

func TestPublishNonBlockingOnFullQueue(t *testing.T) {
	b := New(1)
	s := b.Subscribe()
	defer b.Unsubscribe(s)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Event: Progress, ID: "job1"})
		}
		close(done)
	}()

	select {
	case <-done:
	default:
	}
	<-done // Publish must never block even with a full queue and no reader.
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(4)
	s := b.Subscribe()
	b.Unsubscribe(s)
	_, ok := <-s.Events()
	if ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
}

func TestSubscriberCount(t *testing.T) {
	b := New(4)
	if b.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers")
	}
	s := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatal("expected 1 subscriber")
	}
	b.Unsubscribe(s)
	if b.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers after unsubscribe")
	}
}
