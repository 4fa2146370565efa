package event

import (
	"testing"
	"time"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	bus.Publish(Event{Type: TypeQueued, EntityID: "p1"})
	bus.Publish(Event{Type: TypePollOpened, EntityID: "s1"})
	bus.Publish(Event{Type: TypePromptWon, EntityID: "p1"})

	want := []Type{TypeQueued, TypePollOpened, TypePromptWon}
	for i, wt := range want {
		select {
		case evt := <-sub.Events():
			if evt.Type != wt {
				t.Fatalf("event %d type = %q, want %q", i, evt.Type, wt)
			}
			if evt.At.IsZero() {
				t.Fatalf("event %d has zero timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus(2)
	slow := bus.Subscribe()
	defer bus.Unsubscribe(slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: TypeVote, EntityID: "s1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	if slow.Dropped() != 98 {
		t.Fatalf("dropped = %d, want 98", slow.Dropped())
	}
}

func TestSubscribersAreIndependent(t *testing.T) {
	bus := NewBus(8)
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer bus.Unsubscribe(b)

	bus.Publish(Event{Type: TypeQueued, EntityID: "p1"})
	bus.Unsubscribe(a)
	bus.Publish(Event{Type: TypeFinished, EntityID: "as1"})

	if evt := <-a.Events(); evt.Type != TypeQueued {
		t.Fatalf("a first event = %q, want %q", evt.Type, TypeQueued)
	}
	if _, open := <-a.Events(); open {
		t.Fatal("expected closed stream after unsubscribe")
	}

	if evt := <-b.Events(); evt.Type != TypeQueued {
		t.Fatalf("b first event = %q, want %q", evt.Type, TypeQueued)
	}
	if evt := <-b.Events(); evt.Type != TypeFinished {
		t.Fatalf("b second event = %q, want %q", evt.Type, TypeFinished)
	}
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	bus := NewBus(1)
	sub := bus.Subscribe()
	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	bus.Publish(Event{Type: TypeQueued, EntityID: "p1"})
}
