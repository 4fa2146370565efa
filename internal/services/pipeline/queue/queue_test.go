package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
	"github.com/louisbranch/hivemind/internal/services/pipeline/event"
)

func prompt(id, submitter string) domain.Prompt {
	return domain.Prompt{
		ID:          id,
		Text:        "make something fun",
		SubmitterID: submitter,
		SubmittedAt: time.Now(),
		State:       domain.PromptQueued,
	}
}

func TestEnqueueOpensBatchAtThreshold(t *testing.T) {
	var batches [][]domain.Prompt
	opener := func(batch []domain.Prompt) error {
		batches = append(batches, batch)
		return nil
	}
	q := New(Config{BatchThreshold: 3}, opener, event.NewBus(0))

	for i := 1; i <= 3; i++ {
		if err := q.Enqueue(prompt(fmt.Sprintf("p%d", i), fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("enqueue p%d: %v", i, err)
		}
	}
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	if got := batches[0]; len(got) != 3 || got[0].ID != "p1" || got[2].ID != "p3" {
		t.Fatalf("batch = %v, want p1..p3 in order", got)
	}
	if q.Len() != 0 {
		t.Fatalf("queue len = %d, want 0 after hand-off", q.Len())
	}
}

func TestEnqueueKeepsBatchWhenOpenerRefuses(t *testing.T) {
	refuse := true
	var opened [][]domain.Prompt
	opener := func(batch []domain.Prompt) error {
		if refuse {
			return apperrors.New(apperrors.CodePollAlreadyOpen, "poll already open")
		}
		opened = append(opened, batch)
		return nil
	}
	q := New(Config{BatchThreshold: 2}, opener, event.NewBus(0))

	if err := q.Enqueue(prompt("p1", "v1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(prompt("p2", "v2")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("queue len = %d, want prompts kept after refusal", q.Len())
	}

	refuse = false
	q.FlushReady()
	if len(opened) != 1 || opened[0][0].ID != "p1" {
		t.Fatalf("opened = %v, want retried batch starting at p1", opened)
	}
	if q.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", q.Len())
	}
}

func TestEnqueueEnforcesPerSubmitterCap(t *testing.T) {
	q := New(Config{BatchThreshold: 10, PerSubmitterCap: 1}, nil, event.NewBus(0))

	if err := q.Enqueue(prompt("p1", "v1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	err := q.Enqueue(prompt("p2", "v1"))
	if apperrors.CodeOf(err) != apperrors.CodeRateLimited {
		t.Fatalf("err = %v, want rate limited", err)
	}
	if err := q.Enqueue(prompt("p3", "v2")); err != nil {
		t.Fatalf("enqueue other submitter: %v", err)
	}
}

func TestEnqueueCountsInPollPrompts(t *testing.T) {
	inPoll := map[string]int{"v1": 1}
	q := New(Config{
		BatchThreshold:  10,
		PerSubmitterCap: 1,
		InPoll:          func(submitterID string) int { return inPoll[submitterID] },
	}, nil, event.NewBus(0))

	err := q.Enqueue(prompt("p1", "v1"))
	if apperrors.CodeOf(err) != apperrors.CodeRateLimited {
		t.Fatalf("err = %v, want rate limited while prompt is in poll", err)
	}
	if err := q.Enqueue(prompt("p2", "v2")); err != nil {
		t.Fatalf("enqueue other submitter: %v", err)
	}

	delete(inPoll, "v1")
	if err := q.Enqueue(prompt("p3", "v1")); err != nil {
		t.Fatalf("enqueue after poll resolved: %v", err)
	}
}

func TestEnqueueEnforcesBacklogCap(t *testing.T) {
	q := New(Config{BatchThreshold: 10, MaxBacklog: 2}, nil, event.NewBus(0))

	if err := q.Enqueue(prompt("p1", "v1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(prompt("p2", "v2")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(prompt("p3", "v3")); apperrors.CodeOf(err) != apperrors.CodeQueueFull {
		t.Fatalf("err = %v, want queue full", err)
	}
}

func TestEnqueuePublishesQueuedEvents(t *testing.T) {
	bus := event.NewBus(8)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	q := New(Config{BatchThreshold: 10}, nil, bus)
	if err := q.Enqueue(prompt("p1", "v1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case evt := <-sub.Events():
		if evt.Type != event.TypeQueued || evt.EntityID != "p1" {
			t.Fatalf("event = %+v, want queued p1", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued event")
	}
}

func TestEnqueueConcurrentSubmitters(t *testing.T) {
	var mu sync.Mutex
	var handed int
	opener := func(batch []domain.Prompt) error {
		mu.Lock()
		handed += len(batch)
		mu.Unlock()
		return nil
	}
	q := New(Config{BatchThreshold: 5}, opener, event.NewBus(0))

	const submitters = 50
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = q.Enqueue(prompt(fmt.Sprintf("p%d", n), fmt.Sprintf("v%d", n)))
		}(i)
	}
	wg.Wait()

	mu.Lock()
	total := handed
	mu.Unlock()
	if total+q.Len() != submitters {
		t.Fatalf("handed %d + queued %d, want %d prompts accounted for", total, q.Len(), submitters)
	}
	if q.Len() >= 5 {
		t.Fatalf("queue len = %d, want below threshold after flushes", q.Len())
	}
}
