// Package event broadcasts typed pipeline events to any number of observers.
package event

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names a pipeline event.
type Type string

const (
	TypeQueued                Type = "queued"
	TypePromptAutoRejected    Type = "prompt_auto_rejected"
	TypePollOpened            Type = "poll_opened"
	TypeVote                  Type = "vote"
	TypePollCancelled         Type = "poll_cancelled"
	TypePromptWon             Type = "prompt_won"
	TypePromptsMovedToHistory Type = "prompts_moved_to_history"
	TypePromptFailed          Type = "prompt_failed"
	TypeActionSetGenerated    Type = "action_set_generated"
	TypeActionSetRejected     Type = "action_set_rejected"
	TypeActionSetApproved     Type = "action_set_approved"
	TypeFinished              Type = "finished"
)

// Event is one pipeline state transition.
type Event struct {
	Type     Type           `json:"type"`
	EntityID string         `json:"entity_id"`
	At       time.Time      `json:"at"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 64

// Bus fans events out to subscribers without ever blocking the publisher.
// Events for a slow subscriber are dropped rather than stalling the pipeline.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	buffer      int
}

// Subscriber is one independent, append-ordered event stream. It receives
// no history; observers backfill from the history store.
type Subscriber struct {
	ch      chan Event
	dropped atomic.Int64
	once    sync.Once
}

// NewBus creates a bus with the given per-subscriber buffer depth.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
		buffer:      buffer,
	}
}

// Subscribe registers a new observer stream.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the observer and closes its stream.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subscribers[sub]
	delete(b.subscribers, sub)
	b.mu.Unlock()
	if ok {
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Publish delivers the event to every subscriber queue that has room.
// Publication is serialized, so subscribers observe events in the causal
// order they were published.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Events returns the subscriber's stream. The channel closes on Unsubscribe.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the subscriber
// fell behind.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}
