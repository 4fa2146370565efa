// Package queue holds submitted prompts until enough accumulate to open a
// poll.
package queue

import (
	"sync"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
	"github.com/louisbranch/hivemind/internal/services/pipeline/event"
)

// Opener receives a full batch of prompts to open a poll over. It is called
// with the queue lock held so the hand-off is atomic; an error leaves the
// batch queued.
type Opener func(prompts []domain.Prompt) error

// Config bounds the queue.
type Config struct {
	// BatchThreshold is how many prompts trigger a poll.
	BatchThreshold int
	// MaxBacklog caps the total queued prompts.
	MaxBacklog int
	// PerSubmitterCap caps outstanding prompts per submitter. Zero means no
	// cap.
	PerSubmitterCap int
	// InPoll reports how many prompts a submitter has in the open poll; they
	// count toward the cap. Called with the queue lock held.
	InPoll func(submitterID string) int
}

// Queue is a FIFO prompt buffer with per-submitter fairness caps.
type Queue struct {
	mu      sync.Mutex
	prompts []domain.Prompt

	cfg    Config
	opener Opener
	bus    *event.Bus
}

// New returns a queue that hands batches to opener once the threshold is met.
func New(cfg Config, opener Opener, bus *event.Bus) *Queue {
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = 1
	}
	return &Queue{cfg: cfg, opener: opener, bus: bus}
}

// Enqueue admits a prompt and opens a poll when the batch threshold is
// reached. Oversubscribed submitters and a full backlog are refused.
func (q *Queue) Enqueue(prompt domain.Prompt) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.MaxBacklog > 0 && len(q.prompts) >= q.cfg.MaxBacklog {
		return apperrors.New(apperrors.CodeQueueFull, "prompt queue is full")
	}
	if q.cfg.PerSubmitterCap > 0 {
		var outstanding int
		for _, queued := range q.prompts {
			if queued.SubmitterID == prompt.SubmitterID {
				outstanding++
			}
		}
		if q.cfg.InPoll != nil {
			outstanding += q.cfg.InPoll(prompt.SubmitterID)
		}
		if outstanding >= q.cfg.PerSubmitterCap {
			return apperrors.New(apperrors.CodeRateLimited, "submitter already has an outstanding prompt")
		}
	}

	q.prompts = append(q.prompts, prompt)
	q.bus.Publish(event.Event{
		Type:     event.TypeQueued,
		EntityID: prompt.ID,
		Fields: map[string]any{
			"submitter_id": prompt.SubmitterID,
			"position":     len(q.prompts),
		},
	})
	q.tryOpenLocked()
	return nil
}

// FlushReady opens a poll over the oldest batch if the threshold is already
// met. The pipeline calls it after each poll resolves so backlogged prompts
// keep moving.
func (q *Queue) FlushReady() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tryOpenLocked()
}

// tryOpenLocked hands the oldest full batch to the opener. The batch is only
// removed once the opener accepts it, so a refused open (a poll already
// running) keeps the prompts queued in order.
func (q *Queue) tryOpenLocked() {
	if q.opener == nil || len(q.prompts) < q.cfg.BatchThreshold {
		return
	}
	batch := make([]domain.Prompt, q.cfg.BatchThreshold)
	copy(batch, q.prompts[:q.cfg.BatchThreshold])
	if err := q.opener(batch); err != nil {
		return
	}
	q.prompts = append([]domain.Prompt(nil), q.prompts[q.cfg.BatchThreshold:]...)
}

// Len reports how many prompts are queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.prompts)
}

// Snapshot returns the queued prompts in submission order.
func (q *Queue) Snapshot() []domain.Prompt {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Prompt, len(q.prompts))
	copy(out, q.prompts)
	return out
}
