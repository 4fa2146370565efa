// Package app wires the prompt pipeline together: screening, the queue, poll
// sessions, synthesis, execution, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
	"github.com/louisbranch/hivemind/internal/platform/id"
	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
	"github.com/louisbranch/hivemind/internal/services/pipeline/event"
	"github.com/louisbranch/hivemind/internal/services/pipeline/execute"
	"github.com/louisbranch/hivemind/internal/services/pipeline/poll"
	"github.com/louisbranch/hivemind/internal/services/pipeline/queue"
	"github.com/louisbranch/hivemind/internal/services/pipeline/screen"
	"github.com/louisbranch/hivemind/internal/services/pipeline/storage"
	"github.com/louisbranch/hivemind/internal/services/pipeline/synth"
)

// winnerTimeout bounds synthesis plus execution for one winning prompt.
const winnerTimeout = 2 * time.Minute

// PipelineConfig sizes the queue and poll behavior.
type PipelineConfig struct {
	BatchThreshold  int
	PollDuration    time.Duration
	MaxBacklog      int
	PerSubmitterCap int
}

// Pipeline drives prompts from submission to executed action sets.
type Pipeline struct {
	queue        *queue.Queue
	polls        *poll.Manager
	synthesizer  *synth.Synthesizer
	coordinator  *execute.Coordinator
	history      storage.HistoryStore
	contributors storage.ContributorStore
	bus          *event.Bus

	processing sync.WaitGroup
	now        func() time.Time
}

// NewPipeline wires all stages together.
func NewPipeline(
	cfg PipelineConfig,
	synthesizer *synth.Synthesizer,
	coordinator *execute.Coordinator,
	history storage.HistoryStore,
	contributors storage.ContributorStore,
	bus *event.Bus,
) *Pipeline {
	p := &Pipeline{
		synthesizer:  synthesizer,
		coordinator:  coordinator,
		history:      history,
		contributors: contributors,
		bus:          bus,
		now:          time.Now,
	}
	p.polls = poll.NewManager(cfg.PollDuration, bus, p.onPollClosed)
	p.queue = queue.New(queue.Config{
		BatchThreshold:  cfg.BatchThreshold,
		MaxBacklog:      cfg.MaxBacklog,
		PerSubmitterCap: cfg.PerSubmitterCap,
		InPoll:          p.polls.OutstandingFor,
	}, p.polls.Open, bus)
	return p
}

// Submit screens and queues one prompt. Rejected submissions are recorded in
// history so submitters can see why nothing happened.
func (p *Pipeline) Submit(ctx context.Context, text, submitterID string) (domain.Prompt, error) {
	promptID, err := id.NewID()
	if err != nil {
		return domain.Prompt{}, apperrors.Wrap(apperrors.CodeInternal, "generate prompt id", err)
	}
	prompt, err := domain.NewPrompt(promptID, text, submitterID, p.now())
	if err != nil {
		return domain.Prompt{}, err
	}

	if reason := screen.Violation(prompt.Text); reason != "" {
		p.appendPromptHistory(ctx, prompt, storage.OutcomeRejected, reason)
		p.bus.Publish(event.Event{
			Type:     event.TypePromptAutoRejected,
			EntityID: prompt.ID,
			Fields:   map[string]any{"reason": reason},
		})
		return domain.Prompt{}, apperrors.WithMetadata(apperrors.CodePromptUnsafe, "prompt rejected by screening", map[string]string{"Reason": reason})
	}

	if err := p.queue.Enqueue(prompt); err != nil {
		return domain.Prompt{}, err
	}
	if err := p.contributors.RecordSubmission(ctx, prompt.SubmitterID, ""); err != nil {
		log.Printf("pipeline: record submission for %s: %v", prompt.SubmitterID, err)
	}
	return prompt, nil
}

// Vote casts one vote in the open session.
func (p *Pipeline) Vote(ctx context.Context, sessionID, voterID string, candidateIndex int) error {
	if err := p.polls.Vote(sessionID, voterID, candidateIndex); err != nil {
		return err
	}
	if err := p.contributors.RecordVote(ctx, voterID); err != nil {
		log.Printf("pipeline: record vote for %s: %v", voterID, err)
	}
	return nil
}

// CurrentPoll returns a snapshot of the open session.
func (p *Pipeline) CurrentPoll() (domain.PollSession, bool) {
	return p.polls.Current()
}

// QueueSnapshot returns the queued prompts in order.
func (p *Pipeline) QueueSnapshot() []domain.Prompt {
	return p.queue.Snapshot()
}

// History lists recorded outcomes.
func (p *Pipeline) History(ctx context.Context, query storage.Query) ([]storage.Entry, error) {
	return p.history.ListEntries(ctx, query)
}

// TopContributors lists ranked submitter stats.
func (p *Pipeline) TopContributors(ctx context.Context, limit int) ([]domain.Contributor, error) {
	return p.contributors.TopContributors(ctx, limit)
}

// ActionSet returns a registered set by ID.
func (p *Pipeline) ActionSet(setID string) (domain.ActionSet, error) {
	return p.coordinator.Get(setID)
}

// ApproveSet applies a moderator approval and starts execution.
func (p *Pipeline) ApproveSet(ctx context.Context, setID string) (domain.ActionSet, error) {
	set, err := p.coordinator.Approve(setID)
	if err != nil {
		return domain.ActionSet{}, err
	}
	p.processing.Add(1)
	go func() {
		defer p.processing.Done()
		execCtx, cancel := context.WithTimeout(context.Background(), winnerTimeout)
		defer cancel()
		if _, err := p.coordinator.Execute(execCtx, set.ID); err != nil {
			log.Printf("pipeline: execute approved set %s: %v", set.ID, err)
		}
	}()
	return set, nil
}

// RejectSet applies a moderator rejection.
func (p *Pipeline) RejectSet(ctx context.Context, setID, reason string) (domain.ActionSet, error) {
	return p.coordinator.Reject(ctx, setID, reason)
}

// CancelPoll aborts the open session; its prompts go to history and the next
// queued batch gets its turn.
func (p *Pipeline) CancelPoll(ctx context.Context) error {
	cancelled, err := p.polls.Cancel()
	if err != nil {
		return err
	}
	for _, prompt := range cancelled {
		p.appendPromptHistory(ctx, prompt, storage.OutcomeCancelled, "poll cancelled by moderator")
	}
	p.queue.FlushReady()
	return nil
}

// Wait blocks until in-flight winner processing finishes. Used on shutdown.
func (p *Pipeline) Wait() {
	p.processing.Wait()
}

// onPollClosed runs when a session resolves: losers are archived, the winner
// is archived as won and handed to synthesis, and the queue gets a chance to
// open the next poll.
func (p *Pipeline) onPollClosed(winner domain.Prompt, losers []domain.Prompt, session domain.PollSession) {
	ctx := context.Background()
	for _, prompt := range losers {
		p.appendPromptHistory(ctx, prompt, storage.OutcomeLost, "")
	}
	p.appendPromptHistory(ctx, winner, storage.OutcomeWon, "")
	if err := p.contributors.RecordWin(ctx, winner.SubmitterID); err != nil {
		log.Printf("pipeline: record win for %s: %v", winner.SubmitterID, err)
	}

	p.processing.Add(1)
	go func() {
		defer p.processing.Done()
		p.processWinner(winner)
	}()
	p.queue.FlushReady()
}

// processWinner synthesizes the action set and, for auto-approved sets,
// executes it immediately. Pending sets wait for a moderator.
func (p *Pipeline) processWinner(winner domain.Prompt) {
	ctx, cancel := context.WithTimeout(context.Background(), winnerTimeout)
	defer cancel()

	set, err := p.synthesizer.Synthesize(ctx, winner)
	if err != nil {
		log.Printf("pipeline: synthesize prompt %s: %v", winner.ID, err)
		reason := "synthesis failed"
		var appErr *apperrors.Error
		if errors.As(err, &appErr) && appErr.Message != "" {
			reason = appErr.Message
		}
		p.bus.Publish(event.Event{
			Type:     event.TypePromptFailed,
			EntityID: winner.ID,
			Fields:   map[string]any{"reason": reason},
		})
		p.appendPromptHistory(ctx, winner, storage.OutcomeFailed, reason)
		return
	}

	p.bus.Publish(event.Event{
		Type:     event.TypeActionSetGenerated,
		EntityID: set.ID,
		Fields: map[string]any{
			"prompt_id": set.SourcePromptID,
			"approval":  string(set.Approval),
			"actions":   len(set.Actions),
		},
	})

	if set.Approval == domain.Rejected {
		p.appendPromptHistory(ctx, winner, storage.OutcomeFailed, set.Reason)
		p.bus.Publish(event.Event{
			Type:     event.TypeActionSetRejected,
			EntityID: set.ID,
			Fields:   map[string]any{"prompt_id": set.SourcePromptID, "reason": set.Reason},
		})
		return
	}

	if err := p.coordinator.Register(set); err != nil {
		log.Printf("pipeline: register set %s: %v", set.ID, err)
		return
	}
	if set.Approval == domain.AutoApproved {
		if _, err := p.coordinator.Execute(ctx, set.ID); err != nil {
			log.Printf("pipeline: execute set %s: %v", set.ID, err)
		}
	}
}

// appendPromptHistory derives the entry ID from the prompt ID and outcome so
// a retried write is a no-op under the store's idempotent append.
func (p *Pipeline) appendPromptHistory(ctx context.Context, prompt domain.Prompt, outcome, reason string) {
	entry := storage.Entry{
		ID:          prompt.ID + ":" + outcome,
		Kind:        storage.EntryKindPrompt,
		PromptID:    prompt.ID,
		SubmitterID: prompt.SubmitterID,
		Text:        prompt.Text,
		Outcome:     outcome,
		Reason:      reason,
		RecordedAt:  p.now().UTC(),
	}
	if err := p.history.AppendEntry(ctx, entry); err != nil {
		log.Printf("pipeline: append history for prompt %s: %v", prompt.ID, err)
	}
}
