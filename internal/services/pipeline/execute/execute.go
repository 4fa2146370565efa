// Package execute runs approved action sets through an executor, one action
// at a time, and records the terminal outcome.
package execute

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
	"github.com/louisbranch/hivemind/internal/platform/timeouts"
	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
	"github.com/louisbranch/hivemind/internal/services/pipeline/event"
	"github.com/louisbranch/hivemind/internal/services/pipeline/storage"
)

var tracer = otel.Tracer("hivemind/pipeline/execute")

// Result is the outcome of one action attempt. OK false means the action
// failed but execution of the remaining actions may continue.
type Result struct {
	OK     bool
	Reason string
}

// Executor performs a single action. A returned error is structural (the
// executor itself is broken or unreachable) and halts the whole set; action
// level failures come back as Result.OK == false.
type Executor interface {
	Execute(ctx context.Context, action domain.Action) (Result, error)
}

// Coordinator holds generated action sets and drives them through approval
// and execution. Each set executes at most once.
type Coordinator struct {
	mu   sync.Mutex
	sets map[string]*domain.ActionSet

	executor Executor
	history  storage.HistoryStore
	bus      *event.Bus
	now      func() time.Time
}

// NewCoordinator wires the executor, history store, and event bus together.
func NewCoordinator(executor Executor, history storage.HistoryStore, bus *event.Bus) *Coordinator {
	return &Coordinator{
		sets:     make(map[string]*domain.ActionSet),
		executor: executor,
		history:  history,
		bus:      bus,
		now:      time.Now,
	}
}

// Register stores a freshly generated set so it can be approved and executed.
// Auto-approved sets move straight to Approved; pending sets wait for a
// moderator decision.
func (c *Coordinator) Register(set domain.ActionSet) error {
	if set.ID == "" {
		return apperrors.New(apperrors.CodeInternal, "action set id is required")
	}
	if set.State != domain.ActionSetGenerated {
		return apperrors.New(apperrors.CodeExecutionInvalidState, "only generated sets can be registered")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sets[set.ID]; exists {
		return apperrors.New(apperrors.CodeInternal, "action set already registered")
	}
	stored := set
	if stored.Approval == domain.AutoApproved {
		stored.State = domain.ActionSetApproved
	}
	c.sets[set.ID] = &stored
	return nil
}

// Get returns a snapshot of the set.
func (c *Coordinator) Get(setID string) (domain.ActionSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[setID]
	if !ok {
		return domain.ActionSet{}, apperrors.New(apperrors.CodeNotFound, "action set not found")
	}
	return snapshot(set), nil
}

// Approve records a moderator decision on a pending set.
func (c *Coordinator) Approve(setID string) (domain.ActionSet, error) {
	c.mu.Lock()
	set, ok := c.sets[setID]
	if !ok {
		c.mu.Unlock()
		return domain.ActionSet{}, apperrors.New(apperrors.CodeNotFound, "action set not found")
	}
	if set.Approval != domain.PendingApproval || set.State != domain.ActionSetGenerated {
		c.mu.Unlock()
		return domain.ActionSet{}, apperrors.New(apperrors.CodeApprovalNotPending, "action set is not awaiting approval")
	}
	set.State = domain.ActionSetApproved
	out := snapshot(set)
	c.mu.Unlock()

	c.bus.Publish(event.Event{
		Type:     event.TypeActionSetApproved,
		EntityID: out.ID,
		Fields:   map[string]any{"prompt_id": out.SourcePromptID},
	})
	return out, nil
}

// Reject records a moderator rejection and writes the terminal history entry.
func (c *Coordinator) Reject(ctx context.Context, setID, reason string) (domain.ActionSet, error) {
	c.mu.Lock()
	set, ok := c.sets[setID]
	if !ok {
		c.mu.Unlock()
		return domain.ActionSet{}, apperrors.New(apperrors.CodeNotFound, "action set not found")
	}
	if set.Approval != domain.PendingApproval || set.State != domain.ActionSetGenerated {
		c.mu.Unlock()
		return domain.ActionSet{}, apperrors.New(apperrors.CodeApprovalNotPending, "action set is not awaiting approval")
	}
	set.Approval = domain.Rejected
	if strings.TrimSpace(reason) != "" {
		set.Reason = strings.TrimSpace(reason)
	} else {
		set.Reason = "rejected by moderator"
	}
	set.State = domain.ActionSetFailed
	out := snapshot(set)
	c.mu.Unlock()

	c.appendHistory(ctx, out, storage.OutcomeRejected, out.Reason)
	c.bus.Publish(event.Event{
		Type:     event.TypeActionSetRejected,
		EntityID: out.ID,
		Fields:   map[string]any{"prompt_id": out.SourcePromptID, "reason": out.Reason},
	})
	return out, nil
}

// Execute runs the set's actions in order. Only approved sets may run; any
// other state is rejected so a set never runs twice.
func (c *Coordinator) Execute(ctx context.Context, setID string) (domain.ActionSet, error) {
	ctx, span := tracer.Start(ctx, "execute_action_set")
	defer span.End()
	span.SetAttributes(attribute.String("action_set.id", setID))

	c.mu.Lock()
	set, ok := c.sets[setID]
	if !ok {
		c.mu.Unlock()
		return domain.ActionSet{}, apperrors.New(apperrors.CodeNotFound, "action set not found")
	}
	if set.State != domain.ActionSetApproved {
		c.mu.Unlock()
		return domain.ActionSet{}, apperrors.New(apperrors.CodeExecutionInvalidState, "action set is not ready to execute")
	}
	set.State = domain.ActionSetExecuting
	working := snapshot(set)
	c.mu.Unlock()

	var failures int
	var halted bool
	for i := range working.Actions {
		action := &working.Actions[i]
		result, err := c.runAction(ctx, *action)
		if err != nil {
			action.Outcome = domain.Outcome{Status: domain.OutcomeFailed, Reason: err.Error()}
			failures++
			halted = true
			for j := i + 1; j < len(working.Actions); j++ {
				working.Actions[j].Outcome = domain.Outcome{Status: domain.OutcomeFailed, Reason: "skipped: executor failed"}
			}
			log.Printf("execute: set %s halted at action %s: %v", working.ID, action.ID, err)
			break
		}
		if result.OK {
			action.Outcome = domain.Outcome{Status: domain.OutcomeSucceeded}
		} else {
			action.Outcome = domain.Outcome{Status: domain.OutcomeFailed, Reason: result.Reason}
			failures++
		}
	}

	// Failed is reserved for structural executor failure; action-level
	// failures alone end in PartiallyFailed even when every action failed.
	switch {
	case halted:
		working.State = domain.ActionSetFailed
	case failures == 0:
		working.State = domain.ActionSetCompleted
	default:
		working.State = domain.ActionSetPartiallyFailed
	}

	c.mu.Lock()
	*set = working
	c.mu.Unlock()

	outcome := storage.OutcomeCompleted
	switch working.State {
	case domain.ActionSetFailed:
		outcome = storage.OutcomeFailed
	case domain.ActionSetPartiallyFailed:
		outcome = storage.OutcomePartiallyFailed
	}
	c.appendHistory(ctx, working, outcome, detailFor(working))
	c.bus.Publish(event.Event{
		Type:     event.TypeFinished,
		EntityID: working.ID,
		Fields: map[string]any{
			"prompt_id": working.SourcePromptID,
			"state":     string(working.State),
			"failures":  failures,
		},
	})
	return working, nil
}

// runAction bounds one attempt by the per-action timeout and retries exactly
// once when the attempt timed out.
func (c *Coordinator) runAction(ctx context.Context, action domain.Action) (Result, error) {
	attempt := func() (Result, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeouts.ExecuteAction)
		defer cancel()
		return c.executor.Execute(attemptCtx, action)
	}

	result, err := attempt()
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		log.Printf("execute: action %s timed out, retrying once", action.ID)
		result, err = attempt()
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return Result{OK: false, Reason: "action timed out"}, nil
		}
	}
	return result, err
}

// appendHistory derives the entry ID from the set ID and outcome so a
// retried write is a no-op under the store's idempotent append.
func (c *Coordinator) appendHistory(ctx context.Context, set domain.ActionSet, outcome, detail string) {
	if c.history == nil {
		return
	}
	entry := storage.Entry{
		ID:          set.ID + ":" + outcome,
		Kind:        storage.EntryKindActionSet,
		PromptID:    set.SourcePromptID,
		ActionSetID: set.ID,
		Outcome:     outcome,
		Reason:      set.Reason,
		Detail:      detail,
		RecordedAt:  c.now().UTC(),
	}
	if err := c.history.AppendEntry(ctx, entry); err != nil {
		log.Printf("execute: append history for set %s: %v", set.ID, err)
	}
}

func detailFor(set domain.ActionSet) string {
	var succeeded int
	var reasons []string
	for _, action := range set.Actions {
		if action.Outcome.Status == domain.OutcomeSucceeded {
			succeeded++
		} else if action.Outcome.Reason != "" {
			reasons = append(reasons, action.Kind+": "+action.Outcome.Reason)
		}
	}
	detail := fmt.Sprintf("%d/%d actions succeeded", succeeded, len(set.Actions))
	if len(reasons) > 0 {
		detail += "; " + strings.Join(reasons, "; ")
	}
	return detail
}

func snapshot(set *domain.ActionSet) domain.ActionSet {
	out := *set
	out.Actions = make([]domain.Action, len(set.Actions))
	copy(out.Actions, set.Actions)
	return out
}
