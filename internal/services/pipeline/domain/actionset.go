package domain

import "time"

// ApprovalState routes an action set to automatic or manual approval.
type ApprovalState string

const (
	AutoApproved    ApprovalState = "AUTO_APPROVED"
	PendingApproval ApprovalState = "PENDING_APPROVAL"
	Rejected        ApprovalState = "REJECTED"
)

// ActionSetState tracks an action set through execution.
type ActionSetState string

const (
	ActionSetGenerated       ActionSetState = "GENERATED"
	ActionSetApproved        ActionSetState = "APPROVED"
	ActionSetExecuting       ActionSetState = "EXECUTING"
	ActionSetCompleted       ActionSetState = "COMPLETED"
	ActionSetPartiallyFailed ActionSetState = "PARTIALLY_FAILED"
	ActionSetFailed          ActionSetState = "FAILED"
)

// OutcomeStatus is the per-action execution result.
type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "PENDING"
	OutcomeSucceeded OutcomeStatus = "SUCCEEDED"
	OutcomeFailed    OutcomeStatus = "FAILED"
)

// Outcome records how a single action finished.
type Outcome struct {
	Status OutcomeStatus
	Reason string
}

// Action is one executable step. Kind is a namespaced identifier within the
// agent.* contract; Params hold scalar arguments keyed by name.
type Action struct {
	ID      string
	Kind    string
	Params  map[string]string
	Outcome Outcome
}

// ActionSet is the ordered, safety-filtered action list derived from a
// winning prompt. The action list is immutable after generation;
// re-synthesis creates a new set.
type ActionSet struct {
	ID             string
	SourcePromptID string
	Actions        []Action
	Approval       ApprovalState
	Reason         string
	CreatedAt      time.Time
	State          ActionSetState
}

// AllSucceeded reports whether every action in the set succeeded.
func (s ActionSet) AllSucceeded() bool {
	for _, a := range s.Actions {
		if a.Outcome.Status != OutcomeSucceeded {
			return false
		}
	}
	return len(s.Actions) > 0
}
