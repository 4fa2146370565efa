// Package storage defines persistence contracts for pipeline history and
// contributor statistics.
package storage

import (
	"context"
	"time"

	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
)

// EntryKind distinguishes what a history entry records.
type EntryKind string

const (
	EntryKindPrompt    EntryKind = "prompt"
	EntryKindActionSet EntryKind = "action_set"
)

// Outcome labels for history entries.
const (
	OutcomeWon             = "won"
	OutcomeLost            = "lost"
	OutcomeCancelled       = "cancelled"
	OutcomeRejected        = "rejected"
	OutcomeCompleted       = "completed"
	OutcomePartiallyFailed = "partially_failed"
	OutcomeFailed          = "failed"
)

// Entry is one immutable history record. Prompt entries carry the submission
// text; action set entries carry the set reference and execution detail.
type Entry struct {
	ID          string
	Kind        EntryKind
	PromptID    string
	ActionSetID string
	SubmitterID string
	Text        string
	Outcome     string
	Reason      string
	Detail      string
	RecordedAt  time.Time
}

// Query filters a history listing. Zero values mean no filter; Limit <= 0
// falls back to the store default.
type Query struct {
	Kind    EntryKind
	Outcome string
	Limit   int
}

// HistoryStore persists terminal pipeline outcomes. Append is idempotent by
// entry ID so retried writes never duplicate records.
type HistoryStore interface {
	AppendEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, query Query) ([]Entry, error)
}

// ContributorStore accumulates per-submitter statistics.
type ContributorStore interface {
	RecordSubmission(ctx context.Context, contributorID, displayName string) error
	RecordWin(ctx context.Context, contributorID string) error
	RecordVote(ctx context.Context, contributorID string) error
	TopContributors(ctx context.Context, limit int) ([]domain.Contributor, error)
}
