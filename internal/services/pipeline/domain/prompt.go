// Package domain defines the pipeline entities and their state machines.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
)

// MaxPromptLength bounds accepted submission text, counted in runes.
const MaxPromptLength = 500

// PromptState tracks a prompt through the pipeline.
type PromptState string

const (
	PromptQueued     PromptState = "QUEUED"
	PromptInPoll     PromptState = "IN_POLL"
	PromptWon        PromptState = "WON"
	PromptLost       PromptState = "LOST"
	PromptProcessing PromptState = "PROCESSING"
	PromptCompleted  PromptState = "COMPLETED"
	PromptFailed     PromptState = "FAILED"
)

// Prompt is a single submitted text idea. Text is immutable once queued.
type Prompt struct {
	ID          string
	Text        string
	SubmitterID string
	SubmittedAt time.Time
	State       PromptState
}

// NewPrompt validates submission input and returns a queued prompt.
// The caller assigns the ID.
func NewPrompt(id, text, submitterID string, submittedAt time.Time) (Prompt, error) {
	text = strings.TrimSpace(text)
	submitterID = strings.TrimSpace(submitterID)
	if text == "" {
		return Prompt{}, apperrors.New(apperrors.CodePromptEmpty, "prompt text is required")
	}
	if utf8.RuneCountInString(text) > MaxPromptLength {
		return Prompt{}, apperrors.New(apperrors.CodePromptTooLong, "prompt text exceeds maximum length")
	}
	if submitterID == "" {
		return Prompt{}, apperrors.New(apperrors.CodePromptEmpty, "submitter id is required")
	}
	return Prompt{
		ID:          id,
		Text:        text,
		SubmitterID: submitterID,
		SubmittedAt: submittedAt.UTC(),
		State:       PromptQueued,
	}, nil
}
