package domain

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
)

// PollState tracks a voting session.
type PollState string

const (
	PollOpen      PollState = "OPEN"
	PollClosed    PollState = "CLOSED"
	PollResolved  PollState = "RESOLVED"
	PollCancelled PollState = "CANCELLED"
)

// PollSession is a time-boxed vote over a fixed batch of prompts.
//
// PollSession is not safe for concurrent use; the poll manager serializes
// votes and the closing timer behind a single mutex.
type PollSession struct {
	ID        string
	Prompts   []Prompt
	StartedAt time.Time
	Duration  time.Duration
	Votes     []int
	Voters    map[string]int
	State     PollState
	WinnerID  string
}

// NewPollSession opens a session over the given batch of prompts.
func NewPollSession(id string, prompts []Prompt, startedAt time.Time, duration time.Duration) (PollSession, error) {
	if len(prompts) == 0 {
		return PollSession{}, apperrors.New(apperrors.CodeInternal, "poll session requires at least one prompt")
	}
	if duration <= 0 {
		return PollSession{}, apperrors.New(apperrors.CodeInternal, "poll duration must be positive")
	}
	batch := make([]Prompt, len(prompts))
	copy(batch, prompts)
	for i := range batch {
		batch[i].State = PromptInPoll
	}
	return PollSession{
		ID:        id,
		Prompts:   batch,
		StartedAt: startedAt.UTC(),
		Duration:  duration,
		Votes:     make([]int, len(batch)),
		Voters:    make(map[string]int),
		State:     PollOpen,
	}, nil
}

// RecordVote accepts one vote per voter identity. The first vote stands;
// later votes from the same voter are rejected, not overwritten.
func (s *PollSession) RecordVote(voterID string, candidateIndex int) error {
	if s.State != PollOpen {
		return apperrors.New(apperrors.CodeSessionNotOpen, "poll session is not open")
	}
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return apperrors.New(apperrors.CodeVoterIDEmpty, "voter id is required")
	}
	if candidateIndex < 0 || candidateIndex >= len(s.Prompts) {
		return apperrors.New(apperrors.CodeInvalidCandidate, "candidate index out of range")
	}
	if _, voted := s.Voters[voterID]; voted {
		return apperrors.New(apperrors.CodeDuplicateVote, "voter already voted in this session")
	}
	s.Voters[voterID] = candidateIndex
	s.Votes[candidateIndex]++
	return nil
}

// Close transitions the session to Closed and resolves the winner.
// Votes arriving after Close are rejected by RecordVote.
func (s *PollSession) Close() (winner Prompt, losers []Prompt, err error) {
	if s.State != PollOpen {
		return Prompt{}, nil, apperrors.New(apperrors.CodeSessionNotOpen, "poll session is not open")
	}
	idx := ResolveWinnerIndex(s.Prompts, s.Votes)
	s.State = PollClosed
	s.WinnerID = s.Prompts[idx].ID

	winner = s.Prompts[idx]
	winner.State = PromptWon
	s.Prompts[idx] = winner
	for i := range s.Prompts {
		if i == idx {
			continue
		}
		s.Prompts[i].State = PromptLost
		losers = append(losers, s.Prompts[i])
	}
	return winner, losers, nil
}

// Cancel aborts an open session. All prompts are treated as losers.
func (s *PollSession) Cancel() ([]Prompt, error) {
	if s.State != PollOpen {
		return nil, apperrors.New(apperrors.CodeSessionNotOpen, "poll session is not open")
	}
	s.State = PollCancelled
	cancelled := make([]Prompt, len(s.Prompts))
	copy(cancelled, s.Prompts)
	for i := range cancelled {
		cancelled[i].State = PromptLost
	}
	return cancelled, nil
}

// MarkResolved records that the winner has been handed to synthesis.
func (s *PollSession) MarkResolved() {
	if s.State == PollClosed {
		s.State = PollResolved
	}
}

// VoteCounts returns a copy of the per-candidate tallies.
func (s *PollSession) VoteCounts() []int {
	counts := make([]int, len(s.Votes))
	copy(counts, s.Votes)
	return counts
}

// ResolveWinnerIndex picks the candidate with the most votes. Ties resolve
// to the earliest submission, so a session with zero votes still progresses
// with the first-submitted candidate.
func ResolveWinnerIndex(prompts []Prompt, votes []int) int {
	winner := 0
	for i := 1; i < len(prompts); i++ {
		if votes[i] > votes[winner] {
			winner = i
			continue
		}
		if votes[i] == votes[winner] && prompts[i].SubmittedAt.Before(prompts[winner].SubmittedAt) {
			winner = i
		}
	}
	return winner
}
