// Package poll runs one time-boxed voting session at a time.
package poll

import (
	"log"
	"sync"
	"time"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
	"github.com/louisbranch/hivemind/internal/platform/id"
	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
	"github.com/louisbranch/hivemind/internal/services/pipeline/event"
)

// ClosedFunc receives the resolved session once its timer fires. It is
// invoked outside the manager lock, so it may call back into the manager.
type ClosedFunc func(winner domain.Prompt, losers []domain.Prompt, session domain.PollSession)

// Manager owns the single open session invariant. Votes, the closing timer,
// and cancellation all serialize on one mutex.
type Manager struct {
	mu      sync.Mutex
	current *domain.PollSession
	timer   *time.Timer

	duration time.Duration
	bus      *event.Bus
	onClosed ClosedFunc
	now      func() time.Time
}

// NewManager returns a manager whose sessions run for the given duration.
func NewManager(duration time.Duration, bus *event.Bus, onClosed ClosedFunc) *Manager {
	return &Manager{
		duration: duration,
		bus:      bus,
		onClosed: onClosed,
		now:      time.Now,
	}
}

// Open starts a session over the batch. A second open while a session is
// running is refused, which is what keeps queued batches waiting their turn.
func (m *Manager) Open(prompts []domain.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.State == domain.PollOpen {
		return apperrors.New(apperrors.CodePollAlreadyOpen, "a poll session is already open")
	}

	sessionID, err := id.NewID()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "generate session id", err)
	}
	session, err := domain.NewPollSession(sessionID, prompts, m.now(), m.duration)
	if err != nil {
		return err
	}
	m.current = &session
	m.timer = time.AfterFunc(m.duration, func() { m.close(sessionID) })

	candidates := make([]map[string]any, len(session.Prompts))
	for i, p := range session.Prompts {
		candidates[i] = map[string]any{"index": i, "prompt_id": p.ID, "text": p.Text}
	}
	m.bus.Publish(event.Event{
		Type:     event.TypePollOpened,
		EntityID: session.ID,
		Fields: map[string]any{
			"candidates":  candidates,
			"duration_ms": m.duration.Milliseconds(),
		},
	})
	return nil
}

// Vote records one vote in the open session.
func (m *Manager) Vote(sessionID, voterID string, candidateIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.ID != sessionID {
		return apperrors.New(apperrors.CodeSessionNotOpen, "poll session is not open")
	}
	if err := m.current.RecordVote(voterID, candidateIndex); err != nil {
		return err
	}
	m.bus.Publish(event.Event{
		Type:     event.TypeVote,
		EntityID: m.current.ID,
		Fields: map[string]any{
			"candidate_index": candidateIndex,
			"counts":          m.current.VoteCounts(),
		},
	})
	return nil
}

// Cancel aborts the open session and returns its prompts.
func (m *Manager) Cancel() ([]domain.Prompt, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.CodeSessionNotOpen, "poll session is not open")
	}
	cancelled, err := m.current.Cancel()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	sessionID := m.current.ID
	m.current = nil
	m.mu.Unlock()

	m.bus.Publish(event.Event{
		Type:     event.TypePollCancelled,
		EntityID: sessionID,
		Fields:   map[string]any{"prompts": len(cancelled)},
	})
	return cancelled, nil
}

// OutstandingFor counts prompts by the given submitter in the open session.
func (m *Manager) OutstandingFor(submitterID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.State != domain.PollOpen {
		return 0
	}
	var count int
	for _, prompt := range m.current.Prompts {
		if prompt.SubmitterID == submitterID {
			count++
		}
	}
	return count
}

// Current returns a snapshot of the open session.
func (m *Manager) Current() (domain.PollSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.PollSession{}, false
	}
	return snapshot(m.current), true
}

// close resolves the session when the timer fires. The session ID guards
// against a stale timer closing a later session.
func (m *Manager) close(sessionID string) {
	m.mu.Lock()
	if m.current == nil || m.current.ID != sessionID {
		m.mu.Unlock()
		return
	}
	winner, losers, err := m.current.Close()
	if err != nil {
		m.mu.Unlock()
		log.Printf("poll: close session %s: %v", sessionID, err)
		return
	}
	m.current.MarkResolved()
	session := snapshot(m.current)
	m.current = nil
	m.mu.Unlock()

	m.bus.Publish(event.Event{
		Type:     event.TypePromptWon,
		EntityID: winner.ID,
		Fields: map[string]any{
			"session_id": session.ID,
			"votes":      session.Votes,
		},
	})
	if len(losers) > 0 {
		loserIDs := make([]string, len(losers))
		for i, p := range losers {
			loserIDs[i] = p.ID
		}
		m.bus.Publish(event.Event{
			Type:     event.TypePromptsMovedToHistory,
			EntityID: session.ID,
			Fields:   map[string]any{"prompt_ids": loserIDs},
		})
	}
	if m.onClosed != nil {
		m.onClosed(winner, losers, session)
	}
}

func snapshot(session *domain.PollSession) domain.PollSession {
	out := *session
	out.Prompts = make([]domain.Prompt, len(session.Prompts))
	copy(out.Prompts, session.Prompts)
	out.Votes = session.VoteCounts()
	out.Voters = make(map[string]int, len(session.Voters))
	for voter, idx := range session.Voters {
		out.Voters[voter] = idx
	}
	return out
}
