package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
	"github.com/louisbranch/hivemind/internal/platform/timeouts"
	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
	"github.com/louisbranch/hivemind/internal/services/pipeline/event"
	"github.com/louisbranch/hivemind/internal/services/pipeline/moderator"
	"github.com/louisbranch/hivemind/internal/services/pipeline/storage"
)

const maxRequestBodyBytes = 16 * 1024

// ServerConfig defines the HTTP surface inputs.
type ServerConfig struct {
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the pipeline HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	pipeline        *Pipeline
}

// NewServer builds a configured pipeline server.
func NewServer(config ServerConfig, pipeline *Pipeline, grantCfg moderator.GrantConfig, bus *event.Bus) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           NewHandler(pipeline, grantCfg, bus),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		pipeline:        pipeline,
	}, nil
}

// ListenAndServe runs the HTTP server until the context ends, then drains
// in-flight winner processing.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("pipeline server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("pipeline server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		s.pipeline.Wait()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

type handler struct {
	pipeline *Pipeline
	grantCfg moderator.GrantConfig
	bus      *event.Bus
}

// NewHandler creates the pipeline routes. Exposed separately so tests can
// exercise the surface without binding a port.
func NewHandler(pipeline *Pipeline, grantCfg moderator.GrantConfig, bus *event.Bus) http.Handler {
	h := &handler{pipeline: pipeline, grantCfg: grantCfg, bus: bus}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit", h.handleSubmit)
	mux.HandleFunc("POST /vote", h.handleVote)
	mux.HandleFunc("GET /queue", h.handleQueue)
	mux.HandleFunc("GET /poll", h.handlePoll)
	mux.HandleFunc("GET /history", h.handleHistory)
	mux.HandleFunc("GET /contributors", h.handleContributors)
	mux.HandleFunc("GET /sets/{id}", h.handleGetSet)
	mux.HandleFunc("POST /moderator/approve", h.requireGrant(h.handleApprove))
	mux.HandleFunc("POST /moderator/reject", h.requireGrant(h.handleReject))
	mux.HandleFunc("POST /moderator/cancel-poll", h.requireGrant(h.handleCancelPoll))
	mux.Handle("GET /ws", websocket.Handler(h.handleWS))
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(apperrors.CodeInternal, "internal error", err)
	}
	writeJSON(w, appErr.Code.HTTPStatus(), errorEnvelope{
		Error: errorBody{
			Code:     string(appErr.Code),
			Message:  appErr.Message,
			Metadata: appErr.Metadata,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "invalid request body", err))
		return false
	}
	return true
}

type promptPayload struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	SubmitterID string `json:"submitter_id"`
	SubmittedAt string `json:"submitted_at"`
	State       string `json:"state"`
}

func toPromptPayload(prompt domain.Prompt) promptPayload {
	return promptPayload{
		ID:          prompt.ID,
		Text:        prompt.Text,
		SubmitterID: prompt.SubmitterID,
		SubmittedAt: prompt.SubmittedAt.UTC().Format(time.RFC3339),
		State:       string(prompt.State),
	}
}

func (h *handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text        string `json:"text"`
		SubmitterID string `json:"submitter_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	prompt, err := h.pipeline.Submit(r.Context(), req.Text, req.SubmitterID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"prompt": toPromptPayload(prompt)})
}

func (h *handler) handleVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID      string `json:"session_id"`
		VoterID        string `json:"voter_id"`
		CandidateIndex int    `json:"candidate_index"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.pipeline.Vote(r.Context(), req.SessionID, req.VoterID, req.CandidateIndex); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	prompts := h.pipeline.QueueSnapshot()
	payload := make([]promptPayload, len(prompts))
	for i, prompt := range prompts {
		payload[i] = toPromptPayload(prompt)
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": payload})
}

func (h *handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	session, ok := h.pipeline.CurrentPoll()
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "no poll session is open"))
		return
	}
	candidates := make([]map[string]any, len(session.Prompts))
	for i, prompt := range session.Prompts {
		candidates[i] = map[string]any{
			"index":     i,
			"prompt_id": prompt.ID,
			"text":      prompt.Text,
			"votes":     session.Votes[i],
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": session.ID,
		"started_at": session.StartedAt.UTC().Format(time.RFC3339),
		"ends_at":    session.StartedAt.Add(session.Duration).UTC().Format(time.RFC3339),
		"candidates": candidates,
	})
}

func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := storage.Query{
		Kind:    storage.EntryKind(strings.TrimSpace(r.URL.Query().Get("kind"))),
		Outcome: strings.TrimSpace(r.URL.Query().Get("outcome")),
		Limit:   intQueryParam(r, "limit"),
	}
	entries, err := h.pipeline.History(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	payload := make([]map[string]any, len(entries))
	for i, entry := range entries {
		payload[i] = map[string]any{
			"id":            entry.ID,
			"kind":          string(entry.Kind),
			"prompt_id":     entry.PromptID,
			"action_set_id": entry.ActionSetID,
			"submitter_id":  entry.SubmitterID,
			"text":          entry.Text,
			"outcome":       entry.Outcome,
			"reason":        entry.Reason,
			"detail":        entry.Detail,
			"recorded_at":   entry.RecordedAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": payload})
}

func (h *handler) handleContributors(w http.ResponseWriter, r *http.Request) {
	contributors, err := h.pipeline.TopContributors(r.Context(), intQueryParam(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	payload := make([]map[string]any, len(contributors))
	for i, c := range contributors {
		payload[i] = map[string]any{
			"id":           c.ID,
			"display_name": c.DisplayName,
			"submissions":  c.Submissions,
			"wins":         c.Wins,
			"votes":        c.Votes,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"contributors": payload})
}

func (h *handler) handleGetSet(w http.ResponseWriter, r *http.Request) {
	set, err := h.pipeline.ActionSet(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action_set": toSetPayload(set)})
}

func toSetPayload(set domain.ActionSet) map[string]any {
	actions := make([]map[string]any, len(set.Actions))
	for i, action := range set.Actions {
		actions[i] = map[string]any{
			"id":     action.ID,
			"kind":   action.Kind,
			"params": action.Params,
			"outcome": map[string]any{
				"status": string(action.Outcome.Status),
				"reason": action.Outcome.Reason,
			},
		}
	}
	return map[string]any{
		"id":               set.ID,
		"source_prompt_id": set.SourcePromptID,
		"approval":         string(set.Approval),
		"reason":           set.Reason,
		"state":            string(set.State),
		"actions":          actions,
	}
}

// requireGrant authenticates the moderator bearer token before the handler
// runs.
func (h *handler) requireGrant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		claims, err := moderator.ValidateGrant(token, h.grantCfg)
		if err != nil {
			writeError(w, err)
			return
		}
		log.Printf("server: moderator %s called %s", claims.ModeratorID, r.URL.Path)
		next(w, r)
	}
}

func (h *handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActionSetID string `json:"action_set_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	set, err := h.pipeline.ApproveSet(r.Context(), req.ActionSetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action_set": toSetPayload(set)})
}

func (h *handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActionSetID string `json:"action_set_id"`
		Reason      string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	set, err := h.pipeline.RejectSet(r.Context(), req.ActionSetID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action_set": toSetPayload(set)})
}

func (h *handler) handleCancelPoll(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.CancelPoll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

// handleWS streams pipeline events to the client as JSON lines until the
// connection drops.
func (h *handler) handleWS(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	// Reader goroutine: its exit signals a closed connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		buf := make([]byte, 512)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	encoder := json.NewEncoder(conn)
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := encoder.Encode(evt); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func intQueryParam(r *http.Request, name string) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return value
}
