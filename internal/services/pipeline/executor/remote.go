package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
	"github.com/louisbranch/hivemind/internal/platform/timeouts"
	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
	"github.com/louisbranch/hivemind/internal/services/pipeline/execute"
)

const maxRemoteResponseBytes = 1 << 14

// Remote sends actions to an external sandbox service over HTTP.
type Remote struct {
	endpoint string
	http     *http.Client
}

// NewRemote returns a client for the sandbox endpoint.
func NewRemote(endpoint string) *Remote {
	return &Remote{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeouts.ExecuteAction},
	}
}

type remoteRequest struct {
	ID     string            `json:"id"`
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params"`
}

type remoteResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

// Execute posts the action to the sandbox. Transport failures are structural
// and halt the set; the sandbox reports per-action failures in the body.
func (r *Remote) Execute(ctx context.Context, action domain.Action) (execute.Result, error) {
	body, err := json.Marshal(remoteRequest{ID: action.ID, Kind: action.Kind, Params: action.Params})
	if err != nil {
		return execute.Result{}, apperrors.Wrap(apperrors.CodeInternal, "encode action", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return execute.Result{}, apperrors.Wrap(apperrors.CodeExecutorUnreachable, "build sandbox request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return execute.Result{}, apperrors.Wrap(apperrors.CodeExecutorUnreachable, "call sandbox", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return execute.Result{}, apperrors.New(apperrors.CodeActionUnsupported,
			fmt.Sprintf("sandbox does not support action kind %q", action.Kind))
	}
	if resp.StatusCode != http.StatusOK {
		return execute.Result{}, apperrors.New(apperrors.CodeExecutorUnreachable,
			fmt.Sprintf("sandbox returned status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponseBytes))
	if err != nil {
		return execute.Result{}, apperrors.Wrap(apperrors.CodeExecutorUnreachable, "read sandbox response", err)
	}
	var decoded remoteResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return execute.Result{}, apperrors.Wrap(apperrors.CodeExecutorUnreachable, "decode sandbox response", err)
	}
	return execute.Result{OK: decoded.OK, Reason: decoded.Reason}, nil
}

var _ execute.Executor = (*Remote)(nil)
