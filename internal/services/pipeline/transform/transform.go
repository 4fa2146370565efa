// Package transform turns a winning prompt into action-script source, either
// through an external text-transform service or a local fallback template.
package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
	"github.com/louisbranch/hivemind/internal/platform/timeouts"
)

// Transformer produces action-script source from normalized prompt text.
type Transformer interface {
	Transform(ctx context.Context, prompt string) (string, error)
}

const maxResponseBytes = 1 << 16

// Client calls an external transform endpoint over HTTP. The endpoint
// accepts {"prompt": "..."} and answers with the script under an "actions",
// "code", or "text" key.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient returns a client for the given endpoint. apiKey may be empty.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeouts.TransformCall},
	}
}

type transformRequest struct {
	Prompt string `json:"prompt"`
}

type transformResponse struct {
	Actions string `json:"actions"`
	Code    string `json:"code"`
	Text    string `json:"text"`
}

func (r transformResponse) script() string {
	for _, s := range []string{r.Actions, r.Code, r.Text} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// Transform posts the prompt and returns the script from the response.
func (c *Client) Transform(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(transformRequest{Prompt: prompt})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSynthesisFailed, "encode transform request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.TransformCall)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSynthesisFailed, "build transform request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSynthesisFailed, "call transform service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.New(apperrors.CodeSynthesisFailed,
			fmt.Sprintf("transform service returned status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSynthesisFailed, "read transform response", err)
	}

	var decoded transformResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", apperrors.Wrap(apperrors.CodeSynthesisFailed, "decode transform response", err)
	}
	script := decoded.script()
	if script == "" {
		return "", apperrors.New(apperrors.CodeSynthesisFailed, "transform response carried no script")
	}
	return script, nil
}
