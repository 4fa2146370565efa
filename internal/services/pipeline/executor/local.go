// Package executor provides action executors: a local filesystem sandbox and
// a client for a remote sandbox service.
package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
	"github.com/louisbranch/hivemind/internal/services/pipeline/execute"
)

const outputFileMode = 0o644

// Local executes file and log actions inside a single output directory.
// Input-injection kinds are not supported locally and fail per action.
type Local struct {
	outputDir string
}

// NewLocal creates the output directory if needed.
func NewLocal(outputDir string) (*Local, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Local{outputDir: outputDir}, nil
}

// Execute performs one action. Unsupported kinds fail the action without
// halting the set.
func (l *Local) Execute(ctx context.Context, action domain.Action) (execute.Result, error) {
	if err := ctx.Err(); err != nil {
		return execute.Result{}, err
	}

	switch action.Kind {
	case "agent.log":
		log.Printf("executor: %s", action.Params["message"])
		return execute.Result{OK: true}, nil
	case "agent.output.write", "agent.file.create":
		return l.writeFile(action, false)
	case "agent.file.append":
		return l.writeFile(action, true)
	default:
		return execute.Result{OK: false, Reason: fmt.Sprintf("action kind %q is not supported locally", action.Kind)}, nil
	}
}

func (l *Local) writeFile(action domain.Action, appendMode bool) (execute.Result, error) {
	name := sanitizeFilename(action.Params["filename"])
	path := filepath.Join(l.outputDir, name)

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, outputFileMode)
	if err != nil {
		return execute.Result{OK: false, Reason: fmt.Sprintf("open %s: %v", name, err)}, nil
	}
	defer file.Close()

	if _, err := file.WriteString(action.Params["content"]); err != nil {
		return execute.Result{OK: false, Reason: fmt.Sprintf("write %s: %v", name, err)}, nil
	}
	return execute.Result{OK: true}, nil
}

// sanitizeFilename strips path components and keeps only a conservative
// character set so scripts cannot escape the output directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return "output.txt"
	}
	return cleaned
}

var _ execute.Executor = (*Local)(nil)
