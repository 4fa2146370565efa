package transform

import (
	"context"
	"fmt"
	"strings"
)

// fallbackTextLimit bounds how much prompt text the fallback echoes into the
// output file, counted in runes so truncation never splits a multi-byte
// character.
const fallbackTextLimit = 200

// Fallback generates a minimal fixed script when no transform endpoint is
// configured. It never fails, so the pipeline always produces something for
// a winning prompt.
type Fallback struct{}

// Transform returns a script that logs receipt and writes the prompt text to
// the output directory.
func (Fallback) Transform(_ context.Context, prompt string) (string, error) {
	text := strings.TrimSpace(prompt)
	if runes := []rune(text); len(runes) > fallbackTextLimit {
		text = string(runes[:fallbackTextLimit])
	}
	return fmt.Sprintf("agent.log(%q); agent.output.write(\"prompt.txt\", %q)", "Prompt received", text), nil
}
