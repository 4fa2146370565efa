// Package synth turns a winning prompt into a safety-filtered action set.
package synth

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
	"github.com/louisbranch/hivemind/internal/platform/id"
	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
	"github.com/louisbranch/hivemind/internal/services/pipeline/screen"
	"github.com/louisbranch/hivemind/internal/services/pipeline/script"
	"github.com/louisbranch/hivemind/internal/services/pipeline/transform"
)

var tracer = otel.Tracer("hivemind/pipeline/synth")

// Synthesizer derives action sets: normalize prompt text, call the
// transformer, parse the returned script, and filter it through the
// allowlist.
type Synthesizer struct {
	transformer transform.Transformer
	allow       script.Allowlist
	now         func() time.Time
}

// New returns a Synthesizer using the given transformer.
func New(transformer transform.Transformer) *Synthesizer {
	return &Synthesizer{
		transformer: transformer,
		allow:       script.DefaultAllowlist(),
		now:         time.Now,
	}
}

// Synthesize produces an action set for the winning prompt. A set whose
// actions were all filtered away comes back rejected rather than as an
// error, so the caller can record the terminal state.
func (s *Synthesizer) Synthesize(ctx context.Context, prompt domain.Prompt) (domain.ActionSet, error) {
	ctx, span := tracer.Start(ctx, "synthesize")
	defer span.End()
	span.SetAttributes(attribute.String("prompt.id", prompt.ID))

	setID, err := id.NewID()
	if err != nil {
		return domain.ActionSet{}, apperrors.Wrap(apperrors.CodeInternal, "generate action set id", err)
	}

	normalized := screen.PrepareForTransform(prompt.Text)

	src, err := s.transformer.Transform(ctx, normalized)
	if err != nil {
		return domain.ActionSet{}, err
	}

	actions, err := script.Parse(ctx, src)
	if err != nil {
		return domain.ActionSet{}, err
	}

	kept, dropped := s.allow.Filter(actions)
	for _, action := range dropped {
		log.Printf("synth: dropped disallowed action kind %q for prompt %s", action.Kind, prompt.ID)
	}
	span.SetAttributes(
		attribute.Int("actions.kept", len(kept)),
		attribute.Int("actions.dropped", len(dropped)),
	)

	set := domain.ActionSet{
		ID:             setID,
		SourcePromptID: prompt.ID,
		Actions:        kept,
		CreatedAt:      s.now(),
		State:          domain.ActionSetGenerated,
	}

	switch {
	case len(kept) == 0:
		set.Approval = domain.Rejected
		set.Reason = "no safe actions survived filtering"
	case s.allow.AllLowRisk(kept):
		set.Approval = domain.AutoApproved
	default:
		set.Approval = domain.PendingApproval
		set.Reason = "contains high-risk actions"
	}
	return set, nil
}
