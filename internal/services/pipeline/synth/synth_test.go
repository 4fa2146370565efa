package synth

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
)

type stubTransformer struct {
	script string
	err    error
	prompt string
}

func (s *stubTransformer) Transform(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.script, s.err
}

func testPrompt() domain.Prompt {
	return domain.Prompt{
		ID:          "p1",
		Text:        "make a poem about cats",
		SubmitterID: "viewer1",
		SubmittedAt: time.Now(),
		State:       domain.PromptWon,
	}
}

func TestSynthesizeAutoApprovesLowRiskSets(t *testing.T) {
	stub := &stubTransformer{script: `agent.log("hi"); agent.file.create("poem.txt", "meow")`}
	set, err := New(stub).Synthesize(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if set.Approval != domain.AutoApproved {
		t.Fatalf("approval = %q, want auto approved", set.Approval)
	}
	if set.State != domain.ActionSetGenerated {
		t.Fatalf("state = %q, want generated", set.State)
	}
	if set.SourcePromptID != "p1" {
		t.Fatalf("source prompt = %q, want p1", set.SourcePromptID)
	}
	if len(set.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(set.Actions))
	}
	if set.ID == "" {
		t.Fatal("expected non-empty set id")
	}
}

func TestSynthesizeRoutesHighRiskToPendingApproval(t *testing.T) {
	stub := &stubTransformer{script: `agent.log("hi"); agent.input.type("hello")`}
	set, err := New(stub).Synthesize(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if set.Approval != domain.PendingApproval {
		t.Fatalf("approval = %q, want pending approval", set.Approval)
	}
}

func TestSynthesizeRejectsWhenNothingSurvivesFiltering(t *testing.T) {
	stub := &stubTransformer{script: `agent.app.open("notepad"); agent.shell.run("ls")`}
	set, err := New(stub).Synthesize(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if set.Approval != domain.Rejected {
		t.Fatalf("approval = %q, want rejected", set.Approval)
	}
	if len(set.Actions) != 0 {
		t.Fatalf("actions = %d, want 0", len(set.Actions))
	}
	if set.Reason == "" {
		t.Fatal("expected rejection reason")
	}
}

func TestSynthesizeNormalizesPromptBeforeTransform(t *testing.T) {
	stub := &stubTransformer{script: `agent.log("hi")`}
	prompt := testPrompt()
	prompt.Text = "  make   a poem about https://example.com cats!!!"
	if _, err := New(stub).Synthesize(context.Background(), prompt); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if stub.prompt != "Make a poem about cats!" {
		t.Fatalf("transform prompt = %q, want normalized text", stub.prompt)
	}
}

func TestSynthesizePropagatesTransformFailure(t *testing.T) {
	stub := &stubTransformer{err: apperrors.New(apperrors.CodeSynthesisFailed, "service down")}
	if _, err := New(stub).Synthesize(context.Background(), testPrompt()); apperrors.CodeOf(err) != apperrors.CodeSynthesisFailed {
		t.Fatalf("err = %v, want synthesis failed", err)
	}
}

func TestSynthesizeFailsOnUnparsableScript(t *testing.T) {
	stub := &stubTransformer{script: `os.execute("rm")`}
	if _, err := New(stub).Synthesize(context.Background(), testPrompt()); apperrors.CodeOf(err) != apperrors.CodeSynthesisFailed {
		t.Fatalf("err = %v, want synthesis failed", err)
	}
}
