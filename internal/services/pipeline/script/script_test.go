package script

import (
	"context"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
)

func TestParseCollectsActionsInOrder(t *testing.T) {
	src := `agent.log("Prompt received"); agent.file.create("poem.txt", "roses are red")`
	actions, err := Parse(context.Background(), src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(actions))
	}
	if actions[0].Kind != "agent.log" {
		t.Fatalf("first kind = %q, want %q", actions[0].Kind, "agent.log")
	}
	if actions[0].Params["message"] != "Prompt received" {
		t.Fatalf("message = %q, want %q", actions[0].Params["message"], "Prompt received")
	}
	if actions[1].Kind != "agent.file.create" {
		t.Fatalf("second kind = %q, want %q", actions[1].Kind, "agent.file.create")
	}
	if actions[1].Params["filename"] != "poem.txt" {
		t.Fatalf("filename = %q, want %q", actions[1].Params["filename"], "poem.txt")
	}
	if actions[1].Params["content"] != "roses are red" {
		t.Fatalf("content = %q, want %q", actions[1].Params["content"], "roses are red")
	}
	if actions[0].Outcome.Status != domain.OutcomePending {
		t.Fatalf("outcome = %q, want pending", actions[0].Outcome.Status)
	}
	if actions[0].ID == "" || actions[0].ID == actions[1].ID {
		t.Fatal("expected distinct non-empty action ids")
	}
}

func TestParseCollectsUnknownAgentKinds(t *testing.T) {
	// Unknown kinds parse fine; the allowlist filter drops them later.
	actions, err := Parse(context.Background(), `agent.app.open("notepad")`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions))
	}
	if actions[0].Kind != "agent.app.open" {
		t.Fatalf("kind = %q, want %q", actions[0].Kind, "agent.app.open")
	}
	if actions[0].Params["arg1"] != "notepad" {
		t.Fatalf("arg1 = %q, want %q", actions[0].Params["arg1"], "notepad")
	}
}

func TestParseConvertsScalars(t *testing.T) {
	actions, err := Parse(context.Background(), `agent.input.click(120, 45.5)`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actions[0].Params["x"] != "120" {
		t.Fatalf("x = %q, want %q", actions[0].Params["x"], "120")
	}
	if actions[0].Params["y"] != "45.5" {
		t.Fatalf("y = %q, want %q", actions[0].Params["y"], "45.5")
	}
}

func TestParseRejectsNonAgentGlobals(t *testing.T) {
	cases := []string{
		`os.execute("rm -rf /")`,
		`print("hello")`,
		`io.open("secret")`,
		`load("agent.log('x')")()`,
	}
	for _, src := range cases {
		if _, err := Parse(context.Background(), src); apperrors.CodeOf(err) != apperrors.CodeSynthesisFailed {
			t.Fatalf("Parse(%q) err = %v, want synthesis failed", src, err)
		}
	}
}

func TestParseRejectsEmptyAndOversized(t *testing.T) {
	if _, err := Parse(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty script")
	}
	big := `agent.log("` + strings.Repeat("x", maxScriptLength) + `")`
	if _, err := Parse(context.Background(), big); err == nil {
		t.Fatal("expected error for oversized script")
	}
}

func TestParseRejectsTooManyActions(t *testing.T) {
	src := strings.Repeat(`agent.log("spam"); `, maxActions+1)
	if _, err := Parse(context.Background(), src); err == nil {
		t.Fatal("expected error for too many actions")
	}
}

func TestParseRejectsNonScalarArguments(t *testing.T) {
	if _, err := Parse(context.Background(), `agent.log({nested = true})`); err == nil {
		t.Fatal("expected error for table argument")
	}
}

func TestParseTimesOutOnRunawayScript(t *testing.T) {
	if _, err := Parse(context.Background(), `while true do end`); err == nil {
		t.Fatal("expected timeout for runaway script")
	}
}

func TestFilterDropsUnknownKinds(t *testing.T) {
	allow := DefaultAllowlist()
	actions := []domain.Action{
		{Kind: "agent.log"},
		{Kind: "agent.app.open"},
		{Kind: "agent.file.create"},
	}
	kept, dropped := allow.Filter(actions)
	if len(kept) != 2 {
		t.Fatalf("kept = %d, want 2", len(kept))
	}
	if len(dropped) != 1 || dropped[0].Kind != "agent.app.open" {
		t.Fatalf("dropped = %v, want agent.app.open", dropped)
	}
}

func TestAllLowRisk(t *testing.T) {
	allow := DefaultAllowlist()
	low := []domain.Action{{Kind: "agent.log"}, {Kind: "agent.output.write"}}
	if !allow.AllLowRisk(low) {
		t.Fatal("expected low-risk set")
	}
	mixed := []domain.Action{{Kind: "agent.log"}, {Kind: "agent.input.type"}}
	if allow.AllLowRisk(mixed) {
		t.Fatal("expected mixed set to require manual approval")
	}
	unknown := []domain.Action{{Kind: "agent.unknown"}}
	if allow.AllLowRisk(unknown) {
		t.Fatal("unknown kinds must never be low-risk")
	}
}
