package script

import "github.com/louisbranch/hivemind/internal/services/pipeline/domain"

// Risk controls approval routing for an allowed action kind.
type Risk int

const (
	// RiskLow kinds only touch the sandboxed output directory and logs;
	// sets made entirely of them are auto-approved.
	RiskLow Risk = iota
	// RiskHigh kinds reach outside the sandbox and require an explicit
	// moderator decision.
	RiskHigh
)

// Spec describes one allowlisted kind: its risk tag and the names given to
// its positional script arguments.
type Spec struct {
	Risk   Risk
	Params []string
}

// Allowlist is the fixed set of permitted action kinds in the agent.*
// contract.
type Allowlist map[string]Spec

// DefaultAllowlist returns the agent.* contract.
func DefaultAllowlist() Allowlist {
	return Allowlist{
		"agent.log":          {Risk: RiskLow, Params: []string{"message"}},
		"agent.output.write": {Risk: RiskLow, Params: []string{"filename", "content"}},
		"agent.file.create":  {Risk: RiskLow, Params: []string{"filename", "content"}},
		"agent.file.append":  {Risk: RiskLow, Params: []string{"filename", "content"}},
		"agent.input.type":   {Risk: RiskHigh, Params: []string{"text"}},
		"agent.input.click":  {Risk: RiskHigh, Params: []string{"x", "y"}},
	}
}

// Filter splits actions into allowlisted and dropped. Dropped actions are
// never executed, not even partially.
func (a Allowlist) Filter(actions []domain.Action) (kept, dropped []domain.Action) {
	for _, action := range actions {
		if _, ok := a[action.Kind]; ok {
			kept = append(kept, action)
		} else {
			dropped = append(dropped, action)
		}
	}
	return kept, dropped
}

// AllLowRisk reports whether every action kind is tagged low-risk.
// Unknown kinds are never low-risk.
func (a Allowlist) AllLowRisk(actions []domain.Action) bool {
	for _, action := range actions {
		spec, ok := a[action.Kind]
		if !ok || spec.Risk != RiskLow {
			return false
		}
	}
	return true
}
