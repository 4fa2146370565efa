// Package script parses action scripts in the restricted agent.* call DSL.
//
// Scripts arrive from the text-transform service as a sequence of calls such
// as
//
//	agent.log("Prompt received"); agent.file.create("poem.txt", "...")
//
// Parsing evaluates the script inside a sandboxed Lua state whose only
// global is the agent namespace. Every agent.<...>(...) call is collected as
// a typed action; referencing anything else fails the parse. Unknown agent
// kinds are still collected so the allowlist filter can drop and log them.
package script

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Shopify/go-lua"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
	"github.com/louisbranch/hivemind/internal/platform/id"
	"github.com/louisbranch/hivemind/internal/platform/timeouts"
	"github.com/louisbranch/hivemind/internal/services/pipeline/domain"
)

const (
	maxScriptLength = 4096
	maxActions      = 16
)

// Parse evaluates src and returns the collected actions in call order.
// Evaluation is time-bounded; a script that does not finish within the
// parse timeout is rejected.
func Parse(ctx context.Context, src string) ([]domain.Action, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, apperrors.New(apperrors.CodeSynthesisFailed, "empty action script")
	}
	if len(src) > maxScriptLength {
		return nil, apperrors.New(apperrors.CodeSynthesisFailed, "action script exceeds maximum length")
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.ParseScript)
	defer cancel()

	type result struct {
		actions []domain.Action
		err     error
	}
	done := make(chan result, 1)
	go func() {
		actions, err := evaluate(src)
		done <- result{actions: actions, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.CodeSynthesisFailed, "action script evaluation timed out", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, apperrors.Wrap(apperrors.CodeSynthesisFailed, "invalid action script", res.err)
		}
		return res.actions, nil
	}
}

type collector struct {
	actions []domain.Action
	names   Allowlist
}

func evaluate(src string) ([]domain.Action, error) {
	state := lua.NewState()
	c := &collector{names: DefaultAllowlist()}

	pushNamespace(state, c, "agent")
	state.SetGlobal("agent")

	if err := lua.DoString(state, src); err != nil {
		return nil, fmt.Errorf("run script: %w", err)
	}
	return c.actions, nil
}

// pushNamespace pushes a proxy table for the given kind prefix. Indexing it
// yields a deeper proxy; calling it records an action with the prefix as
// its kind.
func pushNamespace(state *lua.State, c *collector, prefix string) {
	state.NewTable()

	state.NewTable() // metatable
	state.PushGoFunction(func(state *lua.State) int {
		key := lua.CheckString(state, 2)
		pushNamespace(state, c, prefix+"."+key)
		return 1
	})
	state.SetField(-2, "__index")
	state.PushGoFunction(func(state *lua.State) int {
		if len(c.actions) >= maxActions {
			lua.Errorf(state, "too many actions in script")
			return 0
		}
		action, err := c.collect(state, prefix)
		if err != nil {
			lua.Errorf(state, "%s", err.Error())
			return 0
		}
		c.actions = append(c.actions, action)
		return 0
	})
	state.SetField(-2, "__call")
	state.SetMetaTable(-2)
}

// collect reads the call arguments into a named parameter map. Argument 1
// is the proxy table itself.
func (c *collector) collect(state *lua.State, kind string) (domain.Action, error) {
	actionID, err := id.NewID()
	if err != nil {
		return domain.Action{}, err
	}

	var names []string
	if spec, ok := c.names[kind]; ok {
		names = spec.Params
	}

	params := make(map[string]string)
	for i := 2; i <= state.Top(); i++ {
		value, err := scalarAt(state, i)
		if err != nil {
			return domain.Action{}, fmt.Errorf("%s argument %d: %w", kind, i-1, err)
		}
		name := fmt.Sprintf("arg%d", i-1)
		if i-2 < len(names) {
			name = names[i-2]
		}
		params[name] = value
	}

	return domain.Action{
		ID:      actionID,
		Kind:    kind,
		Params:  params,
		Outcome: domain.Outcome{Status: domain.OutcomePending},
	}, nil
}

func scalarAt(state *lua.State, index int) (string, error) {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value, nil
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		if value == math.Trunc(value) {
			return strconv.FormatInt(int64(value), 10), nil
		}
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case lua.TypeBoolean:
		return strconv.FormatBool(state.ToBoolean(index)), nil
	default:
		return "", fmt.Errorf("expected a scalar argument")
	}
}
