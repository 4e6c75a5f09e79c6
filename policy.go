package analyst

import (
	"fmt"
	"sync"

	"github.com/Knetic/govaluate"
)

// DefaultAbortExpression stops sessions stuck on unproductive steps.
const DefaultAbortExpression = "unrecognized >= 3 || malformed >= 3"

// Variables available to abort expressions.
const (
	CounterSteps        = "steps"
	CounterMalformed    = "malformed"
	CounterUnrecognized = "unrecognized"
	CounterQueryErrors  = "query_errors"
	CounterToolCalls    = "tool_calls"
)

var (
	policyFuncsMu sync.RWMutex
	policyFuncs   = map[string]govaluate.ExpressionFunction{
		"ratio": func(args ...interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("ratio expects 2 arguments, got %d", len(args))
			}
			a, ok1 := args[0].(float64)
			b, ok2 := args[1].(float64)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("ratio expects numeric arguments")
			}
			if b == 0 {
				return 0.0, nil
			}
			return a / b, nil
		},
	}
)

// RegisterPolicyFunction makes a custom function available to abort expressions.
func RegisterPolicyFunction(name string, fn govaluate.ExpressionFunction) {
	policyFuncsMu.Lock()
	defer policyFuncsMu.Unlock()
	policyFuncs[name] = fn
}

func policyFunctions() map[string]govaluate.ExpressionFunction {
	policyFuncsMu.RLock()
	defer policyFuncsMu.RUnlock()
	out := make(map[string]govaluate.ExpressionFunction, len(policyFuncs))
	for k, v := range policyFuncs {
		out[k] = v
	}
	return out
}

// AbortPolicy decides when repeated failures end a session early.
type AbortPolicy struct {
	expression string
	eval       *govaluate.EvaluableExpression
}

// NewAbortPolicy compiles an expression over the session counters.
// An empty expression never aborts.
func NewAbortPolicy(expression string) (*AbortPolicy, error) {
	p := &AbortPolicy{expression: expression}
	if expression == "" {
		return p, nil
	}
	eval, err := govaluate.NewEvaluableExpressionWithFunctions(expression, policyFunctions())
	if err != nil {
		return nil, NewConfigurationError(fmt.Sprintf("invalid abort expression %q", expression), err)
	}
	p.eval = eval
	return p, nil
}

// Expression returns the source expression.
func (p *AbortPolicy) Expression() string { return p.expression }

// ShouldAbort evaluates the policy against the current counters.
func (p *AbortPolicy) ShouldAbort(counters map[string]interface{}) (bool, error) {
	if p == nil || p.eval == nil {
		return false, nil
	}
	result, err := p.eval.Evaluate(counters)
	if err != nil {
		return false, fmt.Errorf("evaluate abort expression %q: %w", p.expression, err)
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("abort expression %q returned %T, want bool", p.expression, result)
	}
	return matched, nil
}
