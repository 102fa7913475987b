package engine

import (
	"context"
	"fmt"
)

// IfElseHandler evaluates a condition and selects the "true" or "false"
// output handle; edges off the unselected handle are deactivated by the
// engine.
type IfElseHandler struct {
	evaluator *ConditionEvaluator
}

// NewIfElseHandler creates an if/else handler sharing the given evaluator
func NewIfElseHandler(evaluator *ConditionEvaluator) *IfElseHandler {
	return &IfElseHandler{evaluator: evaluator}
}

func (h *IfElseHandler) BlockID() string      { return "logic-if-else" }
func (h *IfElseHandler) NeedsConnector() bool { return false }

func (h *IfElseHandler) Execute(ctx context.Context, req *Request) (*Output, *Error) {
	result, err := h.decide(req)
	if err != nil {
		return nil, err
	}

	handle := "false"
	if result {
		handle = "true"
	}
	return &Output{Value: result, SelectedHandle: handle}, nil
}

func (h *IfElseHandler) decide(req *Request) (bool, *Error) {
	// A conditionPath gate compares a resolved value; a condition
	// expression evaluates as CEL. One of the two is required.
	if _, hasPath := req.Raw["conditionPath"]; hasPath {
		resolved, resolvedOK := req.Config["conditionPath"]
		expected, hasExpected := req.Raw["conditionEquals"]
		if !hasExpected {
			// Bare path gate: truthiness of the resolved value
			return resolvedOK && truthy(resolved), nil
		}
		if !resolvedOK {
			return false, nil
		}
		return looseEqual(resolved, expected), nil
	}

	expr, _ := req.Raw["condition"].(string)
	if expr == "" {
		return false, Errf(KindConfigInvalid, "if-else requires condition or conditionPath")
	}

	// The condition handle, when wired, is exposed as "input"
	input := req.Inputs["condition"]
	result, err := h.evaluator.Evaluate(expr, req.Payload, req.Memory, input)
	if err != nil {
		return false, Errf(KindConfigInvalid, "condition %q: %v", expr, err)
	}
	return result, nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case float64:
		return t != 0
	default:
		return true
	}
}

// looseEqual compares after string normalisation, so "true" matches true
// and "5" matches 5
func looseEqual(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
