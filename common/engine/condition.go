package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// ConditionEvaluator evaluates CEL expressions against run state.
// Compiled programs are cached per expression; the evaluator is shared
// across workers.
type ConditionEvaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewConditionEvaluator creates an evaluator with an empty program cache
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{
		cache: make(map[string]cel.Program),
	}
}

// Evaluate runs a boolean expression with payload, memory and input in
// scope. "$." is accepted as shorthand for "memory." so expressions can
// reference earlier outputs the same way paths do.
func (e *ConditionEvaluator) Evaluate(expr string, payload, memory map[string]interface{}, input interface{}) (bool, error) {
	normalized := strings.ReplaceAll(expr, "$.", "memory.")

	e.mu.RLock()
	prg, exists := e.cache[normalized]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(normalized)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.cache[normalized] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"payload": payload,
		"memory":  memory,
		"input":   input,
	})
	if err != nil {
		return false, fmt.Errorf("condition evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return boolean, got %T", out.Value())
	}

	return result, nil
}

func (e *ConditionEvaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("payload", cel.DynType),
		cel.Variable("memory", cel.DynType),
		cel.Variable("input", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return prg, nil
}

// CacheSize returns the number of cached programs
func (e *ConditionEvaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
