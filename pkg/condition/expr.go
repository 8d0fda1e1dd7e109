package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// exprEnv is the shared CEL environment for the optional free-form Expr
// guard: an escape hatch beyond env/time_range/day_of_week for conditions
// the fixed predicate set can't express. ctx is the runtime_ctx map built
// by the decision engine for the current enforce call.
var exprEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("ctx", cel.DynType))
})

var (
	exprMu    sync.RWMutex
	exprCache = map[string]cel.Program{}
)

func evalExpr(expr string, runtimeCtx map[string]any) (bool, error) {
	env, err := exprEnv()
	if err != nil {
		return false, fmt.Errorf("condition: cel env: %w", err)
	}

	exprMu.RLock()
	prg, hit := exprCache[expr]
	exprMu.RUnlock()
	if !hit {
		exprMu.Lock()
		if prg, hit = exprCache[expr]; !hit {
			ast, issues := env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				exprMu.Unlock()
				return false, fmt.Errorf("condition: compile expr: %w", issues.Err())
			}
			p, err := env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
			if err != nil {
				exprMu.Unlock()
				return false, fmt.Errorf("condition: build program: %w", err)
			}
			exprCache[expr] = p
			prg = p
		}
		exprMu.Unlock()
	}

	out, _, err := prg.Eval(map[string]any{"ctx": runtimeCtx})
	if err != nil {
		return false, fmt.Errorf("condition: eval expr: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition: expr %q did not evaluate to bool", expr)
	}
	return val, nil
}
