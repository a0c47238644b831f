package guard

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/tessara-labs/payguard/pkg/contracts"
)

// celEvaluator compiles and caches custom guard expressions. Programs carry a
// cost limit so a pathological expression cannot stall evaluation.
//
// The intent's amount is bound as its exact decimal string, never as a float,
// so expressions can compare amounts without rounding: use string equality
// for exact matches and double(amount) for threshold comparisons where float
// precision is acceptable.
type celEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newCELEvaluator() (*celEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.StringType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("recipient", cel.StringType),
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("source_chain", cel.StringType),
		cel.Variable("dest_chain", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &celEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

func (e *celEvaluator) eval(expr string, intent contracts.PaymentIntent) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"amount":       intent.Amount.String(),
		"currency":     intent.Currency,
		"recipient":    intent.Recipient,
		"agent_id":     intent.AgentID,
		"source_chain": intent.SourceChain,
		"dest_chain":   intent.DestChain,
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression result is not a boolean")
	}
	return val, nil
}

func (e *celEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.cache[expr] = prg
	return prg, nil
}
