package coupon

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// RuleInput: переменные, доступные в правиле купона.
type RuleInput struct {
	// TotalMinor переводится в песо (double) как переменная total.
	TotalMinor int64
	Items      int64
	Method     string
	UserID     string
}

// RuleEngine компилирует и кэширует CEL-правила купонов.
type RuleEngine struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewRuleEngine объявляет переменные total, items, method и user_id.
func NewRuleEngine() (*RuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("total", cel.DoubleType),
		cel.Variable("items", cel.IntType),
		cel.Variable("method", cel.StringType),
		cel.Variable("user_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	return &RuleEngine{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile проверяет выражение; результат должен быть bool.
func (e *RuleEngine) Compile(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile coupon rule: %w", iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("coupon rule must return bool, got %s", ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build coupon rule program: %w", err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// Eval вычисляет правило для конкретного заказа.
func (e *RuleEngine) Eval(expr string, in RuleInput) (bool, error) {
	prg, err := e.Compile(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"total":   float64(in.TotalMinor) / 100,
		"items":   in.Items,
		"method":  in.Method,
		"user_id": in.UserID,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate coupon rule: %w", err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("coupon rule returned %T", out.Value())
	}
	return matched, nil
}
