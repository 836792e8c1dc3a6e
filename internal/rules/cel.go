// Package rules adapts a CEL expression into a compute.ConditionHook so the
// value of a condition can be reshaped by configuration, e.g. capping a voucher.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/shopspring/decimal"

	"github.com/timbouc/cart/internal/compute"
	"github.com/timbouc/cart/internal/domain"
)

// Variables available to a rule expression.
const (
	VarName         = "name"
	VarValue        = "value"
	VarIsPercentage = "is_percentage"
	VarTarget       = "target"
	VarItemPrice    = "item_price"
	VarItemQuantity = "item_quantity"
	VarSubtotal     = "subtotal"
	VarTotal        = "total"
)

// Rule is a compiled condition rule. It is safe for concurrent use.
type Rule struct {
	expr string
	prg  cel.Program
}

// Compile parses and checks expr. The expression must evaluate to a number.
func Compile(expr string) (*Rule, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarName, cel.StringType),
		cel.Variable(VarValue, cel.DoubleType),
		cel.Variable(VarIsPercentage, cel.BoolType),
		cel.Variable(VarTarget, cel.StringType),
		cel.Variable(VarItemPrice, cel.DoubleType),
		cel.Variable(VarItemQuantity, cel.IntType),
		cel.Variable(VarSubtotal, cel.DoubleType),
		cel.Variable(VarTotal, cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile rule %q: %w", expr, iss.Err())
	}
	switch ast.OutputType().Kind() {
	case types.DoubleKind, types.IntKind, types.UintKind, types.DynKind:
	default:
		return nil, fmt.Errorf("compile rule %q: result must be a number, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build rule program %q: %w", expr, err)
	}
	return &Rule{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (r *Rule) String() string {
	return r.expr
}

// Evaluate runs the rule for one condition and returns the change to apply.
func (r *Rule) Evaluate(cond compute.ResolvedCondition, content *domain.CartContent) (decimal.Decimal, error) {
	value, _ := cond.Value.Float64()
	subtotal, _ := content.Subtotal.Float64()
	total, _ := content.Total.Float64()

	vars := map[string]any{
		VarName:         cond.Name,
		VarValue:        value,
		VarIsPercentage: cond.IsPercentage,
		VarTarget:       cond.Target,
		VarItemPrice:    0.0,
		VarItemQuantity: int64(0),
		VarSubtotal:     subtotal,
		VarTotal:        total,
	}
	if cond.Item != nil {
		price, _ := cond.Item.Price.Float64()
		vars[VarItemPrice] = price
		vars[VarItemQuantity] = int64(cond.Item.Quantity)
	}

	out, _, err := r.prg.Eval(vars)
	if err != nil {
		return decimal.Zero, fmt.Errorf("evaluate rule for condition %q: %w", cond.Name, err)
	}

	switch v := out.Value().(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case uint64:
		return decimal.NewFromUint64(v), nil
	default:
		return decimal.Zero, fmt.Errorf("evaluate rule for condition %q: result %v is not a number", cond.Name, out.Value())
	}
}

// Hook returns the rule as a compute.ConditionHook.
func (r *Rule) Hook() compute.ConditionHook {
	return r.Evaluate
}

// HookFor compiles expr and returns its hook. An empty expression yields a nil
// hook, which leaves the engine's default in place.
func HookFor(expr string) (compute.ConditionHook, error) {
	if expr == "" {
		return nil, nil
	}
	r, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	return r.Hook(), nil
}
