package rules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timbouc/cart/internal/compute"
	"github.com/timbouc/cart/internal/domain"
)

const capVouchers = `is_percentage ? value : (value < -50.0 ? -50.0 : value)`

func TestCompile_InvalidExpression(t *testing.T) {
	_, err := Compile("value +")
	assert.Error(t, err)
}

func TestCompile_UnknownVariable(t *testing.T) {
	_, err := Compile("price * 2.0")
	assert.Error(t, err)
}

func TestCompile_NonNumericResult(t *testing.T) {
	_, err := Compile(`name == "tax"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a number")
}

func TestEvaluate_CapsFixedDiscount(t *testing.T) {
	r, err := Compile(capVouchers)
	require.NoError(t, err)

	got, err := r.Evaluate(compute.ResolvedCondition{Name: "v", Target: "total", Value: decimal.NewFromInt(-80)}, domain.NewContent())
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(-50)), "got %s", got)

	got, err = r.Evaluate(compute.ResolvedCondition{Name: "v", Target: "total", Value: decimal.NewFromInt(-20)}, domain.NewContent())
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(-20)), "got %s", got)
}

func TestEvaluate_SeesItem(t *testing.T) {
	// Never discount an item below zero.
	r, err := Compile(`item_price + value < 0.0 ? -item_price : value`)
	require.NoError(t, err)

	item := domain.CartItem{ItemID: "1", Price: decimal.NewFromInt(8), Quantity: 2}
	got, err := r.Evaluate(compute.ResolvedCondition{Name: "v", Target: "1", Value: decimal.NewFromInt(-10), Item: &item}, domain.NewContent())
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(-8)), "got %s", got)
}

func TestEvaluate_IntResult(t *testing.T) {
	r, err := Compile(`item_quantity > 1 ? -1 : 0`)
	require.NoError(t, err)

	item := domain.CartItem{ItemID: "1", Price: decimal.NewFromInt(8), Quantity: 3}
	got, err := r.Evaluate(compute.ResolvedCondition{Target: "1", Item: &item}, domain.NewContent())
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(-1)))
}

func TestHookFor_EmptyExpression(t *testing.T) {
	hook, err := HookFor("")
	require.NoError(t, err)
	assert.Nil(t, hook)
}

func TestHook_WithEngine(t *testing.T) {
	hook, err := HookFor(capVouchers)
	require.NoError(t, err)

	content := &domain.CartContent{
		Items: []domain.CartItem{{ItemID: "1", Price: decimal.NewFromInt(200), Quantity: 1}},
		Conditions: []domain.CartCondition{
			{Name: "big voucher", Target: domain.TargetTotal, Value: domain.Literal("-120")},
			{Name: "tax", Target: domain.TargetSubtotal, Value: domain.Literal("10%")},
		},
	}

	out, err := compute.New(compute.WithConditionHook(hook)).Compute(content)
	require.NoError(t, err)
	assert.True(t, out.Subtotal.Equal(decimal.NewFromInt(200)))
	// 200 + 20 - 50
	assert.True(t, out.Total.Equal(decimal.NewFromInt(170)), "got %s", out.Total)
}

func TestHook_SubtotalRuleIsIdempotent(t *testing.T) {
	hook, err := HookFor(`subtotal >= 100.0 ? value : 0.0`)
	require.NoError(t, err)
	engine := compute.New(compute.WithConditionHook(hook))

	content := &domain.CartContent{
		Items:      []domain.CartItem{{ItemID: "1", Price: decimal.NewFromInt(150), Quantity: 1}},
		Conditions: []domain.CartCondition{{Name: "voucher", Target: domain.TargetTotal, Value: domain.Literal("-10")}},
	}

	once, err := engine.Compute(content)
	require.NoError(t, err)
	twice, err := engine.Compute(once)
	require.NoError(t, err)

	assert.True(t, once.Total.Equal(decimal.NewFromInt(140)), "got %s", once.Total)
	assert.True(t, twice.Total.Equal(once.Total), "second pass got %s", twice.Total)
}
