package compute

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timbouc/cart/internal/domain"
)

// ============================================================================
// Test Helpers
// ============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func item(itemID, price string, qty int) domain.CartItem {
	return domain.CartItem{ItemID: itemID, ID: "p-" + itemID, Name: "Product " + itemID, Price: dec(price), Quantity: qty}
}

func cond(name, target string, value domain.ConditionValue, order int) domain.CartCondition {
	return domain.CartCondition{Name: name, Type: domain.ConditionVoucher, Target: target, Value: value, Order: order}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// ============================================================================
// Tests
// ============================================================================

func TestCompute_EmptyCart(t *testing.T) {
	out, err := New().Compute(domain.NewContent())

	require.NoError(t, err)
	assertDecimal(t, "0", out.Subtotal)
	assertDecimal(t, "0", out.Total)
}

func TestCompute_NoConditions(t *testing.T) {
	content := &domain.CartContent{Items: []domain.CartItem{item("1", "30", 4)}}

	out, err := New().Compute(content)

	require.NoError(t, err)
	assertDecimal(t, "120", out.Subtotal)
	assertDecimal(t, "120", out.Total)
}

func TestCompute_SubtotalPercentagesDoNotCompound(t *testing.T) {
	content := &domain.CartContent{
		Items: []domain.CartItem{item("1", "20", 1)},
		Conditions: []domain.CartCondition{
			cond("+10% Tax", domain.TargetSubtotal, domain.Literal("+10%"), 0),
			cond("+5% Tax 1", domain.TargetSubtotal, domain.Literal("+5%"), 0),
			cond("-5% Tax 1", domain.TargetSubtotal, domain.Literal("-5%"), 0),
		},
	}

	out, err := New().Compute(content)

	require.NoError(t, err)
	assertDecimal(t, "20", out.Subtotal, "items are not affected by subtotal conditions")
	assertDecimal(t, "22", out.Total)
}

func TestCompute_ItemThenSubtotalThenTotal(t *testing.T) {
	content := &domain.CartContent{
		Items: []domain.CartItem{item("1", "20", 1), item("2", "40", 3)},
		Conditions: []domain.CartCondition{
			// Deliberately out of application order.
			cond("use prepaid credit", domain.TargetTotal, domain.Literal("-15"), 0),
			cond("tax", domain.TargetSubtotal, domain.Literal("10%"), 0),
			cond("Voucher 1 for item 2", "2", domain.NumberFromFloat(-10), 0),
			cond("Voucher 2 for item 2", "2", domain.Literal("-10%"), 0),
		},
	}

	out, err := New().Compute(content)

	require.NoError(t, err)
	// Item 2: (40 - 10) - 10% of 40 = 26 per unit; 20 + 3*26 = 98.
	assertDecimal(t, "98", out.Subtotal)
	// 98 + 9.8 - 15
	assertDecimal(t, "92.8", out.Total)
}

func TestCompute_ItemPercentagesUseOriginalPrice(t *testing.T) {
	content := &domain.CartContent{
		Items: []domain.CartItem{item("1", "40", 1)},
		Conditions: []domain.CartCondition{
			cond("first", "1", domain.Literal("-10%"), 0),
			cond("second", "1", domain.Literal("-10%"), 0),
		},
	}

	out, err := New().Compute(content)

	require.NoError(t, err)
	// 40 - 4 - 4, not 40 * 0.9 * 0.9 = 32.4
	assertDecimal(t, "32", out.Subtotal)
}

func TestCompute_ItemConditionWithoutSubtotalConditionKeepsBaseline(t *testing.T) {
	content := &domain.CartContent{
		Items:      []domain.CartItem{item("1", "40", 2)},
		Conditions: []domain.CartCondition{cond("v", "1", domain.Literal("-5"), 0)},
	}

	out, err := New().Compute(content)

	require.NoError(t, err)
	// Without a subtotal condition the subtotal keeps the pre-condition sum.
	assertDecimal(t, "80", out.Subtotal)
	assertDecimal(t, "80", out.Total)
}

func TestCompute_TotalPercentagesUseSubtotalBaseline(t *testing.T) {
	content := &domain.CartContent{
		Items: []domain.CartItem{item("1", "100", 1)},
		Conditions: []domain.CartCondition{
			cond("shipping", domain.TargetTotal, domain.NumberFromFloat(10), 2),
			cond("discount", domain.TargetTotal, domain.Literal("-10%"), 1),
			cond("service", domain.TargetTotal, domain.Literal("+5%"), 3),
		},
	}

	out, err := New().Compute(content)

	require.NoError(t, err)
	assertDecimal(t, "100", out.Subtotal)
	// 100 - 10 + 10 + 5
	assertDecimal(t, "105", out.Total)
}

func TestCompute_DoesNotMutateInput(t *testing.T) {
	content := &domain.CartContent{
		Items: []domain.CartItem{item("1", "40", 1)},
		Conditions: []domain.CartCondition{
			cond("b", domain.TargetTotal, domain.Literal("+10%"), 0),
			cond("a", "1", domain.Literal("-10"), 0),
		},
	}

	_, err := New().Compute(content)

	require.NoError(t, err)
	assert.Equal(t, "b", content.Conditions[0].Name, "stored condition order is preserved")
	assert.Equal(t, "+10%", content.Conditions[0].Value.String())
	assert.False(t, content.Conditions[1].Value.IsNumeric())
	assertDecimal(t, "40", content.Items[0].Price)
	assert.True(t, content.Subtotal.IsZero())
}

func TestCompute_Idempotent(t *testing.T) {
	content := &domain.CartContent{
		Items: []domain.CartItem{item("1", "20", 1), item("2", "40", 3)},
		Conditions: []domain.CartCondition{
			cond("v1", "2", domain.NumberFromFloat(-10), 0),
			cond("tax", domain.TargetSubtotal, domain.Literal("10%"), 0),
			cond("credit", domain.TargetTotal, domain.Literal("-15"), 0),
		},
	}
	engine := New()

	once, err := engine.Compute(content)
	require.NoError(t, err)
	twice, err := engine.Compute(once)
	require.NoError(t, err)

	assert.True(t, once.Subtotal.Equal(twice.Subtotal))
	assert.True(t, once.Total.Equal(twice.Total))
	assert.Equal(t, once.Conditions, twice.Conditions)
	assert.Equal(t, once.Items, twice.Items)
}

func TestCompute_TargetNotFound(t *testing.T) {
	content := &domain.CartContent{
		Items:      []domain.CartItem{item("1", "10", 1)},
		Conditions: []domain.CartCondition{cond("ghost", "42", domain.Literal("-1"), 0)},
	}

	out, err := New().Compute(content)

	assert.Nil(t, out)
	assert.ErrorIs(t, err, domain.ErrTargetNotFound)
}

func TestCompute_ParseError(t *testing.T) {
	content := &domain.CartContent{
		Items:      []domain.CartItem{item("1", "10", 1)},
		Conditions: []domain.CartCondition{cond("bad", domain.TargetTotal, domain.Literal("ten"), 0)},
	}

	out, err := New().Compute(content)

	assert.Nil(t, out)
	assert.ErrorIs(t, err, domain.ErrParse)
}

// ============================================================================
// Hooks
// ============================================================================

func TestCompute_ItemHookGraduatedPricing(t *testing.T) {
	// Every unit after the tenth costs half.
	graduated := func(it domain.CartItem, _ *domain.CartContent) decimal.Decimal {
		full := min(it.Quantity, 10)
		half := it.Quantity - full
		return it.Price.Mul(decimal.NewFromInt(int64(full))).
			Add(it.Price.Div(decimal.NewFromInt(2)).Mul(decimal.NewFromInt(int64(half))))
	}
	content := &domain.CartContent{Items: []domain.CartItem{item("1", "2", 14)}}

	out, err := New(WithItemHook(graduated)).Compute(content)

	require.NoError(t, err)
	assertDecimal(t, "24", out.Subtotal)
	assertDecimal(t, "24", out.Total)
}

func TestCompute_ConditionHookCapsDiscount(t *testing.T) {
	capAt := dec("-5")
	hook := func(c ResolvedCondition, _ *domain.CartContent) (decimal.Decimal, error) {
		if !c.IsPercentage && c.Value.LessThan(capAt) {
			return capAt, nil
		}
		return c.Value, nil
	}
	content := &domain.CartContent{
		Items:      []domain.CartItem{item("1", "100", 1)},
		Conditions: []domain.CartCondition{cond("big voucher", domain.TargetTotal, domain.Literal("-50"), 0)},
	}

	out, err := New(WithConditionHook(hook)).Compute(content)

	require.NoError(t, err)
	assertDecimal(t, "95", out.Total)
}

func TestCompute_ConditionHookSeesRunningItem(t *testing.T) {
	var seen []decimal.Decimal
	hook := func(c ResolvedCondition, _ *domain.CartContent) (decimal.Decimal, error) {
		require.NotNil(t, c.Item)
		seen = append(seen, c.Item.Price)
		return c.Value, nil
	}
	content := &domain.CartContent{
		Items: []domain.CartItem{item("1", "40", 1)},
		Conditions: []domain.CartCondition{
			cond("a", "1", domain.Literal("-10"), 0),
			cond("b", "1", domain.Literal("-10"), 1),
		},
	}

	_, err := New(WithConditionHook(hook)).Compute(content)

	require.NoError(t, err)
	require.Len(t, seen, 2)
	assertDecimal(t, "40", seen[0])
	assertDecimal(t, "30", seen[1])
}

func TestCompute_ConditionHookSeesRunningTotals(t *testing.T) {
	type totals struct{ subtotal, total decimal.Decimal }
	var seen []totals
	hook := func(c ResolvedCondition, content *domain.CartContent) (decimal.Decimal, error) {
		seen = append(seen, totals{content.Subtotal, content.Total})
		return c.Value, nil
	}
	content := &domain.CartContent{
		Items: []domain.CartItem{item("1", "150", 1)},
		Conditions: []domain.CartCondition{
			cond("fee", domain.TargetSubtotal, domain.Literal("+10"), 0),
			cond("voucher", domain.TargetTotal, domain.Literal("-20"), 0),
		},
		// Stale values from an earlier pass.
		Subtotal: dec("999"),
		Total:    dec("999"),
	}

	_, err := New(WithConditionHook(hook)).Compute(content)

	require.NoError(t, err)
	require.Len(t, seen, 2)
	assertDecimal(t, "150", seen[0].subtotal)
	assertDecimal(t, "160", seen[1].subtotal)
	assertDecimal(t, "160", seen[1].total)
}

func TestCompute_IdempotentWithTotalsDependentHook(t *testing.T) {
	// Only discount orders of 100 or more.
	hook := func(c ResolvedCondition, content *domain.CartContent) (decimal.Decimal, error) {
		if content.Subtotal.LessThan(dec("100")) {
			return decimal.Zero, nil
		}
		return c.Value, nil
	}
	engine := New(WithConditionHook(hook))
	content := &domain.CartContent{
		Items:      []domain.CartItem{item("1", "150", 1)},
		Conditions: []domain.CartCondition{cond("voucher", domain.TargetTotal, domain.Literal("-10"), 0)},
	}

	once, err := engine.Compute(content)
	require.NoError(t, err)
	twice, err := engine.Compute(once)
	require.NoError(t, err)

	assertDecimal(t, "140", once.Total)
	assertDecimal(t, once.Total.String(), twice.Total)
	assertDecimal(t, once.Subtotal.String(), twice.Subtotal)
}

func TestCompute_ConditionHookError(t *testing.T) {
	boom := errors.New("rule failed")
	hook := func(ResolvedCondition, *domain.CartContent) (decimal.Decimal, error) {
		return decimal.Zero, boom
	}
	content := &domain.CartContent{
		Items:      []domain.CartItem{item("1", "10", 1)},
		Conditions: []domain.CartCondition{cond("x", domain.TargetSubtotal, domain.Literal("1"), 0)},
	}

	_, err := New(WithConditionHook(hook)).Compute(content)

	assert.ErrorIs(t, err, boom)
}

// ============================================================================
// Ordering
// ============================================================================

func TestSorted_RankOrderTarget(t *testing.T) {
	in := []domain.CartCondition{
		cond("total-0", domain.TargetTotal, domain.Literal("1"), 0),
		cond("sub-2", domain.TargetSubtotal, domain.Literal("1"), 2),
		cond("item-b", "b", domain.Literal("1"), 0),
		cond("sub-1", domain.TargetSubtotal, domain.Literal("1"), 1),
		cond("item-a-1", "a", domain.Literal("1"), 1),
		cond("item-a-0", "a", domain.Literal("1"), 0),
	}

	got := Sorted(in)

	names := make([]string, len(got))
	for i, c := range got {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"item-a-0", "item-b", "item-a-1", "sub-1", "sub-2", "total-0"}, names)
	assert.Equal(t, "total-0", in[0].Name, "input is left untouched")
}

func TestSorted_FullTiesKeepInsertionOrder(t *testing.T) {
	in := []domain.CartCondition{
		cond("z", domain.TargetTotal, domain.Literal("1"), 0),
		cond("a", domain.TargetTotal, domain.Literal("1"), 0),
		cond("m", domain.TargetTotal, domain.Literal("1"), 0),
	}

	for i := 0; i < 5; i++ {
		got := Sorted(in)
		assert.Equal(t, "z", got[0].Name)
		assert.Equal(t, "a", got[1].Name)
		assert.Equal(t, "m", got[2].Name)
	}
}
