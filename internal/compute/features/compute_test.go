package features

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"github.com/timbouc/cart/internal/compute"
	"github.com/timbouc/cart/internal/domain"
)

type computeTestContext struct {
	engine  *compute.Engine
	content *domain.CartContent
	result  *domain.CartContent
	err     error
}

func (c *computeTestContext) reset() {
	c.engine = compute.New()
	c.content = domain.NewContent()
	c.result = nil
	c.err = nil
}

func (c *computeTestContext) anEmptyCart() error {
	c.content = domain.NewContent()
	return nil
}

func (c *computeTestContext) theCartContains(table *godog.Table) error {
	for i, row := range table.Rows {
		if i == 0 {
			continue // header
		}
		price, err := decimal.NewFromString(row.Cells[1].Value)
		if err != nil {
			return fmt.Errorf("row %d price: %w", i, err)
		}
		qty, err := strconv.Atoi(row.Cells[2].Value)
		if err != nil {
			return fmt.Errorf("row %d quantity: %w", i, err)
		}
		c.content.Items = append(c.content.Items, domain.CartItem{
			ItemID:   row.Cells[0].Value,
			ID:       "product-" + row.Cells[0].Value,
			Name:     "Product " + row.Cells[0].Value,
			Price:    price,
			Quantity: qty,
		})
	}
	return nil
}

func (c *computeTestContext) theConditionTargetsWithValue(name, target, value string) error {
	return c.theConditionTargetsWithValueAndOrder(name, target, value, 0)
}

func (c *computeTestContext) theConditionTargetsWithValueAndOrder(name, target, value string, order int) error {
	c.content.Conditions = append(c.content.Conditions, domain.CartCondition{
		Name:   name,
		Type:   domain.ConditionDiscount,
		Target: target,
		Value:  domain.Literal(value),
		Order:  order,
	})
	return nil
}

func (c *computeTestContext) theCartIsComputed() error {
	c.result, c.err = c.engine.Compute(c.content)
	return nil
}

func (c *computeTestContext) theCartIsComputedTwice() error {
	first, err := c.engine.Compute(c.content)
	if err != nil {
		c.err = err
		return nil
	}
	c.result, c.err = c.engine.Compute(first)
	return nil
}

func (c *computeTestContext) theSubtotalIs(want string) error {
	return c.expectAmount("subtotal", want, func(r *domain.CartContent) decimal.Decimal { return r.Subtotal })
}

func (c *computeTestContext) theTotalIs(want string) error {
	return c.expectAmount("total", want, func(r *domain.CartContent) decimal.Decimal { return r.Total })
}

func (c *computeTestContext) expectAmount(label, want string, get func(*domain.CartContent) decimal.Decimal) error {
	if c.err != nil {
		return fmt.Errorf("expected result but got error: %v", c.err)
	}
	expected, err := decimal.NewFromString(want)
	if err != nil {
		return err
	}
	if got := get(c.result); !got.Equal(expected) {
		return fmt.Errorf("expected %s %s, got %s", label, expected, got)
	}
	return nil
}

func (c *computeTestContext) theComputationFailsWithATargetNotFoundError() error {
	return c.expectError(domain.ErrTargetNotFound)
}

func (c *computeTestContext) theComputationFailsWithAParseError() error {
	return c.expectError(domain.ErrParse)
}

func (c *computeTestContext) expectError(target error) error {
	if c.err == nil {
		return errors.New("expected an error but computation succeeded")
	}
	if !errors.Is(c.err, target) {
		return fmt.Errorf("expected %v, got %v", target, c.err)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &computeTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^an empty cart$`, tc.anEmptyCart)
	ctx.Step(`^the cart contains:$`, tc.theCartContains)
	ctx.Step(`^the condition "([^"]*)" targets "([^"]*)" with value "([^"]*)"$`, tc.theConditionTargetsWithValue)
	ctx.Step(`^the condition "([^"]*)" targets "([^"]*)" with value "([^"]*)" and order (-?\d+)$`, tc.theConditionTargetsWithValueAndOrder)

	// When steps
	ctx.Step(`^the cart is computed$`, tc.theCartIsComputed)
	ctx.Step(`^the cart is computed twice$`, tc.theCartIsComputedTwice)

	// Then steps
	ctx.Step(`^the subtotal is "([^"]*)"$`, tc.theSubtotalIs)
	ctx.Step(`^the total is "([^"]*)"$`, tc.theTotalIs)
	ctx.Step(`^the computation fails with a target not found error$`, tc.theComputationFailsWithATargetNotFoundError)
	ctx.Step(`^the computation fails with a parse error$`, tc.theComputationFailsWithAParseError)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"compute.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
