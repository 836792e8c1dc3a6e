// Package compute turns a cart snapshot's items and conditions into a subtotal
// and a total.
//
// Conditions are applied in a fixed order: item conditions first, then subtotal
// conditions, then total conditions. Percentages are always taken from the value
// the target had before any condition of the batch was applied, so they add up
// instead of compounding.
package compute

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/timbouc/cart/internal/domain"
)

// ResolvedCondition is what a ConditionHook sees for one condition.
type ResolvedCondition struct {
	Name         string
	Target       string
	Value        decimal.Decimal
	IsPercentage bool
	// Item is the targeted item with its running price, nil for subtotal and total targets.
	Item *domain.CartItem
}

// ItemHook returns the value an item contributes to the subtotal.
type ItemHook func(item domain.CartItem, content *domain.CartContent) decimal.Decimal

// ConditionHook returns the change to apply for a condition. For percentage
// conditions the returned value is the fraction (0.1 for 10%).
type ConditionHook func(cond ResolvedCondition, content *domain.CartContent) (decimal.Decimal, error)

// DefaultItemHook is quantity × price.
func DefaultItemHook(item domain.CartItem, _ *domain.CartContent) decimal.Decimal {
	return item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// DefaultConditionHook returns the parsed value unchanged.
func DefaultConditionHook(cond ResolvedCondition, _ *domain.CartContent) (decimal.Decimal, error) {
	return cond.Value, nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithItemHook overrides how an item's subtotal contribution is computed.
func WithItemHook(h ItemHook) Option {
	return func(e *Engine) {
		if h != nil {
			e.itemValue = h
		}
	}
}

// WithConditionHook overrides how a condition's change is resolved.
func WithConditionHook(h ConditionHook) Option {
	return func(e *Engine) {
		if h != nil {
			e.conditionValue = h
		}
	}
}

// Engine computes cart totals. It holds no state between calls and is safe
// for concurrent use.
type Engine struct {
	itemValue      ItemHook
	conditionValue ConditionHook
}

// New creates an engine with the default hooks, overridden by opts.
func New(opts ...Option) *Engine {
	e := &Engine{
		itemValue:      DefaultItemHook,
		conditionValue: DefaultConditionHook,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type line struct {
	item     domain.CartItem
	price    decimal.Decimal
	quantity int
}

// Compute returns a copy of content with Subtotal and Total recomputed. Items,
// conditions and data are copied unchanged; content itself is not modified.
func (e *Engine) Compute(content *domain.CartContent) (*domain.CartContent, error) {
	out := content.Clone()
	// Hooks read out, so it carries this pass's running totals rather than the
	// stored ones. Results then depend on items and conditions alone.
	out.Subtotal, out.Total = decimal.Zero, decimal.Zero

	// initial is the frozen pre-condition reference for item percentages.
	initial := make(map[string]line, len(out.Items))
	current := make(map[string]*line, len(out.Items))
	for _, item := range out.Items {
		initial[item.ItemID] = line{item: item, price: item.Price, quantity: item.Quantity}
		current[item.ItemID] = &line{item: item, price: item.Price, quantity: item.Quantity}
	}

	subtotal := decimal.Zero
	for _, item := range out.Items {
		subtotal = subtotal.Add(e.itemValue(item, out))
	}
	total := subtotal
	initialSubtotal, initialTotal := subtotal, total

	var sawSubtotal, sawTotal bool
	for _, cond := range Sorted(out.Conditions) {
		isPercentage, change, err := cond.Value.Parse()
		if err != nil {
			return nil, err
		}

		resolved := ResolvedCondition{
			Name:         cond.Name,
			Target:       cond.Target,
			Value:        change,
			IsPercentage: isPercentage,
		}

		switch cond.Target {
		case domain.TargetSubtotal:
			if !sawSubtotal {
				subtotal = e.sum(out, current)
				initialSubtotal = subtotal
				sawSubtotal = true
			}
			out.Subtotal, out.Total = subtotal, total
			change, err = e.conditionValue(resolved, out)
			if err != nil {
				return nil, err
			}
			subtotal = apply(initialSubtotal, subtotal, isPercentage, change)

		case domain.TargetTotal:
			if !sawTotal {
				total = subtotal
				initialTotal = total
				sawTotal = true
			}
			out.Subtotal, out.Total = subtotal, total
			change, err = e.conditionValue(resolved, out)
			if err != nil {
				return nil, err
			}
			total = apply(initialTotal, total, isPercentage, change)

		default:
			cur, ok := current[cond.Target]
			if !ok {
				return nil, domain.TargetNotFound(cond.Target)
			}
			item := cur.snapshot()
			resolved.Item = &item
			out.Subtotal, out.Total = subtotal, total
			change, err = e.conditionValue(resolved, out)
			if err != nil {
				return nil, err
			}
			cur.price = apply(initial[cond.Target].price, cur.price, isPercentage, change)
		}
	}

	if !sawTotal {
		total = subtotal
	}
	if sawSubtotal {
		subtotal = e.sum(out, current)
	}

	out.Subtotal = subtotal
	out.Total = total
	return out, nil
}

// sum adds up the running item values in cart order.
func (e *Engine) sum(content *domain.CartContent, current map[string]*line) decimal.Decimal {
	s := decimal.Zero
	for _, item := range content.Items {
		s = s.Add(e.itemValue(current[item.ItemID].snapshot(), content))
	}
	return s
}

func (l *line) snapshot() domain.CartItem {
	item := l.item
	item.Price = l.price
	item.Quantity = l.quantity
	return item
}

func apply(initial, current decimal.Decimal, isPercentage bool, change decimal.Decimal) decimal.Decimal {
	if isPercentage {
		return current.Add(initial.Mul(change))
	}
	return current.Add(change)
}

// Sorted returns a copy of conditions in application order: item targets, then
// "subtotal", then "total"; within a rank by ascending Order, then by target.
// Remaining ties keep their original order.
func Sorted(conditions []domain.CartCondition) []domain.CartCondition {
	out := slices.Clone(conditions)
	slices.SortStableFunc(out, func(a, b domain.CartCondition) int {
		if c := cmp.Compare(rank(a.Target), rank(b.Target)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.Target, b.Target)
	})
	return out
}

func rank(target string) int {
	switch target {
	case domain.TargetSubtotal:
		return 1
	case domain.TargetTotal:
		return 2
	default:
		return 0
	}
}
