package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Reserved condition targets. Any other target names an item id.
const (
	TargetSubtotal = "subtotal"
	TargetTotal    = "total"
)

// ConditionType classifies a condition. It is informational only.
type ConditionType string

const (
	ConditionTax      ConditionType = "tax"
	ConditionVoucher  ConditionType = "voucher"
	ConditionSale     ConditionType = "sale"
	ConditionDiscount ConditionType = "discount"
	ConditionCoupon   ConditionType = "coupon"
	ConditionShipping ConditionType = "shipping"
)

// ItemOption is an opaque attribute set attached to a cart item, e.g. a variant selector.
type ItemOption map[string]any

// CartContent is the full snapshot of one cart session.
type CartContent struct {
	Items      []CartItem      `json:"items"`
	Conditions []CartCondition `json:"conditions"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Total      decimal.Decimal `json:"total"`
	Data       map[string]any  `json:"data,omitempty"`
}

// CartItem is a single line in the cart.
type CartItem struct {
	ItemID   string          `json:"item_id"`
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Options  []ItemOption    `json:"options,omitempty"`

	// Extra carries pass-through fields. They are flattened into the JSON object.
	Extra map[string]any `json:"-"`
}

// CartCondition is a priced adjustment applied to an item, the subtotal or the total.
type CartCondition struct {
	Name       string         `json:"name"`
	Type       ConditionType  `json:"type"`
	Target     string         `json:"target"`
	Value      ConditionValue `json:"value"`
	Order      int            `json:"order,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NewContent returns the empty snapshot used when a session has nothing stored.
func NewContent() *CartContent {
	return &CartContent{
		Items:      []CartItem{},
		Conditions: []CartCondition{},
		Subtotal:   decimal.Zero,
		Total:      decimal.Zero,
	}
}

// Clone returns a deep copy of the snapshot.
func (c *CartContent) Clone() *CartContent {
	out := &CartContent{
		Items:      make([]CartItem, len(c.Items)),
		Conditions: make([]CartCondition, len(c.Conditions)),
		Subtotal:   c.Subtotal,
		Total:      c.Total,
	}
	for i := range c.Items {
		out.Items[i] = c.Items[i].Clone()
	}
	for i := range c.Conditions {
		out.Conditions[i] = c.Conditions[i].Clone()
	}
	if c.Data != nil {
		out.Data = copyMap(c.Data)
	}
	return out
}

// ItemCount returns the total quantity across all lines.
func (c *CartContent) ItemCount() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// FindItemIndex returns the index of the item with the given item id, or -1.
func (c *CartContent) FindItemIndex(itemID string) int {
	for i := range c.Items {
		if c.Items[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

// FindConditionIndex returns the index of the condition with the given name, or -1.
func (c *CartContent) FindConditionIndex(name string) int {
	for i := range c.Conditions {
		if c.Conditions[i].Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the item.
func (it CartItem) Clone() CartItem {
	out := it
	if it.Options != nil {
		out.Options = make([]ItemOption, len(it.Options))
		for i, o := range it.Options {
			out.Options[i] = ItemOption(copyMap(o))
		}
	}
	if it.Extra != nil {
		out.Extra = copyMap(it.Extra)
	}
	return out
}

// SameOptions reports whether two option lists are equal. Two empty lists are equal;
// otherwise the lists must have the same length and equal entries in the same order.
func SameOptions(a, b []ItemOption) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if len(a) != len(b) {
		return false
	}
	// encoding/json sorts map keys, so the encoding is canonical for comparison.
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

var itemFields = map[string]struct{}{
	"item_id": {}, "id": {}, "name": {}, "price": {}, "quantity": {}, "options": {},
}

type itemJSON struct {
	ItemID   string          `json:"item_id"`
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Options  []ItemOption    `json:"options,omitempty"`
}

// MarshalJSON flattens Extra next to the known item fields.
func (it CartItem) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(itemJSON{
		ItemID:   it.ItemID,
		ID:       it.ID,
		Name:     it.Name,
		Price:    it.Price,
		Quantity: it.Quantity,
		Options:  it.Options,
	})
	if err != nil {
		return nil, err
	}
	if len(it.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(it.Extra)+len(itemFields))
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range it.Extra {
		if _, reserved := itemFields[k]; reserved {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal item field %q: %w", k, err)
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON reads the known item fields and keeps every other field in Extra.
func (it *CartItem) UnmarshalJSON(data []byte) error {
	var known itemJSON
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*it = CartItem{
		ItemID:   known.ItemID,
		ID:       known.ID,
		Name:     known.Name,
		Price:    known.Price,
		Quantity: known.Quantity,
		Options:  known.Options,
	}
	for k, v := range all {
		if _, reserved := itemFields[k]; reserved {
			continue
		}
		if it.Extra == nil {
			it.Extra = make(map[string]any)
		}
		it.Extra[k] = v
	}
	return nil
}

// Clone returns a deep copy of the condition.
func (c CartCondition) Clone() CartCondition {
	out := c
	if c.Attributes != nil {
		out.Attributes = copyMap(c.Attributes)
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case ItemOption:
		return ItemOption(copyMap(t))
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = copyValue(t[i])
		}
		return out
	default:
		return v
	}
}
