package domain

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// PricePlaces is the number of decimal places item prices are rounded to on ingestion.
const PricePlaces = 2

// ItemInput is a candidate item passed to Add. Price and Quantity accept either a
// JSON number or a numeric JSON string.
type ItemInput struct {
	ItemID     string          `json:"item_id,omitempty" validate:"max=100"`
	ID         string          `json:"id" validate:"required,max=100"`
	Name       string          `json:"name" validate:"max=500"`
	Price      json.Number     `json:"price" validate:"required,decimal"`
	Quantity   json.Number     `json:"quantity,omitempty"`
	Options    []ItemOption    `json:"options,omitempty"`
	Conditions []CartCondition `json:"conditions,omitempty" validate:"-"`

	Extra map[string]any `json:"-"`
}

var inputFields = map[string]struct{}{
	"item_id": {}, "id": {}, "name": {}, "price": {}, "quantity": {}, "options": {}, "conditions": {},
}

// UnmarshalJSON keeps unknown fields in Extra. Numeric product ids are accepted.
func (in *ItemInput) UnmarshalJSON(data []byte) error {
	type plain struct {
		ItemID     json.RawMessage `json:"item_id"`
		ID         json.RawMessage `json:"id"`
		Name       string          `json:"name"`
		Price      json.Number     `json:"price"`
		Quantity   json.Number     `json:"quantity"`
		Options    []ItemOption    `json:"options"`
		Conditions []CartCondition `json:"conditions"`
	}
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*in = ItemInput{
		ItemID:     rawID(p.ItemID),
		ID:         rawID(p.ID),
		Name:       p.Name,
		Price:      p.Price,
		Quantity:   p.Quantity,
		Options:    p.Options,
		Conditions: p.Conditions,
	}
	for k, v := range all {
		if _, known := inputFields[k]; known {
			continue
		}
		if in.Extra == nil {
			in.Extra = make(map[string]any)
		}
		in.Extra[k] = v
	}
	return nil
}

// rawID turns a JSON string or number into its string form.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// NormalizePrice parses a price and rounds it to two decimal places.
func NormalizePrice(n json.Number) (decimal.Decimal, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return decimal.Zero, OperationFailed("add to cart", "price is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, OperationFailed("add to cart", "invalid price "+s)
	}
	return d.Round(PricePlaces), nil
}

// NormalizeQuantity parses a quantity, keeping its integer part. An empty
// quantity defaults to 1.
func NormalizeQuantity(n json.Number) (int, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 1, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, OperationFailed("add to cart", "invalid quantity "+s)
	}
	return int(d.IntPart()), nil
}

// UpdateOptions lists the item fields Update overwrites. Zero values leave the
// field untouched.
type UpdateOptions struct {
	Name     string           `json:"name,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Quantity *QuantityUpdate  `json:"quantity,omitempty"`
	Options  []ItemOption     `json:"options,omitempty"`
}

// QuantityUpdate changes an item quantity. A relative update adds Value to the
// current quantity; otherwise Value replaces it.
type QuantityUpdate struct {
	Relative bool        `json:"relative"`
	Value    json.Number `json:"value"`
}

// SetQuantity returns an absolute quantity update.
func SetQuantity(q int) *QuantityUpdate {
	return &QuantityUpdate{Value: json.Number(decimal.NewFromInt(int64(q)).String())}
}

// AddQuantity returns a relative quantity update.
func AddQuantity(delta int) *QuantityUpdate {
	return &QuantityUpdate{Relative: true, Value: json.Number(decimal.NewFromInt(int64(delta)).String())}
}

// UnmarshalJSON accepts either a plain number (absolute) or {relative, value}.
func (q *QuantityUpdate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		type plain QuantityUpdate
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*q = QuantityUpdate(p)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*q = QuantityUpdate{Value: n}
	return nil
}

// Apply returns the new quantity given the current one.
func (q *QuantityUpdate) Apply(current int) (int, error) {
	s := strings.TrimSpace(q.Value.String())
	d, err := decimal.NewFromString(s)
	if err != nil {
		return current, OperationFailed("update cart", "invalid quantity "+s)
	}
	v := int(d.IntPart())
	if q.Relative {
		return current + v, nil
	}
	return v, nil
}
