package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ConditionValue is the value of a condition as supplied by the caller: either a
// number (10, -10) or a string literal ("10", "+10", "-10", "10%", "-10%").
// It keeps its original shape so that storing and re-reading a condition never
// changes it.
type ConditionValue struct {
	raw     string
	numeric bool
}

// Number returns a numeric condition value.
func Number(v decimal.Decimal) ConditionValue {
	return ConditionValue{raw: v.String(), numeric: true}
}

// NumberFromFloat returns a numeric condition value from a float.
func NumberFromFloat(v float64) ConditionValue {
	return Number(decimal.NewFromFloat(v))
}

// Literal returns a string condition value such as "-10%" or "+5".
func Literal(s string) ConditionValue {
	return ConditionValue{raw: s}
}

// IsNumeric reports whether the value was supplied as a number.
func (v ConditionValue) IsNumeric() bool { return v.numeric }

// IsZero reports whether no value was supplied.
func (v ConditionValue) IsZero() bool { return v.raw == "" && !v.numeric }

// String returns the value as it was supplied.
func (v ConditionValue) String() string { return v.raw }

// Parse resolves the value into a percentage flag and a numeric change. A
// percentage is returned as a fraction: "10%" yields (true, 0.1).
func (v ConditionValue) Parse() (bool, decimal.Decimal, error) {
	if v.numeric {
		d, err := decimal.NewFromString(v.raw)
		if err != nil {
			return false, decimal.Zero, ParseError(v.raw)
		}
		return false, d, nil
	}

	s := strings.TrimSpace(v.raw)
	percentage := strings.HasSuffix(s, "%")
	if percentage {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	s = strings.TrimPrefix(s, "+")
	if s == "" || strings.HasPrefix(s, "+") {
		return false, decimal.Zero, ParseError(v.raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return false, decimal.Zero, ParseError(v.raw)
	}
	if percentage {
		return true, d.Div(hundred), nil
	}
	return false, d, nil
}

// MarshalJSON writes numbers as JSON numbers and literals as JSON strings.
func (v ConditionValue) MarshalJSON() ([]byte, error) {
	if v.numeric {
		return []byte(v.raw), nil
	}
	return json.Marshal(v.raw)
}

// UnmarshalJSON accepts a JSON number or a JSON string.
func (v *ConditionValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ConditionValue{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Literal(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("condition value must be a number or a string: %w", err)
	}
	*v = ConditionValue{raw: n.String(), numeric: true}
	return nil
}
