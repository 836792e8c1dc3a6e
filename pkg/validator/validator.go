package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON name so clients see the keys they sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})

	// "decimal" accepts strings (including json.Number) that parse as a
	// decimal number.
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() != reflect.String {
			return false
		}
		_, err := decimal.NewFromString(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks s against its validate tags.
func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return &ValidationError{Errors: fieldErrs}
	}
	return err
}

// ValidationError carries per-field failures.
type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	fields := e.Fields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	msgs := make([]string, 0, len(names))
	for _, name := range names {
		msgs = append(msgs, fmt.Sprintf("%s %s", name, fields[name]))
	}
	return strings.Join(msgs, "; ")
}

// Fields maps JSON field names to messages. For repeated fields (items in a
// batch) the first failure wins.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, fe := range e.Errors {
		if _, ok := fields[fe.Field()]; !ok {
			fields[fe.Field()] = message(fe)
		}
	}
	return fields
}

func message(fe validator.FieldError) string {
	unit := ""
	switch fe.Kind() {
	case reflect.String:
		unit = " characters"
	case reflect.Slice, reflect.Map, reflect.Array:
		unit = " entries"
	}

	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s%s", fe.Param(), unit)
	case "max":
		return fmt.Sprintf("must have at most %s%s", fe.Param(), unit)
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "decimal":
		return "must be a decimal number"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// DecodeAndValidate decodes the JSON request body into dst and validates it.
// Trailing data after the first JSON value is rejected.
func DecodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	if dec.More() {
		return errors.New("decode request body: unexpected data after JSON value")
	}
	return Validate(dst)
}
