package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/models"
)

// ErrInvalidBill is returned when a bill payload fails validation.
var ErrInvalidBill = errors.New("invalid bill")

// newValidator returns a validator that understands decimal amounts.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// validateBill checks the required fields of a bill payload. The error lists
// each failing field with the rule it broke.
func validateBill(v *validator.Validate, in models.BillInput) error {
	err := v.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidBill, err)
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fe.Namespace()+" "+fe.Tag())
	}
	return fmt.Errorf("%w: %s", ErrInvalidBill, strings.Join(problems, ", "))
}
