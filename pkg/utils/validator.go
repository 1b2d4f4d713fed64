package utils

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	controlChars  = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// Validator returns the shared validator. Besides the built-in tags it knows
// "currency" (ISO 4217 alpha code) and "nonnegative" / "positive" for
// decimal.Decimal fields.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// Use json names in error messages
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		// Decimals are validated through their exact string form
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				return d.String()
			}
			return nil
		}, decimal.Decimal{})

		_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
			return currencyRegex.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("nonnegative", decimalSign(func(d decimal.Decimal) bool { return !d.IsNegative() }))
		_ = v.RegisterValidation("positive", decimalSign(func(d decimal.Decimal) bool { return d.IsPositive() }))

		validate = v
	})
	return validate
}

func decimalSign(ok func(decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && ok(d)
	}
}

// ValidateStruct validates s and flattens field failures into one error
func ValidateStruct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// SanitizeString strips control characters and surrounding whitespace from free text
func SanitizeString(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}
