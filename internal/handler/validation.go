package handler

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"ledger-core/internal/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidator() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	// Only the format is checked here. Sign and scale belong to Money.
	if err := vld.RegisterValidation("decimal_amount", func(fl validator.FieldLevel) bool {
		str := fl.Field().String()
		if str == "" {
			return true
		}
		_, err := decimal.NewFromString(str)
		return err == nil
	}); err != nil {
		return nil, fmt.Errorf("register decimal_amount: %w", err)
	}
	return vld, nil
}

func getValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidator()
	})
	return validate, errValidate
}

// validateStruct reports the first failed rule as an invalid_input error.
func validateStruct(payload interface{}) error {
	vld, err := getValidator()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "validator unavailable").WithDetails(err.Error())
	}

	if err := vld.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return errors.ErrInvalidInput.WithDetails(formatFieldError(fieldErrs[0]))
		}
		return errors.ErrInvalidInput.WithDetails(err.Error())
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	field := toSnakeCase(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("'%s' is required", field)
	case "max":
		return fmt.Sprintf("'%s' must be at most %s characters", field, fe.Param())
	case "len":
		return fmt.Sprintf("'%s' must be exactly %s characters", field, fe.Param())
	case "decimal_amount":
		return fmt.Sprintf("'%s' must be a decimal number", field)
	default:
		return fmt.Sprintf("'%s' failed '%s' check", field, fe.Tag())
	}
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// parseAmount turns a validated string into a decimal. Empty means zero.
func parseAmount(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
