package app

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/tarmsledger/tarms/internal/apperror"
)

// requestValidator adapts go-playground/validator to echo.Validator so
// handlers can call c.Validate on bound request structs.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate runs the struct's validate tags and reports every failing field
// as a validation violation, in declaration order.
func (rv *requestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperror.NewBadRequest("invalid request")
	}

	violations := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
	}
	return apperror.NewValidation(violations...)
}
