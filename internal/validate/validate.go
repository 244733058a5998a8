// Package validate runs struct-tag validation on service inputs and reports
// failures as apperr validation errors.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/abhisek/pathwise/internal/apperr"
)

var v = validator.New(validator.WithRequiredStructEnabled())

// Struct validates s and returns an *apperr.Error naming every failing field.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("%v", err)
	}

	fields := make([]string, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
		msgs = append(msgs, describe(fe))
	}
	return apperr.ValidationFields(strings.Join(msgs, "; "), fields...)
}

// Var validates a single value against a tag, e.g. Var(score, "gte=0,lte=100").
func Var(field string, value any, tag string) error {
	if err := v.Var(value, tag); err != nil {
		return apperr.ValidationFields(fmt.Sprintf("%s must satisfy %q", field, tag), field)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag())
}
