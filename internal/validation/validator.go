// Package validation provides input validation utilities
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"pollapp/internal/models"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Struct validates v's `validate` tags and returns a VALIDATION_ERROR describing
// the first failing field.
func Struct(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return models.NewValidationError(describe(fieldErrs[0]))
	}
	return models.NewValidationError(err.Error())
}

// Var validates a single value against tag.
func Var(field string, value any, tag string) error {
	err := instance().Var(value, tag)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return models.NewValidationError(describeAs(field, fieldErrs[0]))
	}
	return models.NewValidationError(err.Error())
}

func describe(fe validator.FieldError) string {
	return describeAs(fieldPath(fe), fe)
}

// fieldPath drops the root struct name from the namespace ("CreatePollInput.options[1]" -> "options[1]").
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func describeAs(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if isCollection(fe) {
			return fmt.Sprintf("%s must have at least %s items", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		if isCollection(fe) {
			return fmt.Sprintf("%s must have at most %s items", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "email":
		return "invalid email format"
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	}
	return fmt.Sprintf("%s is invalid", field)
}

func isCollection(fe validator.FieldError) bool {
	switch fe.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return false
}
