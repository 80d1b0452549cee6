// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

// Package validation wraps go-playground/validator with API-friendly error
// conversion. One validator instance serves the process; validators cache
// struct metadata and are safe for concurrent use.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hookwise/hookwise/internal/models"
)

// validate is the shared validator instance.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Error aggregates field-level validation failures.
type Error struct {
	Fields []FieldError
}

// FieldError describes one invalid field.
type FieldError struct {
	Field   string
	Rule    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Message)
	}
	return strings.Join(parts, "; ")
}

// ToAPIError converts the validation failure into the API error envelope.
func (e *Error) ToAPIError() *models.APIError {
	return &models.APIError{
		Code:    "VALIDATION_ERROR",
		Message: "Request validation failed",
		Details: e.Error(),
	}
}

// ValidateStruct validates a struct using its `validate` tags. Returns nil
// when valid.
func ValidateStruct(v interface{}) *Error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	out := &Error{}
	if ok := asValidationErrors(err, &verrs); !ok {
		out.Fields = append(out.Fields, FieldError{Message: err.Error()})
		return out
	}

	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()),
		})
	}
	return out
}

// Var validates a single value against a rule expression.
func Var(value interface{}, rule string) error {
	return validate.Var(value, rule)
}

// asValidationErrors unwraps validator.ValidationErrors.
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
