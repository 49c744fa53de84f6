package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateStruct runs struct-tag validation and returns a validation error
// naming each failing field.
func ValidateStruct(v interface{}) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Kind: KindValidation, Message: "invalid request", Err: err}
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fieldMessage(e))
	}
	return &Error{Kind: KindValidation, Message: strings.Join(msgs, "; ")}
}

func fieldMessage(e validator.FieldError) string {
	field := strings.ToLower(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, e.Tag())
}

// Validate normalizes the request and checks it is answerable.
func (r *ChatRequest) Validate() error {
	r.Normalize()
	if r.Query == "" {
		return NewValidationError("query cannot be empty")
	}
	return ValidateStruct(r)
}

// Validate checks the search request and applies the default top_k.
func (r *SearchRequest) Validate(defaultTopK int) error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return NewValidationError("query cannot be empty")
	}
	if err := ValidateStruct(r); err != nil {
		return err
	}
	if r.TopK == 0 {
		r.TopK = defaultTopK
	}
	return nil
}
