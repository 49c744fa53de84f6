package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can map them to responses.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindExtraction ErrorKind = "extraction"
	KindRetrieval  ErrorKind = "retrieval"
	KindGeneration ErrorKind = "generation"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrExtraction = &Error{Kind: KindExtraction}
	ErrRetrieval  = &Error{Kind: KindRetrieval}
	ErrGeneration = &Error{Kind: KindGeneration}

	ErrNotFound = errors.New("not found")
)

// Error is a classified pipeline failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return string(e.Kind) + " error"
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewValidationError returns a validation error with the given message.
func NewValidationError(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewExtractionError wraps err as an extraction failure.
func NewExtractionError(msg string, err error) error {
	return &Error{Kind: KindExtraction, Message: msg, Err: err}
}

// NewRetrievalError wraps err as a retrieval failure.
func NewRetrievalError(msg string, err error) error {
	return &Error{Kind: KindRetrieval, Message: msg, Err: err}
}

// NewGenerationError wraps err as a generation failure.
func NewGenerationError(msg string, err error) error {
	return &Error{Kind: KindGeneration, Message: msg, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
