package models

import (
	"errors"
	"fmt"
)

var (
	ErrSchema           = errors.New("schema error")
	ErrInsufficientData = errors.New("insufficient data")
	ErrInvalidRequest   = errors.New("invalid request")
)

// SchemaError reports a field that a stage requires but the table lacks.
type SchemaError struct {
	Field string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: field %q not present", e.Field)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// InsufficientDataError reports too few usable points to fit a model.
type InsufficientDataError struct {
	Field string
	Have  int
	Need  int
}

func (e *InsufficientDataError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("insufficient data: have %d rows, need %d", e.Have, e.Need)
	}
	return fmt.Sprintf("insufficient data for %s: have %d rows, need %d", e.Field, e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// InvalidRequestError reports a malformed request or argument.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

// InvalidRequest builds an InvalidRequestError from a format string.
func InvalidRequest(format string, args ...any) error {
	return &InvalidRequestError{Reason: fmt.Sprintf(format, args...)}
}
