package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// InvalidIDError reports an identifier that does not parse.
type InvalidIDError struct {
	Field string
	Value string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Value)
}

// DuplicateError reports a violated uniqueness constraint.
type DuplicateError struct {
	Field string
	Value string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate field %s (%s)", e.Field, e.Value)
}

// FieldError is a single failed validation rule.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every rule an input failed.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages(), ". ")
}

// Messages returns the individual failure messages in order.
func (e *ValidationError) Messages() []string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Message)
	}
	return msgs
}

// NewValidationError builds a ValidationError with one failure.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

// ParseID parses a uuid, reporting an InvalidIDError for the named field.
func ParseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, &InvalidIDError{Field: field, Value: raw}
	}
	return id, nil
}

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
	pqInvalidText         = "22P02"
)

var duplicateDetail = regexp.MustCompile(`Key \((.+)\)=\((.*)\) already exists`)

// translateError maps driver errors onto the store error types.
func translateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case pqUniqueViolation:
		if m := duplicateDetail.FindStringSubmatch(pqErr.Detail); m != nil {
			return &DuplicateError{Field: strings.ReplaceAll(m[1], "_id", ""), Value: m[2]}
		}
		return &DuplicateError{Field: pqErr.Constraint}
	case pqForeignKeyViolation:
		return NewValidationError(pqErr.Constraint, "Referenced record does not exist")
	case pqCheckViolation:
		return NewValidationError(pqErr.Constraint, fmt.Sprintf("Value violates %s", pqErr.Constraint))
	case pqInvalidText:
		return &InvalidIDError{Field: "input", Value: pqErr.Message}
	}
	return err
}
