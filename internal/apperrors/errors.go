// Package apperrors defines the error kinds shared by workflows and handlers.
package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMalformedResponse   = errors.New("malformed upstream response")
	ErrInvalidModelOutput  = errors.New("invalid model output")
	ErrPersistence         = errors.New("persistence error")
)

// ValidationError reports per-field input problems. It matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func NewValidation(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation error: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Upstream wraps cause as ErrUpstreamUnavailable.
func Upstream(op string, cause error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUpstreamUnavailable, cause)
}

// Malformed wraps cause as ErrMalformedResponse.
func Malformed(op string, cause error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, cause)
}

// InvalidOutput reports a model response that failed schema checks.
func InvalidOutput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidModelOutput, fmt.Sprintf(format, args...))
}

// Persistence wraps a storage failure.
func Persistence(op string, cause error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrPersistence, cause)
}

// NotFound reports a missing entity.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
