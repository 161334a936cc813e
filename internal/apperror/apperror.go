// Package apperror defines the error kinds returned across the scheduling
// engine's public boundary.
package apperror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/famcal/internal/model"
)

// ValidationError reports malformed input or an illegal participant.
type ValidationError struct {
	Fields []model.FieldError
}

func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Fields: []model.FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ForbiddenError reports a requester outside the family or a write to a synced event.
type ForbiddenError struct {
	Reason string
}

func Forbidden(reason string) *ForbiddenError {
	return &ForbiddenError{Reason: reason}
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func NotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConflictError reports a blocker-vs-blocker collision. It is a business rule
// failure and must not be retried.
type ConflictError struct {
	Conflicts []model.ConflictingEvent
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		return fmt.Sprintf("conflicts with blocker event %q", e.Conflicts[0].Title)
	}
	return fmt.Sprintf("conflicts with %d blocker events", len(e.Conflicts))
}

// InternalError wraps an unexpected collaborator failure. Error() never
// includes the cause; use Unwrap or the Op field for logging.
type InternalError struct {
	Op  string
	Err error
}

func Internal(op string, err error) *InternalError {
	return &InternalError{Op: op, Err: err}
}

func (e *InternalError) Error() string {
	return "internal error"
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

const (
	KindOK         = "ok"
	KindValidation = "validation"
	KindForbidden  = "forbidden"
	KindNotFound   = "not_found"
	KindConflict   = "conflict"
	KindInternal   = "internal"
)

// Kind names the category of err for logs and metrics labels.
func Kind(err error) string {
	var (
		ve *ValidationError
		fe *ForbiddenError
		ne *NotFoundError
		ce *ConflictError
	)
	switch {
	case err == nil:
		return KindOK
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &fe):
		return KindForbidden
	case errors.As(err, &ne):
		return KindNotFound
	case errors.As(err, &ce):
		return KindConflict
	}
	return KindInternal
}
