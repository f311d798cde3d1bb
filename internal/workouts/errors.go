package workouts

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRemoteUnavailable   = errors.New("remote store unavailable")
	ErrNotFound            = errors.New("workout not found")
	ErrConstraintViolation = errors.New("workout violates store constraints")
	ErrIllegalTransition   = errors.New("illegal status transition")
	// ErrNotDeleted means the workout was removed nowhere.
	ErrNotDeleted = errors.New("workout not deleted")
)

// Reason is a machine readable validation failure.
type Reason string

const (
	ReasonMissing     Reason = "missing"
	ReasonNotNumeric  Reason = "not_numeric"
	ReasonNotInteger  Reason = "not_integer"
	ReasonNotPositive Reason = "not_positive"
	ReasonOutOfRange  Reason = "out_of_range"
	ReasonInvalidDate Reason = "invalid_date"
	ReasonFutureDate  Reason = "future_date"
)

type FieldError struct {
	Field  string `json:"field"`
	Reason Reason `json:"reason"`
}

// ValidationError lists every field that failed validation, in field order.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Reason))
	}
	return "invalid workout: " + strings.Join(parts, ", ")
}

// Reason returns the failure reason for field, if it failed.
func (e *ValidationError) Reason(field string) (Reason, bool) {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Reason, true
		}
	}
	return "", false
}

// ImportFormatError rejects a whole backup. Index is the offending entry, or -1
// when the document itself could not be read.
type ImportFormatError struct {
	Index int
	Err   error
}

func (e *ImportFormatError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("malformed backup: %s", e.Err)
	}
	return fmt.Sprintf("malformed backup entry %d: %s", e.Index, e.Err)
}

func (e *ImportFormatError) Unwrap() error {
	return e.Err
}
