package docstore

import (
	"errors"
	"fmt"
)

// ErrorKind classifies query and subscription failures.
type ErrorKind string

// Query error kinds. MissingIndex is recoverable through the fallback
// orchestrator; PermissionDenied is fatal for the subscription;
// Transient failures are retried by the adapter before surfacing.
const (
	KindMissingIndex     ErrorKind = "missing_index"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindTransient        ErrorKind = "transient"
)

// QueryError is a typed store failure.
type QueryError struct {
	Kind       ErrorKind
	Collection string
	Err        error
}

func (e *QueryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("query %s: %s", e.Collection, e.Kind)
	}
	return fmt.Sprintf("query %s: %s: %v", e.Collection, e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError builds a QueryError.
func NewQueryError(kind ErrorKind, collection string, err error) *QueryError {
	return &QueryError{Kind: kind, Collection: collection, Err: err}
}

// kindOf extracts the error kind, or "" for untyped errors.
func kindOf(err error) ErrorKind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}

// IsMissingIndex reports whether err is a missing-composite-index failure.
func IsMissingIndex(err error) bool {
	return kindOf(err) == KindMissingIndex
}

// IsPermissionDenied reports whether err is a permission failure.
func IsPermissionDenied(err error) bool {
	return kindOf(err) == KindPermissionDenied
}

// IsTransient reports whether err is a transient failure.
func IsTransient(err error) bool {
	return kindOf(err) == KindTransient
}
