package collector

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure for the orchestrator.
type Kind int

// Failure classes, from least to most severe.
const (
	KindInternal Kind = iota
	KindData
	KindUpstream
	KindPersistence
)

// String returns the class name used in logs and notifications.
func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindUpstream:
		return "upstream"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// Error attaches a failure class to an underlying error. Transient marks
// upstream errors eligible for the detail fetcher's retry policy.
type Error struct {
	Kind      Kind
	Transient bool
	Op        string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewDataError marks a record-level defect that is never retried.
func NewDataError(op string, err error) *Error {
	return &Error{Kind: KindData, Op: op, Err: err}
}

// NewUpstreamError marks a gateway failure; transient ones may be retried.
func NewUpstreamError(op string, err error, transient bool) *Error {
	return &Error{Kind: KindUpstream, Transient: transient, Op: op, Err: err}
}

// NewPersistenceError marks a storage failure that aborts the current run.
func NewPersistenceError(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// KindOf extracts the failure class, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTransient reports whether the error is a retryable upstream condition.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}
