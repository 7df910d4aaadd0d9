package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an operation referenced a task id absent from the
// current authoritative collection.
var ErrNotFound = errors.New("task not found")

// ErrUnauthenticated indicates no owner is established.
var ErrUnauthenticated = errors.New("not authenticated")

// ValidationError rejects input before any remote call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SyncError wraps a remote write or subscription failure with the name of
// the operation that issued it, so callers can render a notification.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: sync failed: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
