package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrPermission          = errors.New("permission denied")
	ErrNotFound            = errors.New("not found")
	ErrAuth                = errors.New("authentication failed")
	ErrUnsupportedMedia    = errors.New("unsupported media")
	ErrRemote              = errors.New("remote store error")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrBusy                = errors.New("operation already in progress")
)

// ValidationError carries field-level messages. It matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

// Invalid builds a ValidationError for a single field
func Invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Add records a message for field, keeping the first one
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// Empty reports whether no field failed
func (e *ValidationError) Empty() bool { return e == nil || len(e.Fields) == 0 }

// OrNil returns nil when no field failed, so callers can `return verr.OrNil()`.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
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
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RemoteError wraps a failure of the backing record store.
type RemoteError struct {
	Op         string
	Collection string
	Err        error
}

// Remote wraps err unless it already is a RemoteError or one of the domain kinds
func Remote(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermission) {
		return err
	}
	return &RemoteError{Op: op, Collection: collection, Err: err}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *RemoteError) Unwrap() error        { return e.Err }
func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// Permission builds a PermissionError for a record owned by someone else
func Permission(collection, id string) error {
	return fmt.Errorf("%w: %s/%s belongs to another identity", ErrPermission, collection, id)
}
