package core

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrInvalidState = errors.New("invalid state")
	ErrClosed       = errors.New("pocket is closed")
	ErrNotEntity    = errors.New("value is not a pointer to a struct")
	ErrUnknownType  = errors.New("unknown entity type")
	ErrDuplicateID  = errors.New("duplicate identifier")
	ErrNotFound     = errors.New("entity not found")
	ErrBlobNotFound = errors.New("blob not found")
)

// StateError reports an operation attempted in a state that does not allow it.
type StateError struct {
	Op     string
	State  State
	Reason string
}

func (e *StateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s in state %s", e.Op, e.Reason, e.State)
	}
	return fmt.Sprintf("%s: not allowed in state %s", e.Op, e.State)
}

// Is makes errors.Is(err, ErrInvalidState) match.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// PersistenceError wraps an I/O or decoding failure with the offending path.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
