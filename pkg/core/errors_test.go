package core

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &StateError{Op: "add", State: StateUnloaded, Reason: "unloaded data on disk"})

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Contains(t, err.Error(), "add: unloaded data on disk in state unloaded")

	var se *StateError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, StateUnloaded, se.State)
}

func TestPersistenceError(t *testing.T) {
	err := &PersistenceError{Op: "read", Path: "model.Person.json", Err: fs.ErrPermission}

	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.Equal(t, "read model.Person.json failed: permission denied", err.Error())
	assert.Equal(t, "store failed: boom", (&PersistenceError{Op: "store", Err: errors.New("boom")}).Error())
}
