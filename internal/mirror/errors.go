// Package mirror implements the synchronization store: an in-memory,
// path-indexed snapshot of a handle-based backing storage tree, with
// filtered views and change notification.
//
// This file contains error types and error handling utilities.
package mirror

import (
	"errors"
	"fmt"
)

var (
	// ErrNotADirectory indicates a path argument that is absent from the
	// mapping or maps to a file where a directory was required
	ErrNotADirectory = errors.New("not a directory")

	// ErrNotAFile indicates a path argument that is absent from the
	// mapping or maps to a directory where a file was required
	ErrNotAFile = errors.New("not a file")

	// ErrAlreadyExists indicates a create target already present in the
	// backing storage
	ErrAlreadyExists = errors.New("entry already exists")

	// ErrRootImmutable indicates the root was targeted by a rename, move
	// or remove
	ErrRootImmutable = errors.New("root cannot be renamed, moved or removed")
)

// Error wraps store errors with context about the operation and affected
// path to provide more detailed error information.
type Error struct {
	Op   string // Operation that failed (e.g., "create", "rename")
	Path string // Affected path
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %q failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given operation, path, and underlying error
func NewError(op string, path string, err error) *Error {
	return &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// Common operation names for consistent logging and error reporting
const (
	OpCreate = "create" // Creating a new file
	OpMkdir  = "mkdir"  // Creating a new directory
	OpRename = "rename" // Renaming a file or directory in place
	OpMove   = "move"   // Moving a file to another directory
	OpRemove = "remove" // Removing a file or directory
	OpReload = "reload" // Resynchronizing the mapping from the backing store
	OpWalk   = "walk"   // Walking the backing hierarchy
)
