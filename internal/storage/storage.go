// Package storage defines the capability interface for the backing
// hierarchical store that mirrorfs mirrors, along with concrete backends.
//
// The interface is deliberately narrow: a handle is an opaque reference to a
// file or directory, tagged by kind. Directory handles enumerate and create
// children by name; file handles expose content and a scoped writable stream.
// Everything else about the backing store is out of scope.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound indicates a named child does not exist and creation
	// was not requested.
	ErrNotFound = errors.New("entry not found")

	// ErrTypeMismatch indicates a named child exists but with the other kind
	// (a directory where a file was requested, or vice versa).
	ErrTypeMismatch = errors.New("entry kind mismatch")

	// ErrNotEmpty indicates a non-recursive removal of a populated directory.
	ErrNotEmpty = errors.New("directory not empty")
)

// Kind tags a handle as a file or a directory.
type Kind int

const (
	// KindFile marks a file handle
	KindFile Kind = iota
	// KindDirectory marks a directory handle
	KindDirectory
)

// String returns a human-readable kind name
func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// Handle is an opaque reference to an entry in the backing store.
type Handle interface {
	// Name returns the entry's own name, without any path components.
	// The root directory's name is the empty string.
	Name() string
	// Kind reports whether the handle denotes a file or a directory.
	Kind() Kind
}

// WriteStream is a scoped writable stream over a file's content.
// Callers follow a truncate, write, close sequence; content is not
// guaranteed visible to readers before Close returns.
type WriteStream interface {
	io.WriteCloser
	Truncate(n int64) error
}

// FileHandle is a handle to a file entry.
type FileHandle interface {
	Handle
	// Content returns the file's current content.
	Content(ctx context.Context) ([]byte, error)
	// OpenWritable opens a scoped writable stream over the file.
	OpenWritable(ctx context.Context) (WriteStream, error)
}

// DirectoryHandle is a handle to a directory entry.
type DirectoryHandle interface {
	Handle
	// Children enumerates the directory's immediate children.
	// Order is whatever the backend yields; callers must not rely on it.
	Children(ctx context.Context) ([]Handle, error)
	// File returns the named child file. With create set, a missing child
	// is created; without it, a missing child fails with ErrNotFound.
	// An existing directory of that name fails with ErrTypeMismatch.
	File(ctx context.Context, name string, create bool) (FileHandle, error)
	// Dir is the directory counterpart of File.
	Dir(ctx context.Context, name string, create bool) (DirectoryHandle, error)
	// RemoveEntry removes the named child. A populated child directory
	// fails with ErrNotEmpty unless recursive is set.
	RemoveEntry(ctx context.Context, name string, recursive bool) error
}

// Mover is the optional atomic rename/move capability. Backends that cannot
// relocate an entry atomically simply do not implement it; callers probe
// with a type assertion.
type Mover interface {
	// Move relocates the handle's entry under target with the given name,
	// updating the handle in place to reflect its new location.
	Move(ctx context.Context, target DirectoryHandle, newName string) error
}
