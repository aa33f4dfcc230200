package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"mirrorfs/internal/logging"
)

var osLogger = logging.GetLogger().WithPrefix("osdir")

// osEntry is the common part of OS-backed handles. An entry locates itself
// by chaining to its parent directory, so relocating a directory keeps every
// handle below it valid.
type osEntry struct {
	parent *osDir
	name   string
}

func (e *osEntry) Name() string { return e.name }

// fsPath resolves the entry's current absolute OS path.
func (e *osEntry) fsPath() string {
	if e.parent == nil {
		return e.name
	}
	return filepath.Join(e.parent.fsPath(), e.name)
}

// osDir is a DirectoryHandle over an OS directory.
type osDir struct {
	osEntry
	root string // set on the root handle only
}

// osFile is a FileHandle over an OS file.
type osFile struct {
	osEntry
}

// NewOSDirectory returns a DirectoryHandle rooted at the given OS directory.
// The root handle's name is the empty string, per the Handle contract.
func NewOSDirectory(root string) (DirectoryHandle, error) {
	clean := filepath.Clean(root)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", clean, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s: %w", clean, ErrTypeMismatch)
	}
	osLogger.Debug("Opening OS-backed root: %s", clean)
	d := &osDir{root: clean}
	return d, nil
}

func (d *osDir) Kind() Kind { return KindDirectory }

// fsPath on the root returns the configured root path.
func (d *osDir) fsPath() string {
	if d.parent == nil {
		return d.root
	}
	return filepath.Join(d.parent.fsPath(), d.name)
}

// Children enumerates the directory's entries. Order follows os.ReadDir.
func (d *osDir) Children(_ context.Context) ([]Handle, error) {
	path := d.fsPath()
	osLogger.Trace("Listing children of %s", path)
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, err)
	}

	handles := make([]Handle, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			handles = append(handles, &osDir{osEntry: osEntry{parent: d, name: entry.Name()}})
		} else {
			handles = append(handles, &osFile{osEntry: osEntry{parent: d, name: entry.Name()}})
		}
	}
	return handles, nil
}

// File returns the named child file, creating it when requested.
func (d *osDir) File(_ context.Context, name string, create bool) (FileHandle, error) {
	path := filepath.Join(d.fsPath(), name)
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.IsDir() {
			return nil, fmt.Errorf("file %s: %w", path, ErrTypeMismatch)
		}
	case os.IsNotExist(err):
		if !create {
			return nil, fmt.Errorf("file %s: %w", path, ErrNotFound)
		}
		osLogger.Debug("Creating file: %s", path)
		f, createErr := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
		if createErr != nil {
			return nil, fmt.Errorf("create file %s: %w", path, createErr)
		}
		f.Close()
	default:
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	return &osFile{osEntry: osEntry{parent: d, name: name}}, nil
}

// Dir returns the named child directory, creating it when requested.
func (d *osDir) Dir(_ context.Context, name string, create bool) (DirectoryHandle, error) {
	path := filepath.Join(d.fsPath(), name)
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("dir %s: %w", path, ErrTypeMismatch)
		}
	case os.IsNotExist(err):
		if !create {
			return nil, fmt.Errorf("dir %s: %w", path, ErrNotFound)
		}
		osLogger.Debug("Creating directory: %s", path)
		if mkdirErr := os.Mkdir(path, 0755); mkdirErr != nil {
			return nil, fmt.Errorf("mkdir %s: %w", path, mkdirErr)
		}
	default:
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	return &osDir{osEntry: osEntry{parent: d, name: name}}, nil
}

// RemoveEntry removes the named child, recursively when requested.
func (d *osDir) RemoveEntry(_ context.Context, name string, recursive bool) error {
	path := filepath.Join(d.fsPath(), name)
	osLogger.Debug("Removing %s (recursive=%v)", path, recursive)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if recursive {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		return nil
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
			return fmt.Errorf("remove %s: %w", path, ErrNotEmpty)
		}
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Move implements the Mover capability by renaming the directory on disk.
func (d *osDir) Move(_ context.Context, target DirectoryHandle, newName string) error {
	if d.parent == nil {
		return fmt.Errorf("move: cannot move the root directory")
	}
	return moveEntry(&d.osEntry, target, newName)
}

func (f *osFile) Kind() Kind { return KindFile }

// Content reads the file's current bytes.
func (f *osFile) Content(_ context.Context) ([]byte, error) {
	path := f.fsPath()
	osLogger.Trace("Reading content of %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// OpenWritable opens a writable stream over the file.
func (f *osFile) OpenWritable(_ context.Context) (WriteStream, error) {
	path := f.fsPath()
	osLogger.Debug("Opening writable stream for %s", path)
	file, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &osWriteStream{file: file}, nil
}

// Move implements the Mover capability by renaming the file on disk.
func (f *osFile) Move(_ context.Context, target DirectoryHandle, newName string) error {
	return moveEntry(&f.osEntry, target, newName)
}

// moveEntry relocates an OS entry under target and rebinds the handle.
func moveEntry(e *osEntry, target DirectoryHandle, newName string) error {
	targetDir, ok := target.(*osDir)
	if !ok {
		return fmt.Errorf("move: target belongs to a different backend")
	}

	oldPath := e.fsPath()
	newPath := filepath.Join(targetDir.fsPath(), newName)
	if oldPath == newPath {
		return nil
	}

	osLogger.Debug("Moving %s -> %s", oldPath, newPath)
	if _, err := os.Stat(newPath); err == nil {
		return fmt.Errorf("move %s: target %s already exists", oldPath, newPath)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("move %s -> %s: %w", oldPath, newPath, err)
	}

	e.parent = targetDir
	e.name = newName
	return nil
}

// osWriteStream is a WriteStream over an open OS file.
type osWriteStream struct {
	file *os.File
}

func (w *osWriteStream) Write(p []byte) (int, error) { return w.file.Write(p) }

func (w *osWriteStream) Truncate(n int64) error { return w.file.Truncate(n) }

func (w *osWriteStream) Close() error { return w.file.Close() }
