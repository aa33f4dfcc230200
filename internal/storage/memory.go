package storage

import (
	"context"
	"fmt"
	"sync"
)

// memFS holds the lock shared by every node of one in-memory tree.
type memFS struct {
	mu sync.RWMutex
}

// memNode is one entry in the in-memory tree.
type memNode struct {
	fs       *memFS
	parent   *memNode
	name     string
	dir      bool
	data     []byte
	children map[string]*memNode
}

// memDir is a DirectoryHandle over an in-memory node.
type memDir struct {
	n *memNode
}

// memFile is a FileHandle over an in-memory node.
type memFile struct {
	n *memNode
}

// NewMemory returns the root DirectoryHandle of a fresh, empty in-memory
// tree. Used by tests and by the scratch-mirror mode of the CLI.
func NewMemory() DirectoryHandle {
	fs := &memFS{}
	root := &memNode{
		fs:       fs,
		name:     "",
		dir:      true,
		children: make(map[string]*memNode),
	}
	return &memDir{n: root}
}

func (d *memDir) Name() string { return d.n.name }
func (d *memDir) Kind() Kind   { return KindDirectory }

// Children enumerates the directory's entries. Order is map iteration order,
// deliberately unspecified.
func (d *memDir) Children(_ context.Context) ([]Handle, error) {
	d.n.fs.mu.RLock()
	defer d.n.fs.mu.RUnlock()

	handles := make([]Handle, 0, len(d.n.children))
	for _, child := range d.n.children {
		if child.dir {
			handles = append(handles, &memDir{n: child})
		} else {
			handles = append(handles, &memFile{n: child})
		}
	}
	return handles, nil
}

// File returns the named child file, creating it when requested.
func (d *memDir) File(_ context.Context, name string, create bool) (FileHandle, error) {
	d.n.fs.mu.Lock()
	defer d.n.fs.mu.Unlock()

	if child, ok := d.n.children[name]; ok {
		if child.dir {
			return nil, fmt.Errorf("file %q: %w", name, ErrTypeMismatch)
		}
		return &memFile{n: child}, nil
	}
	if !create {
		return nil, fmt.Errorf("file %q: %w", name, ErrNotFound)
	}

	child := &memNode{fs: d.n.fs, parent: d.n, name: name}
	d.n.children[name] = child
	return &memFile{n: child}, nil
}

// Dir returns the named child directory, creating it when requested.
func (d *memDir) Dir(_ context.Context, name string, create bool) (DirectoryHandle, error) {
	d.n.fs.mu.Lock()
	defer d.n.fs.mu.Unlock()

	if child, ok := d.n.children[name]; ok {
		if !child.dir {
			return nil, fmt.Errorf("dir %q: %w", name, ErrTypeMismatch)
		}
		return &memDir{n: child}, nil
	}
	if !create {
		return nil, fmt.Errorf("dir %q: %w", name, ErrNotFound)
	}

	child := &memNode{
		fs:       d.n.fs,
		parent:   d.n,
		name:     name,
		dir:      true,
		children: make(map[string]*memNode),
	}
	d.n.children[name] = child
	return &memDir{n: child}, nil
}

// RemoveEntry removes the named child, recursively when requested.
func (d *memDir) RemoveEntry(_ context.Context, name string, recursive bool) error {
	d.n.fs.mu.Lock()
	defer d.n.fs.mu.Unlock()

	child, ok := d.n.children[name]
	if !ok {
		return fmt.Errorf("remove %q: %w", name, ErrNotFound)
	}
	if child.dir && len(child.children) > 0 && !recursive {
		return fmt.Errorf("remove %q: %w", name, ErrNotEmpty)
	}

	delete(d.n.children, name)
	child.parent = nil
	return nil
}

// Move implements the Mover capability by relinking the node.
func (d *memDir) Move(_ context.Context, target DirectoryHandle, newName string) error {
	return moveNode(d.n, target, newName)
}

func (f *memFile) Name() string { return f.n.name }
func (f *memFile) Kind() Kind   { return KindFile }

// Content returns a copy of the file's bytes.
func (f *memFile) Content(_ context.Context) ([]byte, error) {
	f.n.fs.mu.RLock()
	defer f.n.fs.mu.RUnlock()
	return append([]byte(nil), f.n.data...), nil
}

// OpenWritable opens a buffered stream; content is committed on Close.
func (f *memFile) OpenWritable(_ context.Context) (WriteStream, error) {
	f.n.fs.mu.RLock()
	buf := append([]byte(nil), f.n.data...)
	f.n.fs.mu.RUnlock()
	return &memWriteStream{node: f.n, buf: buf}, nil
}

// Move implements the Mover capability by relinking the node.
func (f *memFile) Move(_ context.Context, target DirectoryHandle, newName string) error {
	return moveNode(f.n, target, newName)
}

// moveNode detaches a node from its parent and reattaches it under target.
func moveNode(n *memNode, target DirectoryHandle, newName string) error {
	targetDir, ok := target.(*memDir)
	if !ok {
		return fmt.Errorf("move: target belongs to a different backend")
	}

	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if n.parent == nil {
		return fmt.Errorf("move %q: entry is detached or the root", n.name)
	}
	if n.parent == targetDir.n && n.name == newName {
		return nil
	}
	if _, exists := targetDir.n.children[newName]; exists {
		return fmt.Errorf("move %q: target name %q already exists", n.name, newName)
	}

	delete(n.parent.children, n.name)
	n.parent = targetDir.n
	n.name = newName
	targetDir.n.children[newName] = n
	return nil
}

// memWriteStream buffers writes and commits them to the node on Close.
type memWriteStream struct {
	node *memNode
	buf  []byte
	pos  int
}

func (w *memWriteStream) Write(p []byte) (int, error) {
	need := w.pos + len(p)
	if need > len(w.buf) {
		grown := make([]byte, need)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[w.pos:], p)
	w.pos = need
	return len(p), nil
}

func (w *memWriteStream) Truncate(n int64) error {
	if n < 0 {
		return fmt.Errorf("truncate: negative size %d", n)
	}
	if int(n) < len(w.buf) {
		w.buf = w.buf[:n]
	}
	if w.pos > len(w.buf) {
		w.pos = len(w.buf)
	}
	return nil
}

func (w *memWriteStream) Close() error {
	w.node.fs.mu.Lock()
	defer w.node.fs.mu.Unlock()
	w.node.data = append([]byte(nil), w.buf...)
	return nil
}
