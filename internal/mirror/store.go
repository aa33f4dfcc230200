package mirror

import (
	"context"
	"errors"
	"sync"

	"mirrorfs/internal/logging"
	"mirrorfs/internal/storage"
)

var storeLogger = logging.GetLogger().WithPrefix("store")

// Snapshot is a point-in-time, read-only copy of the path->handle mapping.
// A Snapshot returned by the store is never aliased to the mutable mapping;
// callers may iterate it freely but must not mutate it, since cached
// snapshots are shared between readers.
type Snapshot map[string]storage.Handle

// Listener receives change notifications from the store. PathsChanged is
// called synchronously on the goroutine that completed the mutation, with
// the set of affected paths; a nil slice means a full resync. A listener
// must not block, or it delays every later listener for that event.
type Listener interface {
	PathsChanged(paths []string)
}

type funcListener struct {
	fn func(paths []string)
}

// NewListenerFunc wraps a plain function in a Listener. Every call yields a
// distinct registration identity, even for the same function.
func NewListenerFunc(fn func(paths []string)) Listener {
	return &funcListener{fn: fn}
}

func (l *funcListener) PathsChanged(paths []string) {
	l.fn(paths)
}

// Store is the synchronization store: it owns the authoritative
// path->handle mapping mirrored from the backing hierarchy, serves cached
// filtered views of it, and notifies registered listeners whose filter
// intersects the set of paths a mutation changed.
//
// The mapping, the view cache and the listener registry are guarded by one
// mutex. Backing storage I/O happens outside the lock, so two overlapping
// mutations of the same path can lose an update; the store provides no
// transaction isolation across operations and callers own retry policy.
type Store struct {
	root storage.DirectoryHandle

	mu          sync.RWMutex
	entries     map[string]storage.Handle
	views       map[Filter]Snapshot // filter identity -> cached sub-snapshot; nil key is the full view
	listeners   map[Listener]Filter
	initialized bool

	initMu sync.Mutex // serializes Initialize so only one walk populates the mapping
}

// New creates a store mirroring the hierarchy below root. The mapping
// starts empty; call Initialize or Reload to populate it.
func New(root storage.DirectoryHandle) *Store {
	storeLogger.Debug("Creating store over backing root")
	return &Store{
		root:      root,
		entries:   make(map[string]storage.Handle),
		views:     make(map[Filter]Snapshot),
		listeners: make(map[Listener]Filter),
	}
}

// Snapshot returns the current mapping, narrowed by f when non-nil. The
// result is cached by filter identity until the next mutation: a cache hit
// is O(1), a miss copies the matching entries. The backing storage is never
// touched.
func (s *Store) Snapshot(f Filter) Snapshot {
	s.mu.RLock()
	if view, ok := s.views[f]; ok {
		s.mu.RUnlock()
		storeLogger.Trace("Snapshot cache hit (%d entries)", len(view))
		return view
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another reader may have filled the cache while the lock was dropped.
	if view, ok := s.views[f]; ok {
		return view
	}

	view := make(Snapshot, len(s.entries))
	for path, h := range s.entries {
		if f == nil || f.Matches(path) {
			view[path] = h
		}
	}
	s.views[f] = view
	storeLogger.Debug("Snapshot cache miss, computed view with %d of %d entries",
		len(view), len(s.entries))
	return view
}

// Exists reports whether path is present in the mapping. This is a mapping
// query only; the backing storage is not consulted.
func (s *Store) Exists(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[path]
	return ok
}

// AddListener registers l for change notification, narrowed by f when
// non-nil. Re-adding a listener replaces its filter. The listener is not
// invoked at registration time.
func (s *Store) AddListener(l Listener, f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[l] = f
	storeLogger.Debug("Registered listener (%d total)", len(s.listeners))
}

// RemoveListener unregisters l. Removing an unknown listener is a no-op.
func (s *Store) RemoveListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, l)
	storeLogger.Debug("Removed listener (%d remain)", len(s.listeners))
}

// CreateFile creates a file called name inside the directory at dirPath,
// optionally writing data into it, and returns the new entry's path.
// It fails with ErrNotADirectory if dirPath is absent or not a directory,
// and with ErrAlreadyExists if the backing storage already has a file of
// that name there.
func (s *Store) CreateFile(ctx context.Context, dirPath, name string, data []byte) (string, error) {
	newPath := Join(dirPath, name)
	storeLogger.Info("Creating file %q", newPath)

	dir, err := s.directoryAt(OpCreate, dirPath)
	if err != nil {
		return "", err
	}

	exists, err := fileExists(ctx, dir, name)
	if err != nil {
		return "", NewError(OpCreate, newPath, err)
	}
	if exists {
		storeLogger.Warn("File already exists: %q", newPath)
		return "", NewError(OpCreate, newPath, ErrAlreadyExists)
	}

	fh, err := dir.File(ctx, name, true)
	if err != nil {
		return "", NewError(OpCreate, newPath, err)
	}

	if data != nil {
		if err := writeContent(ctx, fh, data); err != nil {
			return "", NewError(OpCreate, newPath, err)
		}
	}

	s.mu.Lock()
	s.entries[newPath] = fh
	s.invalidateLocked()
	s.mu.Unlock()

	s.notify([]string{dirPath, newPath})
	return newPath, nil
}

// CreateDirectory creates a directory called name inside the directory at
// dirPath and returns the new entry's path. Failure modes match CreateFile.
func (s *Store) CreateDirectory(ctx context.Context, dirPath, name string) (string, error) {
	newPath := Join(dirPath, name)
	storeLogger.Info("Creating directory %q", newPath)

	dir, err := s.directoryAt(OpMkdir, dirPath)
	if err != nil {
		return "", err
	}

	exists, err := directoryExists(ctx, dir, name)
	if err != nil {
		return "", NewError(OpMkdir, newPath, err)
	}
	if exists {
		storeLogger.Warn("Directory already exists: %q", newPath)
		return "", NewError(OpMkdir, newPath, ErrAlreadyExists)
	}

	dh, err := dir.Dir(ctx, name, true)
	if err != nil {
		return "", NewError(OpMkdir, newPath, err)
	}

	s.mu.Lock()
	s.entries[newPath] = dh
	s.invalidateLocked()
	s.mu.Unlock()

	s.notify([]string{dirPath, newPath})
	return newPath, nil
}

// RenameFile gives the file at path a new name within its directory and
// returns the new path. It fails with ErrRootImmutable on the root and
// ErrNotAFile if path is absent or not a file. When the backing handle
// lacks the atomic move capability the rename is a documented no-op: the
// original path is returned unchanged with no error, no mapping change and
// no notification.
func (s *Store) RenameFile(ctx context.Context, path, newName string) (string, error) {
	if IsRoot(path) {
		return "", NewError(OpRename, path, ErrRootImmutable)
	}

	s.mu.RLock()
	h, ok := s.entries[path]
	s.mu.RUnlock()
	if !ok || !IsFile(h) {
		return "", NewError(OpRename, path, ErrNotAFile)
	}

	mover, ok := h.(storage.Mover)
	if !ok {
		storeLogger.Warn("Handle for %q lacks move capability, rename is a no-op", path)
		return path, nil
	}

	parentPath := Parent(path)
	parent, err := s.directoryAt(OpRename, parentPath)
	if err != nil {
		return "", err
	}

	storeLogger.Info("Renaming file %q -> %q", path, newName)
	if err := mover.Move(ctx, parent, newName); err != nil {
		return "", NewError(OpRename, path, err)
	}

	newPath := Join(parentPath, newName)
	s.mu.Lock()
	delete(s.entries, path)
	s.entries[newPath] = h
	s.invalidateLocked()
	s.mu.Unlock()

	s.notify([]string{parentPath, path, newPath})
	return newPath, nil
}

// RenameDirectory gives the directory at path a new name within its parent
// and returns the new path. Every descendant entry is re-keyed under the
// new prefix so the parent-presence invariant keeps holding below the
// renamed directory. Failure and no-op modes match RenameFile, with
// ErrNotADirectory for a wrong-kind or absent path.
func (s *Store) RenameDirectory(ctx context.Context, path, newName string) (string, error) {
	if IsRoot(path) {
		return "", NewError(OpRename, path, ErrRootImmutable)
	}

	s.mu.RLock()
	h, ok := s.entries[path]
	s.mu.RUnlock()
	if !ok || !IsDirectory(h) {
		return "", NewError(OpRename, path, ErrNotADirectory)
	}

	mover, ok := h.(storage.Mover)
	if !ok {
		storeLogger.Warn("Handle for %q lacks move capability, rename is a no-op", path)
		return path, nil
	}

	parentPath := Parent(path)
	parent, err := s.directoryAt(OpRename, parentPath)
	if err != nil {
		return "", err
	}

	storeLogger.Info("Renaming directory %q -> %q", path, newName)
	if err := mover.Move(ctx, parent, newName); err != nil {
		return "", NewError(OpRename, path, err)
	}

	newPath := Join(parentPath, newName)

	s.mu.Lock()
	delete(s.entries, path)
	s.entries[newPath] = h

	changed := []string{parentPath, path, newPath}
	var rekey []string
	for oldKey := range s.entries {
		if IsDescendantOf(oldKey, path) {
			rekey = append(rekey, oldKey)
		}
	}
	for _, oldKey := range rekey {
		newKey := newPath + oldKey[len(path):]
		if newKey == oldKey {
			continue
		}
		storeLogger.Trace("Re-keying descendant %q -> %q", oldKey, newKey)
		s.entries[newKey] = s.entries[oldKey]
		delete(s.entries, oldKey)
		changed = append(changed, oldKey, newKey)
	}
	s.invalidateLocked()
	s.mu.Unlock()

	s.notify(changed)
	return newPath, nil
}

// MoveFile relocates the file at path into the directory at targetDir,
// keeping its name, and returns the new path. Precondition failures are
// silent: if path is the root, either endpoint is absent or of the wrong
// kind, or the handle lacks the move capability, the original path is
// returned unchanged with no mutation and no notification. A failure from
// the backing storage itself propagates.
func (s *Store) MoveFile(ctx context.Context, path, targetDir string) (string, error) {
	if IsRoot(path) {
		return path, nil
	}

	s.mu.RLock()
	h, hok := s.entries[path]
	t, tok := s.entries[targetDir]
	s.mu.RUnlock()

	if !hok || !IsFile(h) || !tok || !IsDirectory(t) {
		storeLogger.Debug("Move preconditions not met for %q -> %q, no-op", path, targetDir)
		return path, nil
	}

	mover, ok := h.(storage.Mover)
	if !ok {
		storeLogger.Debug("Handle for %q lacks move capability, no-op", path)
		return path, nil
	}

	target, ok := t.(storage.DirectoryHandle)
	if !ok {
		return path, nil
	}

	oldParent := Parent(path)
	storeLogger.Info("Moving file %q -> %q", path, targetDir)
	if err := mover.Move(ctx, target, h.Name()); err != nil {
		return path, NewError(OpMove, path, err)
	}

	newPath := Join(targetDir, h.Name())
	s.mu.Lock()
	delete(s.entries, path)
	s.entries[newPath] = h
	s.invalidateLocked()
	s.mu.Unlock()

	s.notify([]string{oldParent, path, targetDir, newPath})
	return newPath, nil
}

// RemoveEntry removes the entry at path from the backing storage and the
// mapping. It fails with ErrRootImmutable on the root and ErrNotADirectory
// if the parent of path is absent or not a directory. A backing storage
// refusal (e.g. a populated directory without recursive) propagates and
// leaves the mapping untouched. With recursive set, every mapping entry
// below path is dropped as well and included in the notification.
func (s *Store) RemoveEntry(ctx context.Context, path string, recursive bool) error {
	if IsRoot(path) {
		return NewError(OpRemove, path, ErrRootImmutable)
	}

	parentPath := Parent(path)
	parent, err := s.directoryAt(OpRemove, parentPath)
	if err != nil {
		return err
	}

	storeLogger.Info("Removing %q (recursive=%v)", path, recursive)
	if err := parent.RemoveEntry(ctx, Base(path), recursive); err != nil {
		return NewError(OpRemove, path, err)
	}

	s.mu.Lock()
	delete(s.entries, path)
	changed := []string{parentPath, path}
	if recursive {
		for key := range s.entries {
			if IsDescendantOf(key, path) {
				storeLogger.Trace("Dropping removed descendant %q", key)
				delete(s.entries, key)
				changed = append(changed, key)
			}
		}
	}
	s.invalidateLocked()
	s.mu.Unlock()

	s.notify(changed)
	return nil
}

// Initialize populates the mapping by walking the backing root. It is
// idempotent: exactly one walk happens per store lifetime, later calls are
// no-ops. The first call notifies every listener unconditionally.
func (s *Store) Initialize(ctx context.Context) error {
	// The walk runs outside the store lock, so a separate mutex makes the
	// check-walk-mark sequence atomic against concurrent Initialize calls.
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.RLock()
	done := s.initialized
	s.mu.RUnlock()
	if done {
		storeLogger.Trace("Already initialized, skipping walk")
		return nil
	}

	if err := s.Reload(ctx, nil); err != nil {
		return err
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

// Reload resynchronizes the mapping from a fresh walk of the backing root.
// With a nil filter the whole mapping is discarded and rebuilt and every
// listener is notified unconditionally. With a filter, only the matching
// slice of the mapping is touched: matching entries absent from the fresh
// walk are removed, matching walk entries are merged in, and listeners are
// notified with the union of removed and merged paths; an empty union
// notifies nobody. Unrelated subtrees are not disturbed.
func (s *Store) Reload(ctx context.Context, f Filter) error {
	storeLogger.Info("Reloading mapping from backing storage (filtered=%v)", f != nil)

	fresh := make(map[string]storage.Handle)
	err := Walk(ctx, s.root, func(path string, h storage.Handle) error {
		fresh[path] = h
		return nil
	})
	if err != nil {
		return NewError(OpReload, Root, err)
	}
	storeLogger.Debug("Walk yielded %d entries", len(fresh))

	if f == nil {
		s.mu.Lock()
		s.entries = fresh
		s.invalidateLocked()
		s.mu.Unlock()
		s.notify(nil)
		return nil
	}

	s.mu.Lock()
	var changed []string
	for path := range s.entries {
		if f.Matches(path) {
			if _, ok := fresh[path]; !ok {
				storeLogger.Trace("Reload removing %q", path)
				delete(s.entries, path)
				changed = append(changed, path)
			}
		}
	}
	for path, h := range fresh {
		if f.Matches(path) {
			s.entries[path] = h
			changed = append(changed, path)
		}
	}
	s.invalidateLocked()
	s.mu.Unlock()

	// An empty changed set must stay distinct from the nil full-resync
	// marker: a scoped reload that found nothing notifies nobody.
	if len(changed) > 0 {
		s.notify(changed)
	}
	return nil
}

// directoryAt returns the directory handle mapped at dirPath, or an
// ErrNotADirectory error when the path is absent or maps to a file.
func (s *Store) directoryAt(op, dirPath string) (storage.DirectoryHandle, error) {
	s.mu.RLock()
	h, ok := s.entries[dirPath]
	s.mu.RUnlock()

	if !ok || !IsDirectory(h) {
		return nil, NewError(op, dirPath, ErrNotADirectory)
	}
	dir, ok := h.(storage.DirectoryHandle)
	if !ok {
		return nil, NewError(op, dirPath, ErrNotADirectory)
	}
	return dir, nil
}

// invalidateLocked drops every cached filtered view. Called with the write
// lock held, after any change to the mapping, so no reader can observe a
// stale view.
func (s *Store) invalidateLocked() {
	if len(s.views) > 0 {
		storeLogger.Trace("Invalidating %d cached views", len(s.views))
		s.views = make(map[Filter]Snapshot)
	}
}

// notify invokes the listeners whose filter intersects the changed set.
// A nil changed set is a full resync and reaches every listener, as does a
// nil (absent) filter. Callbacks run synchronously after the store lock is
// released, so a listener may safely read a snapshot from inside its
// callback.
func (s *Store) notify(changed []string) {
	s.mu.RLock()
	targets := make([]Listener, 0, len(s.listeners))
	registered := len(s.listeners)
	for l, f := range s.listeners {
		if changed == nil || f == nil {
			targets = append(targets, l)
			continue
		}
		for _, path := range changed {
			if f.Matches(path) {
				targets = append(targets, l)
				break
			}
		}
	}
	s.mu.RUnlock()

	storeLogger.Debug("Notifying %d of %d listeners (%d changed paths)",
		len(targets), registered, len(changed))
	for _, l := range targets {
		l.PathsChanged(changed)
	}
}

// fileExists probes the backing storage for a child file without creating
// it, converting the not-found failure into a plain boolean. Any other
// failure propagates.
func fileExists(ctx context.Context, dir storage.DirectoryHandle, name string) (bool, error) {
	_, err := dir.File(ctx, name, false)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// directoryExists is the directory counterpart of fileExists.
func directoryExists(ctx context.Context, dir storage.DirectoryHandle, name string) (bool, error) {
	_, err := dir.Dir(ctx, name, false)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// writeContent pushes data into the file through a scoped writable stream:
// truncate, write, close. Content is only guaranteed visible after Close.
func writeContent(ctx context.Context, fh storage.FileHandle, data []byte) error {
	w, err := fh.OpenWritable(ctx)
	if err != nil {
		return err
	}
	if err := w.Truncate(0); err != nil {
		w.Close()
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
