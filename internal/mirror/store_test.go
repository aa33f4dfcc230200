package mirror

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"mirrorfs/internal/storage"
)

// recorder is a test listener capturing the last notification.
type recorder struct {
	calls int
	last  []string
}

func (r *recorder) PathsChanged(paths []string) {
	r.calls++
	r.last = paths
}

func (r *recorder) notifiedWith(path string) bool {
	for _, p := range r.last {
		if p == path {
			return true
		}
	}
	return false
}

// newTestStore builds an initialized store over the seeded memory backend.
func newTestStore(t *testing.T) (*Store, storage.DirectoryHandle) {
	t.Helper()
	root := seedBackend(t)
	store := New(root)
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}
	return store, root
}

// checkParentPresence asserts invariant I1: every non-root path has its
// parent present and mapped to a directory.
func checkParentPresence(t *testing.T, store *Store) {
	t.Helper()
	snap := store.Snapshot(nil)
	for path := range snap {
		if IsRoot(path) {
			continue
		}
		parent, ok := snap[Parent(path)]
		if !ok {
			t.Errorf("Parent of %q is missing from the mapping", path)
			continue
		}
		if !IsDirectory(parent) {
			t.Errorf("Parent of %q is not a directory", path)
		}
	}
}

func TestInitializePopulatesMapping(t *testing.T) {
	store, _ := newTestStore(t)
	snap := store.Snapshot(nil)

	for _, path := range []string{Root, "/top.txt", "/docs", "/docs/note.txt", "/docs/archive", "/docs/archive/old.txt"} {
		if _, ok := snap[path]; !ok {
			t.Errorf("Expected %q in the mapping", path)
		}
	}
	if !IsDirectory(snap[Root]) {
		t.Error("Expected the root entry to be a directory")
	}
	checkParentPresence(t, store)
}

// countingRoot counts child enumerations of the root, which happen exactly
// once per full walk.
type countingRoot struct {
	storage.DirectoryHandle
	listCalls int
}

func (c *countingRoot) Children(ctx context.Context) ([]storage.Handle, error) {
	c.listCalls++
	return c.DirectoryHandle.Children(ctx)
}

func TestInitializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	root := &countingRoot{DirectoryHandle: seedBackend(t)}
	store := New(root)

	if err := store.Initialize(ctx); err != nil {
		t.Fatalf("First initialize failed: %v", err)
	}
	first := store.Snapshot(nil)

	if err := store.Initialize(ctx); err != nil {
		t.Fatalf("Second initialize failed: %v", err)
	}
	second := store.Snapshot(nil)

	if root.listCalls != 1 {
		t.Errorf("Expected exactly one walk, root was listed %d times", root.listCalls)
	}
	if len(first) != len(second) {
		t.Errorf("Expected identical mappings, got %d and %d entries", len(first), len(second))
	}
}

func TestInitializeConcurrentCallsWalkOnce(t *testing.T) {
	ctx := context.Background()
	root := &countingRoot{DirectoryHandle: seedBackend(t)}
	store := New(root)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Initialize(ctx); err != nil {
				t.Errorf("Initialize failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if root.listCalls != 1 {
		t.Errorf("Expected exactly one walk, root was listed %d times", root.listCalls)
	}
}

func TestInitializeNotifiesUnconditionally(t *testing.T) {
	root := seedBackend(t)
	store := New(root)

	all := &recorder{}
	scoped := &recorder{}
	store.AddListener(all, nil)
	store.AddListener(scoped, NewPrefixFilter("/nowhere"))

	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if all.calls != 1 {
		t.Errorf("Expected the unfiltered listener to be notified once, got %d", all.calls)
	}
	if scoped.calls != 1 {
		t.Errorf("Expected the filtered listener to be notified on a full resync, got %d", scoped.calls)
	}
	if all.last != nil {
		t.Errorf("Expected a nil changed set for a full resync, got %v", all.last)
	}
}

func TestCreateFileRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	data := []byte("hello mirror")

	newPath, err := store.CreateFile(ctx, Root, "a.txt", data)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if newPath != "/a.txt" {
		t.Errorf("Expected path %q, got %q", "/a.txt", newPath)
	}

	snap := store.Snapshot(nil)
	h, ok := snap["/a.txt"]
	if !ok {
		t.Fatal("Expected /a.txt in the mapping")
	}
	if !IsFile(h) {
		t.Fatal("Expected /a.txt to be a file")
	}

	content, err := h.(storage.FileHandle).Content(ctx)
	if err != nil {
		t.Fatalf("Failed to read content: %v", err)
	}
	if !bytes.Equal(content, data) {
		t.Errorf("Expected content %q, got %q", data, content)
	}
	checkParentPresence(t, store)
}

func TestCreateFileErrors(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateFile(ctx, "/missing", "a.txt", nil); !errors.Is(err, ErrNotADirectory) {
		t.Errorf("Expected ErrNotADirectory for an absent parent, got %v", err)
	}
	if _, err := store.CreateFile(ctx, "/top.txt", "a.txt", nil); !errors.Is(err, ErrNotADirectory) {
		t.Errorf("Expected ErrNotADirectory for a file parent, got %v", err)
	}
	if _, err := store.CreateFile(ctx, "/docs", "note.txt", nil); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists for a duplicate name, got %v", err)
	}
}

func TestCreateDirectoryNotification(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	inside := &recorder{}
	outside := &recorder{}
	store.AddListener(inside, NewPrefixFilter("/newdir"))
	store.AddListener(outside, NewFilterFunc(func(path string) bool { return path == "/other" }))

	newPath, err := store.CreateDirectory(ctx, Root, "newdir")
	if err != nil {
		t.Fatalf("CreateDirectory failed: %v", err)
	}
	if newPath != "/newdir" {
		t.Errorf("Expected path %q, got %q", "/newdir", newPath)
	}

	if inside.calls != 1 {
		t.Errorf("Expected the matching listener to fire once, got %d", inside.calls)
	}
	if outside.calls != 0 {
		t.Errorf("Expected the non-matching listener not to fire, got %d", outside.calls)
	}
	checkParentPresence(t, store)
}

func TestRenameFile(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := &recorder{}
	store.AddListener(rec, nil)

	newPath, err := store.RenameFile(ctx, "/docs/note.txt", "memo.txt")
	if err != nil {
		t.Fatalf("RenameFile failed: %v", err)
	}
	if newPath != "/docs/memo.txt" {
		t.Errorf("Expected path %q, got %q", "/docs/memo.txt", newPath)
	}

	snap := store.Snapshot(nil)
	if _, ok := snap["/docs/note.txt"]; ok {
		t.Error("Expected the old path to be gone")
	}
	if _, ok := snap["/docs/memo.txt"]; !ok {
		t.Error("Expected the new path in the mapping")
	}
	if snap["/docs/memo.txt"].Name() != "memo.txt" {
		t.Errorf("Expected the handle to carry the new name, got %q", snap["/docs/memo.txt"].Name())
	}

	for _, path := range []string{"/docs", "/docs/note.txt", "/docs/memo.txt"} {
		if !rec.notifiedWith(path) {
			t.Errorf("Expected %q in the changed set %v", path, rec.last)
		}
	}
	checkParentPresence(t, store)
}

func TestRenameFileErrors(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.RenameFile(ctx, Root, "x"); !errors.Is(err, ErrRootImmutable) {
		t.Errorf("Expected ErrRootImmutable for the root, got %v", err)
	}
	if _, err := store.RenameFile(ctx, "/missing.txt", "x"); !errors.Is(err, ErrNotAFile) {
		t.Errorf("Expected ErrNotAFile for an absent path, got %v", err)
	}
	if _, err := store.RenameFile(ctx, "/docs", "x"); !errors.Is(err, ErrNotAFile) {
		t.Errorf("Expected ErrNotAFile for a directory, got %v", err)
	}
}

// noMoveDir and noMoveFile strip the Mover capability from a backend, for
// exercising the documented no-op paths.
type noMoveDir struct {
	storage.DirectoryHandle
}

type noMoveFile struct {
	storage.FileHandle
}

func (d *noMoveDir) Children(ctx context.Context) ([]storage.Handle, error) {
	children, err := d.DirectoryHandle.Children(ctx)
	if err != nil {
		return nil, err
	}
	wrapped := make([]storage.Handle, len(children))
	for i, child := range children {
		switch c := child.(type) {
		case storage.DirectoryHandle:
			wrapped[i] = &noMoveDir{DirectoryHandle: c}
		case storage.FileHandle:
			wrapped[i] = &noMoveFile{FileHandle: c}
		default:
			wrapped[i] = child
		}
	}
	return wrapped, nil
}

func (d *noMoveDir) File(ctx context.Context, name string, create bool) (storage.FileHandle, error) {
	fh, err := d.DirectoryHandle.File(ctx, name, create)
	if err != nil {
		return nil, err
	}
	return &noMoveFile{FileHandle: fh}, nil
}

func (d *noMoveDir) Dir(ctx context.Context, name string, create bool) (storage.DirectoryHandle, error) {
	dh, err := d.DirectoryHandle.Dir(ctx, name, create)
	if err != nil {
		return nil, err
	}
	return &noMoveDir{DirectoryHandle: dh}, nil
}

func TestRenameFileWithoutCapability(t *testing.T) {
	ctx := context.Background()
	root := &noMoveDir{DirectoryHandle: seedBackend(t)}
	store := New(root)
	if err := store.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}

	rec := &recorder{}
	store.AddListener(rec, nil)

	newPath, err := store.RenameFile(ctx, "/docs/note.txt", "memo.txt")
	if err != nil {
		t.Fatalf("Expected a silent no-op, got error: %v", err)
	}
	if newPath != "/docs/note.txt" {
		t.Errorf("Expected the original path back, got %q", newPath)
	}
	if rec.calls != 0 {
		t.Errorf("Expected no notification for a no-op, got %d", rec.calls)
	}
	if !store.Exists("/docs/note.txt") {
		t.Error("Expected the mapping to be unchanged")
	}
}

func TestRenameDirectoryRekeysDescendants(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := &recorder{}
	store.AddListener(rec, nil)

	newPath, err := store.RenameDirectory(ctx, "/docs", "papers")
	if err != nil {
		t.Fatalf("RenameDirectory failed: %v", err)
	}
	if newPath != "/papers" {
		t.Errorf("Expected path %q, got %q", "/papers", newPath)
	}

	snap := store.Snapshot(nil)
	for _, path := range []string{"/papers", "/papers/note.txt", "/papers/archive", "/papers/archive/old.txt"} {
		if _, ok := snap[path]; !ok {
			t.Errorf("Expected re-keyed path %q in the mapping", path)
		}
	}
	for _, path := range []string{"/docs", "/docs/note.txt", "/docs/archive", "/docs/archive/old.txt"} {
		if _, ok := snap[path]; ok {
			t.Errorf("Expected old path %q to be gone", path)
		}
	}

	for _, path := range []string{"/docs/note.txt", "/papers/note.txt"} {
		if !rec.notifiedWith(path) {
			t.Errorf("Expected re-keyed descendant %q in the changed set %v", path, rec.last)
		}
	}
	checkParentPresence(t, store)
}

func TestRenameDirectoryErrors(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.RenameDirectory(ctx, Root, "x"); !errors.Is(err, ErrRootImmutable) {
		t.Errorf("Expected ErrRootImmutable for the root, got %v", err)
	}
	if _, err := store.RenameDirectory(ctx, "/top.txt", "x"); !errors.Is(err, ErrNotADirectory) {
		t.Errorf("Expected ErrNotADirectory for a file, got %v", err)
	}
}

func TestMoveFile(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := &recorder{}
	store.AddListener(rec, nil)

	newPath, err := store.MoveFile(ctx, "/docs/note.txt", Root)
	if err != nil {
		t.Fatalf("MoveFile failed: %v", err)
	}
	if newPath != "/note.txt" {
		t.Errorf("Expected path %q, got %q", "/note.txt", newPath)
	}

	snap := store.Snapshot(nil)
	if _, ok := snap["/docs/note.txt"]; ok {
		t.Error("Expected the old path to be gone")
	}
	if _, ok := snap["/note.txt"]; !ok {
		t.Error("Expected the new path in the mapping")
	}

	for _, path := range []string{"/docs", "/docs/note.txt", Root, "/note.txt"} {
		if !rec.notifiedWith(path) {
			t.Errorf("Expected %q in the changed set %v", path, rec.last)
		}
	}
	checkParentPresence(t, store)
}

func TestMoveFileSilentNoOp(t *testing.T) {
	ctx := context.Background()

	t.Run("preconditions", func(t *testing.T) {
		store, _ := newTestStore(t)
		rec := &recorder{}
		store.AddListener(rec, nil)

		cases := []struct {
			name      string
			path      string
			targetDir string
		}{
			{name: "root source", path: Root, targetDir: "/docs"},
			{name: "absent source", path: "/missing.txt", targetDir: "/docs"},
			{name: "absent target", path: "/top.txt", targetDir: "/missing"},
			{name: "file target", path: "/top.txt", targetDir: "/docs/note.txt"},
			{name: "directory source", path: "/docs", targetDir: Root},
		}
		for _, tt := range cases {
			got, err := store.MoveFile(ctx, tt.path, tt.targetDir)
			if err != nil {
				t.Errorf("%s: expected a silent no-op, got error %v", tt.name, err)
			}
			if got != tt.path {
				t.Errorf("%s: expected the original path back, got %q", tt.name, got)
			}
		}
		if rec.calls != 0 {
			t.Errorf("Expected no notifications, got %d", rec.calls)
		}
	})

	t.Run("missing capability", func(t *testing.T) {
		root := &noMoveDir{DirectoryHandle: seedBackend(t)}
		store := New(root)
		if err := store.Initialize(ctx); err != nil {
			t.Fatalf("Failed to initialize store: %v", err)
		}
		rec := &recorder{}
		store.AddListener(rec, nil)

		got, err := store.MoveFile(ctx, "/docs/note.txt", Root)
		if err != nil {
			t.Fatalf("Expected a silent no-op, got error: %v", err)
		}
		if got != "/docs/note.txt" {
			t.Errorf("Expected the original path back, got %q", got)
		}
		if rec.calls != 0 {
			t.Errorf("Expected no notification, got %d", rec.calls)
		}
		if !store.Exists("/docs/note.txt") {
			t.Error("Expected the mapping to be unchanged")
		}
	})
}

func TestRemoveEntry(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := &recorder{}
	store.AddListener(rec, nil)

	if err := store.RemoveEntry(ctx, "/top.txt", false); err != nil {
		t.Fatalf("RemoveEntry failed: %v", err)
	}
	if store.Exists("/top.txt") {
		t.Error("Expected /top.txt to be gone from the mapping")
	}
	for _, path := range []string{Root, "/top.txt"} {
		if !rec.notifiedWith(path) {
			t.Errorf("Expected %q in the changed set %v", path, rec.last)
		}
	}
	checkParentPresence(t, store)
}

func TestRemoveEntryRecursive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := &recorder{}
	store.AddListener(rec, nil)

	if err := store.RemoveEntry(ctx, "/docs", true); err != nil {
		t.Fatalf("RemoveEntry failed: %v", err)
	}

	for _, path := range []string{"/docs", "/docs/note.txt", "/docs/archive", "/docs/archive/old.txt"} {
		if store.Exists(path) {
			t.Errorf("Expected %q to be gone from the mapping", path)
		}
		if !rec.notifiedWith(path) {
			t.Errorf("Expected %q in the changed set %v", path, rec.last)
		}
	}
	checkParentPresence(t, store)
}

func TestRemoveEntryErrors(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.RemoveEntry(ctx, Root, false); !errors.Is(err, ErrRootImmutable) {
		t.Errorf("Expected ErrRootImmutable for the root, got %v", err)
	}
	if err := store.RemoveEntry(ctx, "/missing/child", false); !errors.Is(err, ErrNotADirectory) {
		t.Errorf("Expected ErrNotADirectory for an absent parent, got %v", err)
	}

	// A populated directory without recursive propagates the backing
	// storage's refusal and leaves the mapping untouched.
	err := store.RemoveEntry(ctx, "/docs", false)
	if !errors.Is(err, storage.ErrNotEmpty) {
		t.Errorf("Expected the backing ErrNotEmpty to propagate, got %v", err)
	}
	if !store.Exists("/docs") || !store.Exists("/docs/note.txt") {
		t.Error("Expected the mapping to be unchanged after a failed removal")
	}
}

func TestSnapshotCaching(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	f := NewPrefixFilter("/docs")

	first := store.Snapshot(f)
	second := store.Snapshot(f)
	if reflect.ValueOf(first).Pointer() != reflect.ValueOf(second).Pointer() {
		t.Error("Expected repeated reads without a mutation to hit the cache")
	}

	if _, err := store.CreateFile(ctx, "/docs", "fresh.txt", nil); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}

	// Cache coherence: the recomputed view equals a from-scratch filter of
	// the full mapping.
	view := store.Snapshot(f)
	full := store.Snapshot(nil)
	for path := range full {
		if f.Matches(path) {
			if _, ok := view[path]; !ok {
				t.Errorf("Expected %q in the filtered view", path)
			}
		}
	}
	for path := range view {
		if !f.Matches(path) {
			t.Errorf("Unexpected %q in the filtered view", path)
		}
	}
	if _, ok := view["/docs/fresh.txt"]; !ok {
		t.Error("Expected the mutation to invalidate the cached view")
	}
}

func TestSnapshotIsNotALiveView(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	before := store.Snapshot(nil)
	if _, err := store.CreateFile(ctx, Root, "late.txt", nil); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}

	if _, ok := before["/late.txt"]; ok {
		t.Error("Expected the earlier snapshot to stay point-in-time")
	}
	if _, ok := store.Snapshot(nil)["/late.txt"]; !ok {
		t.Error("Expected a fresh snapshot to contain the new entry")
	}
}

func TestListenerReplaceAndRemove(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := &recorder{}
	store.AddListener(rec, NewPrefixFilter("/nowhere"))
	// Re-adding replaces the filter, it does not add a second registration.
	store.AddListener(rec, NewPrefixFilter("/docs"))

	if _, err := store.CreateFile(ctx, "/docs", "one.txt", nil); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if rec.calls != 1 {
		t.Errorf("Expected exactly one notification, got %d", rec.calls)
	}

	store.RemoveListener(rec)
	if _, err := store.CreateFile(ctx, "/docs", "two.txt", nil); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if rec.calls != 1 {
		t.Errorf("Expected no notification after removal, got %d", rec.calls)
	}
}

func TestReloadFull(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()

	// Mutate the backing storage behind the store's back.
	if _, err := root.File(ctx, "external.txt", true); err != nil {
		t.Fatalf("Failed to mutate backing storage: %v", err)
	}

	rec := &recorder{}
	store.AddListener(rec, NewPrefixFilter("/nowhere"))

	if err := store.Reload(ctx, nil); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if !store.Exists("/external.txt") {
		t.Error("Expected the reload to pick up the external entry")
	}
	if rec.calls != 1 {
		t.Errorf("Expected an unconditional notification, got %d", rec.calls)
	}
	if rec.last != nil {
		t.Errorf("Expected a nil changed set for a full resync, got %v", rec.last)
	}
}

func TestReloadFiltered(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()

	// Behind the store's back: add one entry under /docs, remove another,
	// and add an entry outside the filter's scope.
	docs, err := root.Dir(ctx, "docs", false)
	if err != nil {
		t.Fatalf("Failed to open /docs: %v", err)
	}
	if _, err := docs.File(ctx, "added.txt", true); err != nil {
		t.Fatalf("Failed to add file: %v", err)
	}
	if err := docs.RemoveEntry(ctx, "note.txt", false); err != nil {
		t.Fatalf("Failed to remove file: %v", err)
	}
	if _, err := root.File(ctx, "outside.txt", true); err != nil {
		t.Fatalf("Failed to add file: %v", err)
	}

	rec := &recorder{}
	store.AddListener(rec, nil)

	if err := store.Reload(ctx, NewPrefixFilter("/docs")); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if !store.Exists("/docs/added.txt") {
		t.Error("Expected the matching addition to be merged")
	}
	if store.Exists("/docs/note.txt") {
		t.Error("Expected the matching removal to be applied")
	}
	if store.Exists("/outside.txt") {
		t.Error("Expected entries outside the filter to be left alone")
	}
	if !store.Exists("/top.txt") {
		t.Error("Expected unrelated mapping entries to survive")
	}

	if !rec.notifiedWith("/docs/added.txt") || !rec.notifiedWith("/docs/note.txt") {
		t.Errorf("Expected both the added and removed paths in the changed set %v", rec.last)
	}
	for _, path := range rec.last {
		if !NewPrefixFilter("/docs").Matches(path) {
			t.Errorf("Changed set leaked a path outside the filter: %q", path)
		}
	}
	checkParentPresence(t, store)
}

func TestReloadFilteredNoChangesNotifiesNobody(t *testing.T) {
	store, _ := newTestStore(t)

	all := &recorder{}
	scoped := &recorder{}
	store.AddListener(all, nil)
	store.AddListener(scoped, NewPrefixFilter("/absent"))

	// Nothing matches the filter and the backing tree is unchanged, so the
	// changed set is empty and no listener may fire.
	if err := store.Reload(context.Background(), NewPrefixFilter("/absent")); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if all.calls != 0 {
		t.Errorf("Expected no notification for the unfiltered listener, got %d with %v", all.calls, all.last)
	}
	if scoped.calls != 0 {
		t.Errorf("Expected no notification for the filtered listener, got %d with %v", scoped.calls, scoped.last)
	}
}

func TestExists(t *testing.T) {
	store, _ := newTestStore(t)

	if !store.Exists("/docs/note.txt") {
		t.Error("Expected /docs/note.txt to exist")
	}
	if store.Exists("/missing") {
		t.Error("Expected /missing not to exist")
	}
	if !store.Exists(Root) {
		t.Error("Expected the root to exist")
	}
}
