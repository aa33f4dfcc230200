package fuseview

import (
	"context"
	"os"
	"syscall"

	"mirrorfs/internal/logging"
	"mirrorfs/internal/mirror"
	"mirrorfs/internal/storage"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var dirLogger = logging.GetLogger().WithPrefix("fuseview-dir")

// Dir exposes a directory entry of the store over FUSE. It holds only the
// path; every operation resolves against the current snapshot.
type Dir struct {
	view *View
	path string
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.path)
	a.Mode = os.ModeDir | 0755
	a.Uid = d.view.uid
	a.Gid = d.view.gid
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	childPath := mirror.Join(d.path, name)
	dirLogger.Debug("Looking up %q in directory %q", name, d.path)

	snap := d.view.store.Snapshot(nil)
	h, ok := snap[childPath]
	if !ok {
		dirLogger.Trace("Path not found: %q", childPath)
		return nil, syscall.ENOENT
	}

	if mirror.IsDirectory(h) {
		return &Dir{view: d.view, path: childPath}, nil
	}
	fh, ok := h.(storage.FileHandle)
	if !ok {
		return nil, syscall.EIO
	}
	return &File{view: d.view, path: childPath, handle: fh}, nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing the
// directory's immediate children from the current snapshot.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path)

	entries := []fuse.Dirent{
		{Name: ".", Type: fuse.DT_Dir},
		{Name: "..", Type: fuse.DT_Dir},
	}

	snap := d.view.store.Snapshot(nil)
	for path, h := range snap {
		if mirror.IsRoot(path) || mirror.Parent(path) != d.path {
			continue
		}
		entryType := fuse.DT_File
		if mirror.IsDirectory(h) {
			entryType = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Name: mirror.Base(path), Type: entryType})
	}

	dirLogger.Debug("Directory %q contains %d entries", d.path, len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, creating a directory through
// the store.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	dirLogger.Info("Creating new directory %q in %q", req.Name, d.path)

	newPath, err := d.view.store.CreateDirectory(ctx, d.path, req.Name)
	if err != nil {
		dirLogger.Error("Mkdir failed: %v", err)
		return nil, toFuseError(err)
	}
	return &Dir{view: d.view, path: newPath}, nil
}

// Create implements the NodeCreater interface, creating an empty file
// through the store.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, _ *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	dirLogger.Info("Creating new file %q in %q", req.Name, d.path)

	newPath, err := d.view.store.CreateFile(ctx, d.path, req.Name, nil)
	if err != nil {
		dirLogger.Error("Create failed: %v", err)
		return nil, nil, toFuseError(err)
	}

	snap := d.view.store.Snapshot(nil)
	fh, ok := snap[newPath].(storage.FileHandle)
	if !ok {
		return nil, nil, syscall.EIO
	}
	node := &File{view: d.view, path: newPath, handle: fh}
	return node, &FileHandle{path: newPath}, nil
}

// Remove implements the NodeRemover interface. FUSE unlink and rmdir are
// both non-recursive; a populated directory surfaces as ENOTEMPTY.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	childPath := mirror.Join(d.path, req.Name)
	dirLogger.Info("Removing %q (isDir=%v)", childPath, req.Dir)

	if err := d.view.store.RemoveEntry(ctx, childPath, false); err != nil {
		dirLogger.Warn("Remove failed: %v", err)
		return toFuseError(err)
	}
	return nil
}

// Rename implements the NodeRenamer interface. In-place renames map onto
// the store's rename operations; moving a file to another directory under
// its own name maps onto MoveFile. Other combinations are unsupported.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Error("Rename target is not a directory node")
		return syscall.EINVAL
	}

	oldPath := mirror.Join(d.path, req.OldName)
	dirLogger.Info("Renaming %q -> %q in %q", req.OldName, req.NewName, target.path)

	snap := d.view.store.Snapshot(nil)
	h, ok := snap[oldPath]
	if !ok {
		return syscall.ENOENT
	}

	if target.path == d.path {
		var newPath string
		var err error
		if mirror.IsDirectory(h) {
			newPath, err = d.view.store.RenameDirectory(ctx, oldPath, req.NewName)
		} else {
			newPath, err = d.view.store.RenameFile(ctx, oldPath, req.NewName)
		}
		if err != nil {
			return toFuseError(err)
		}
		if newPath == oldPath {
			// Backing handle lacks the move capability.
			return syscall.ENOTSUP
		}
		return nil
	}

	if req.NewName == req.OldName && mirror.IsFile(h) {
		newPath, err := d.view.store.MoveFile(ctx, oldPath, target.path)
		if err != nil {
			return toFuseError(err)
		}
		if newPath == oldPath {
			return syscall.ENOTSUP
		}
		return nil
	}

	dirLogger.Warn("Unsupported rename shape: %q -> %q/%q", oldPath, target.path, req.NewName)
	return syscall.EINVAL
}
