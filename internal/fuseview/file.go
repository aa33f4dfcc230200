package fuseview

import (
	"context"
	"os"
	"syscall"

	"mirrorfs/internal/logging"
	"mirrorfs/internal/storage"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var fileLogger = logging.GetLogger().WithPrefix("fuseview-file")

// File exposes a file entry of the store over FUSE. Content is read from
// the backing handle; writes through the mount are refused, since mutation
// is the store API's job.
type File struct {
	view   *View
	path   string
	handle storage.FileHandle
}

// Attr implements the Node interface, returning the file's attributes.
// Size requires reading the content; the capability interface exposes no
// cheaper stat.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for file: %q", f.path)

	data, err := f.handle.Content(ctx)
	if err != nil {
		fileLogger.Warn("Failed to read content for attributes: %v", err)
		return toFuseError(err)
	}

	a.Mode = 0444
	a.Size = safeInt64ToUint64(int64(len(data)))
	a.Uid = f.view.uid
	a.Gid = f.view.gid
	a.BlockSize = 4096
	return nil
}

// Open implements the NodeOpener interface. The whole content is captured
// at open time, so a handle serves a consistent byte sequence even if the
// backing file changes underneath.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	flags := int(req.Flags)
	fileLogger.Debug("Opening file %q with flags %v", f.path, flags)

	if flags&os.O_WRONLY != 0 || flags&os.O_RDWR != 0 {
		fileLogger.Warn("Attempted write access to read-only view: %q", f.path)
		return nil, syscall.EPERM
	}

	data, err := f.handle.Content(ctx)
	if err != nil {
		fileLogger.Error("Failed to read file content: %v", err)
		return nil, toFuseError(err)
	}

	resp.Flags |= fuse.OpenDirectIO
	return &FileHandle{path: f.path, data: data}, nil
}

// FileHandle represents an open file handle serving captured content.
type FileHandle struct {
	path string // For logging purposes
	data []byte
}

// Read implements the HandleReader interface, reading from the captured
// content.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fileLogger.Trace("Reading %d bytes from file %q at offset %d",
		req.Size, fh.path, req.Offset)

	if req.Offset >= int64(len(fh.data)) {
		resp.Data = nil
		return nil
	}

	end := req.Offset + int64(req.Size)
	if end > int64(len(fh.data)) {
		end = int64(len(fh.data))
	}
	resp.Data = fh.data[req.Offset:end]
	return nil
}

// Release implements the HandleReleaser interface.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fileLogger.Debug("Closing file %q", fh.path)
	fh.data = nil
	return nil
}
