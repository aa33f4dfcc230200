package fuseview

import (
	"errors"
	"syscall"

	"mirrorfs/internal/logging"
	"mirrorfs/internal/mirror"
	"mirrorfs/internal/storage"
)

var errLogger = logging.GetLogger().WithPrefix("fuseview-error")

// toFuseError converts store and storage errors to the syscall error codes
// that FUSE expects. This is the single place mirror errors meet errnos.
func toFuseError(err error) error {
	if err == nil {
		return nil
	}

	errLogger.Trace("Converting error to FUSE error: %v", err)
	switch {
	case errors.Is(err, mirror.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, mirror.ErrNotAFile):
		return syscall.EISDIR
	case errors.Is(err, mirror.ErrAlreadyExists):
		return syscall.EEXIST
	case errors.Is(err, mirror.ErrRootImmutable):
		return syscall.EPERM
	case errors.Is(err, storage.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, storage.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, storage.ErrTypeMismatch):
		return syscall.EEXIST
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return syscall.EIO
	}
}
