package mirror

import "mirrorfs/internal/storage"

// IsFile reports whether the handle denotes a file. Pure capability test,
// no side effects.
func IsFile(h storage.Handle) bool {
	return h != nil && h.Kind() == storage.KindFile
}

// IsDirectory reports whether the handle denotes a directory. Exactly one
// of IsFile and IsDirectory holds for any non-nil handle.
func IsDirectory(h storage.Handle) bool {
	return h != nil && h.Kind() == storage.KindDirectory
}
