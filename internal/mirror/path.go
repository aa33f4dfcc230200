package mirror

import "strings"

// Path algebra for the store's flat mapping. The root is the empty string
// and every non-root path is its parent joined with "/" and the entry name,
// never with a trailing slash. All store operations go through these helpers
// so the root convention is decided exactly once.

// Root is the path of the backing root directory.
const Root = ""

// IsRoot reports whether path names the backing root.
func IsRoot(path string) bool {
	return path == Root
}

// Join returns the path of the entry called name inside parent.
func Join(parent, name string) string {
	return parent + "/" + name
}

// Parent returns the path of the directory containing path.
// The parent of a top-level entry is Root.
func Parent(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return Root
	}
	return path[:i]
}

// Base returns the final segment of path, which is the entry's own name.
func Base(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// IsDescendantOf reports whether path lies strictly below ancestor.
func IsDescendantOf(path, ancestor string) bool {
	if IsRoot(ancestor) {
		return !IsRoot(path)
	}
	return strings.HasPrefix(path, ancestor+"/")
}
