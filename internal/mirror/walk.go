package mirror

import (
	"context"
	"fmt"

	"mirrorfs/internal/logging"
	"mirrorfs/internal/storage"
)

var walkLogger = logging.GetLogger().WithPrefix("walk")

// VisitFunc is invoked once per entry during a walk. Returning an error
// aborts the walk and propagates the error to the caller.
type VisitFunc func(path string, h storage.Handle) error

// Walk traverses the backing hierarchy below root depth-first, pre-order:
// the root itself is visited first (with path Root), then every descendant,
// with all children of a directory visited before the next sibling subtree.
// Order within a directory is whatever the backend yields.
//
// Each call walks fresh; nothing is memoized between calls. Cyclic
// hierarchies are not defended against.
func Walk(ctx context.Context, root storage.DirectoryHandle, visit VisitFunc) error {
	walkLogger.Debug("Starting walk from root")
	if err := visit(Root, root); err != nil {
		return err
	}
	return walkChildren(ctx, Root, root, visit)
}

func walkChildren(ctx context.Context, parentPath string, dir storage.DirectoryHandle, visit VisitFunc) error {
	children, err := dir.Children(ctx)
	if err != nil {
		return NewError(OpWalk, parentPath, err)
	}

	for _, child := range children {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return NewError(OpWalk, parentPath, ctxErr)
		}

		childPath := Join(parentPath, child.Name())
		walkLogger.Trace("Visiting %q (%s)", childPath, child.Kind())
		if err := visit(childPath, child); err != nil {
			return err
		}

		if IsDirectory(child) {
			subdir, ok := child.(storage.DirectoryHandle)
			if !ok {
				return NewError(OpWalk, childPath,
					fmt.Errorf("directory handle does not enumerate children"))
			}
			if err := walkChildren(ctx, childPath, subdir, visit); err != nil {
				return err
			}
		}
	}
	return nil
}
