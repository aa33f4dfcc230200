// Package fuseview serves a mirror.Store over a FUSE mount. It is a view
// adapter: directory listings come from store snapshots, directory
// mutations delegate to store operations, and file content is served
// read-only from the backing handles. The store itself never depends on it.
package fuseview

import (
	"fmt"
	"os"
	"time"

	"mirrorfs/internal/logging"
	"mirrorfs/internal/mirror"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var viewLogger = logging.GetLogger().WithPrefix("fuseview")

// View is the FUSE filesystem over a store.
type View struct {
	store *mirror.Store
	conn  *fuse.Conn
	uid   uint32
	gid   uint32
}

// New creates a FUSE view over the given store. The store should already
// be initialized; the view performs no walking of its own.
func New(store *mirror.Store) *View {
	return &View{
		store: store,
		uid:   safeIntToUint32(os.Getuid()),
		gid:   safeIntToUint32(os.Getgid()),
	}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (v *View) Root() (fusefs.Node, error) {
	viewLogger.Trace("Getting root directory node")
	return &Dir{view: v, path: mirror.Root}, nil
}

func waitForMount(mountPoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountPoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts the view at the given mount point and starts serving.
func (v *View) Mount(mountPoint string) error {
	viewLogger.Info("Mounting mirror view at %s", mountPoint)

	mountOpts := []fuse.MountOption{
		fuse.FSName("mirrorfs"),
		fuse.Subtype("mirrorfs"),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	v.conn = c

	go func() {
		if err := fusefs.Serve(c, v); err != nil {
			viewLogger.Error("FUSE server error: %v", err)
		}
	}()

	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		viewLogger.Error("Mount point not ready: %v", err)
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	viewLogger.Info("Mirror view mounted successfully")
	return nil
}

// Unmount cleanly unmounts the view.
func (v *View) Unmount(mountPoint string) error {
	viewLogger.Info("Unmounting view from: %s", mountPoint)
	if v.conn != nil {
		err := fuse.Unmount(mountPoint)
		if err != nil {
			viewLogger.Error("Unmount failed: %v", err)
		}
		return err
	}
	return nil
}
