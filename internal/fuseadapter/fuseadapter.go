// Package fuseadapter bridges an a1fs.Driver to hanwen/go-fuse/v2's classic
// pathfs.FileSystem contract, learned from the pack's KarpelesLab/squashfs
// (the only example repo that mounts a mapped image over FUSE). It embeds
// pathfs.DefaultFileSystem so every call this driver doesn't need (xattrs,
// symlinks, hard links, rename) falls back to ENOSYS, the same way a
// read/write loopback example would stub out what it doesn't support.
package fuseadapter

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	a1fs "github.com/vesteny77/file-system"
)

// FS adapts *a1fs.Driver to pathfs.FileSystem. Every method below translates
// a FUSE path-level call into one Driver operation and maps the result's
// *a1fs.DriverError back to a fuse.Status.
type FS struct {
	pathfs.DefaultFileSystem
	driver *a1fs.Driver
}

// New wraps driver for mounting with pathfs.NewPathNodeFs.
func New(driver *a1fs.Driver) *FS {
	return &FS{driver: driver}
}

func toPath(name string) string {
	return "/" + name
}

func statusOf(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	if de, ok := err.(*a1fs.DriverError); ok {
		return fuse.Status(de.ErrnoCode)
	}
	return fuse.EIO
}

// GetAttr implements the getattr callback.
func (fs *FS) GetAttr(name string, _ *fuse.Context) (*fuse.Attr, fuse.Status) {
	st, err := fs.driver.GetAttr(toPath(name))
	if err != nil {
		return nil, statusOf(err)
	}
	attr := &fuse.Attr{
		Mode:  st.Mode,
		Nlink: st.LinkCount,
		Size:  st.Size,
		Mtime: uint64(st.Mtime.Unix()),
	}
	attr.Blocks = st.Blocks512
	return attr, fuse.OK
}

// OpenDir implements the readdir callback.
func (fs *FS) OpenDir(name string, _ *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	entries, err := fs.driver.ReadDir(toPath(name))
	if err != nil {
		return nil, statusOf(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if e.IsDir {
			mode = uint32(fuse.S_IFDIR)
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode, Ino: uint64(e.Inode)})
	}
	return out, fuse.OK
}

// Mkdir implements the mkdir callback.
func (fs *FS) Mkdir(name string, mode uint32, _ *fuse.Context) fuse.Status {
	return statusOf(fs.driver.Mkdir(toPath(name), mode))
}

// Rmdir implements the rmdir callback.
func (fs *FS) Rmdir(name string, _ *fuse.Context) fuse.Status {
	return statusOf(fs.driver.Rmdir(toPath(name)))
}

// Unlink implements the unlink callback.
func (fs *FS) Unlink(name string, _ *fuse.Context) fuse.Status {
	return statusOf(fs.driver.Unlink(toPath(name)))
}

// Truncate implements the truncate callback.
func (fs *FS) Truncate(name string, size uint64, _ *fuse.Context) fuse.Status {
	return statusOf(fs.driver.Truncate(toPath(name), size))
}

// Utimens implements the utimens callback.
func (fs *FS) Utimens(name string, _ *time.Time, mtime *time.Time, _ *fuse.Context) fuse.Status {
	return statusOf(fs.driver.Utimens(toPath(name), mtime))
}

// StatFs implements the statfs callback.
func (fs *FS) StatFs(name string) *fuse.StatfsOut {
	st, err := fs.driver.Statfs()
	if err != nil {
		return nil
	}
	return &fuse.StatfsOut{
		Bsize:   st.BlockSize,
		Blocks:  uint64(st.TotalBlocks),
		Bfree:   uint64(st.FreeBlocks),
		Bavail:  uint64(st.FreeBlocks),
		Files:   uint64(st.TotalInodes),
		Ffree:   uint64(st.FreeInodes),
		NameLen: st.MaxNameLength,
	}
}

// Create implements the create callback, then opens the new file for I/O.
func (fs *FS) Create(name string, flags uint32, mode uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	if err := fs.driver.Create(toPath(name), mode); err != nil {
		return nil, statusOf(err)
	}
	return fs.Open(name, flags, context)
}

// Open returns a handle that drives Read/Write/Truncate calls for an
// already-existing file. a1fs has no separate file descriptor state — every
// operation re-resolves the path against the driver's single mounted image —
// so the handle is just the path.
func (fs *FS) Open(name string, _ uint32, _ *fuse.Context) (nodefs.File, fuse.Status) {
	if _, err := fs.driver.GetAttr(toPath(name)); err != nil {
		return nil, statusOf(err)
	}
	return &file{File: nodefs.NewDefaultFile(), driver: fs.driver, path: toPath(name)}, fuse.OK
}

// file implements nodefs.File over one a1fs path.
type file struct {
	nodefs.File
	driver *a1fs.Driver
	path   string
}

func (f *file) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	n, err := f.driver.Read(f.path, uint64(off), dest)
	if err != nil {
		return nil, statusOf(err)
	}
	return fuse.ReadResultData(dest[:n]), fuse.OK
}

func (f *file) Write(data []byte, off int64) (uint32, fuse.Status) {
	n, err := f.driver.Write(f.path, uint64(off), data)
	if err != nil {
		return 0, statusOf(err)
	}
	return uint32(n), fuse.OK
}

func (f *file) Truncate(size uint64) fuse.Status {
	return statusOf(f.driver.Truncate(f.path, size))
}

func (f *file) GetAttr(out *fuse.Attr) fuse.Status {
	st, err := f.driver.GetAttr(f.path)
	if err != nil {
		return statusOf(err)
	}
	out.Mode = st.Mode
	out.Nlink = st.LinkCount
	out.Size = st.Size
	out.Mtime = uint64(st.Mtime.Unix())
	out.Blocks = st.Blocks512
	return fuse.OK
}

func (f *file) Flush() fuse.Status { return fuse.OK }

func (f *file) Release() {}
