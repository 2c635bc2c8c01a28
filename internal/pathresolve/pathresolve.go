// Package pathresolve walks an absolute path component by component,
// scanning each directory's entries to find the next inode.
package pathresolve

import (
	"strings"
	"syscall"

	"github.com/vesteny77/file-system/internal/direntry"
	"github.com/vesteny77/file-system/internal/disk"
	"github.com/vesteny77/file-system/internal/extent"
	"github.com/vesteny77/file-system/internal/image"
)

// split breaks path into its non-empty components. Consecutive slashes
// collapse and a trailing empty component is ignored, matching the source's
// splitting behavior without mutating the caller's string (Go strings are
// immutable, so there is nothing to restore).
func split(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Resolve maps an absolute path to an inode number. It returns ENOENT if a
// component is missing and ENOTDIR if a non-final component names a regular
// file, and ENAMETOOLONG if path is too long to even attempt resolution.
func Resolve(img *image.Image, path string) (uint32, error) {
	if len(path) >= disk.PathMax {
		return 0, syscall.ENAMETOOLONG
	}

	em := extent.New(img)
	current := disk.RootInode

	for _, component := range split(path) {
		if len(component) > disk.NameMax {
			return 0, syscall.ENAMETOOLONG
		}

		ino, err := img.Inode(current)
		if err != nil {
			return 0, err
		}
		if !ino.IsDir() {
			return 0, syscall.ENOTDIR
		}

		child, found, err := direntry.Lookup(em, ino, component)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, syscall.ENOENT
		}
		current = child
	}

	return current, nil
}

// ResolveParentAndName splits path into its parent directory's inode number
// and the final path component's name, resolving only the parent. This is
// the shape every mutating operation (mkdir, create, unlink, rmdir) needs:
// the parent must exist and be a directory, but the final component is
// looked up or created by the caller.
func ResolveParentAndName(img *image.Image, path string) (parentInode uint32, name string, err error) {
	if len(path) >= disk.PathMax {
		return 0, "", syscall.ENAMETOOLONG
	}

	components := split(path)
	if len(components) == 0 {
		return 0, "", syscall.EINVAL
	}
	name = components[len(components)-1]
	if len(name) > disk.NameMax {
		return 0, "", syscall.ENAMETOOLONG
	}

	em := extent.New(img)
	current := disk.RootInode
	for _, component := range components[:len(components)-1] {
		ino, err := img.Inode(current)
		if err != nil {
			return 0, "", err
		}
		if !ino.IsDir() {
			return 0, "", syscall.ENOTDIR
		}
		child, found, err := direntry.Lookup(em, ino, component)
		if err != nil {
			return 0, "", err
		}
		if !found {
			return 0, "", syscall.ENOENT
		}
		current = child
	}

	return current, name, nil
}
