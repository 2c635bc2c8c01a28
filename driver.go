package a1fs

import (
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vesteny77/file-system/internal/direntry"
	"github.com/vesteny77/file-system/internal/disk"
	"github.com/vesteny77/file-system/internal/extent"
	"github.com/vesteny77/file-system/internal/image"
	"github.com/vesteny77/file-system/internal/pathresolve"
)

// Driver is the single-threaded, single-mount a1fs implementation. It owns
// no locks: the contract is that the caller delivers one
// operation at a time and waits for it to return before issuing the next.
type Driver struct {
	img *image.Image
	ext *extent.Map
	log *logrus.Entry
}

// Open attaches a Driver to an already-formatted image's mapped bytes.
func Open(data []byte) (*Driver, error) {
	img, err := image.Open(data)
	if err != nil {
		return nil, err
	}
	return &Driver{
		img: img,
		ext: extent.New(img),
		log: logrus.WithField("component", "a1fs"),
	}, nil
}

// FileStat mirrors the fields getattr must populate.
type FileStat struct {
	Mode      uint32
	LinkCount uint32
	Size      uint64
	Blocks512 uint64 // block count in 512-byte units, including the extent block
	Mtime     time.Time
}

// FSStat mirrors statfs's report.
type FSStat struct {
	BlockSize     uint32
	TotalInodes   uint32
	FreeInodes    uint32
	TotalBlocks   uint32
	FreeBlocks    uint32
	MaxNameLength uint32
}

func wrapErrno(op string, err error) error {
	if err == nil {
		return nil
	}
	if errno, ok := err.(syscall.Errno); ok {
		return NewDriverErrorWithMessage(errno, op)
	}
	return NewDriverErrorWithMessage(syscall.EIO, op+": "+err.Error())
}

func (d *Driver) resolve(path string) (uint32, *disk.Inode, error) {
	num, err := pathresolve.Resolve(d.img, path)
	if err != nil {
		return 0, nil, wrapErrno("resolve", err)
	}
	ino, err := d.img.Inode(num)
	if err != nil {
		return 0, nil, wrapErrno("resolve", err)
	}
	return num, ino, nil
}

// Statfs implements the statfs callback.
func (d *Driver) Statfs() (*FSStat, error) {
	sb, err := d.img.Superblock()
	if err != nil {
		return nil, wrapErrno("statfs", err)
	}
	return &FSStat{
		BlockSize:     disk.BlockSize,
		TotalInodes:   sb.InodeCount,
		FreeInodes:    sb.AvailableInodes,
		TotalBlocks:   sb.DataRegionBlocks,
		FreeBlocks:    sb.AvailableBlocks,
		MaxNameLength: disk.NameMax,
	}, nil
}

// GetAttr implements the getattr callback.
func (d *Driver) GetAttr(path string) (*FileStat, error) {
	_, ino, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	blocks, err := d.ext.AllocatedBlockCount(ino)
	if err != nil {
		return nil, wrapErrno("getattr", err)
	}
	if ino.ExtentCount > 0 {
		blocks++ // the extent block itself, per the section 9 lifecycle note
	}
	return &FileStat{
		Mode:      ino.Mode,
		LinkCount: ino.LinkCount,
		Size:      ino.Size,
		Blocks512: uint64(blocks) * (disk.BlockSize / 512),
		Mtime:     time.Unix(ino.MtimeSec, ino.MtimeNsec),
	}, nil
}

// DirEntry is one entry yielded by ReadDir.
type DirEntry struct {
	Name  string
	Inode uint32
	IsDir bool
}

// ReadDir implements the readdir callback, synthesizing "." and ".." ahead
// of the stored entries; dot entries are never materialized on disk.
func (d *Driver) ReadDir(path string) ([]DirEntry, error) {
	num, ino, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	if !ino.IsDir() {
		return nil, NewDriverError(syscall.ENOTDIR)
	}

	entries := []DirEntry{{Name: ".", Inode: num, IsDir: true}, {Name: "..", Inode: num, IsDir: true}}
	err = direntry.ForEach(d.ext, ino, func(name string, childInode uint32) error {
		child, err := d.img.Inode(childInode)
		if err != nil {
			return err
		}
		entries = append(entries, DirEntry{Name: name, Inode: childInode, IsDir: child.IsDir()})
		return nil
	})
	if err != nil {
		return nil, wrapErrno("readdir", err)
	}
	return entries, nil
}

// createEntry is shared by Mkdir and Create.
func (d *Driver) createEntry(path string, isDir bool, mode uint32) error {
	parentNum, name, err := pathresolve.ResolveParentAndName(d.img, path)
	if err != nil {
		return wrapErrno("create", err)
	}
	parent, err := d.img.Inode(parentNum)
	if err != nil {
		return wrapErrno("create", err)
	}
	if !parent.IsDir() {
		return NewDriverError(syscall.ENOTDIR)
	}
	if _, found, _ := direntry.Lookup(d.ext, parent, name); found {
		return NewDriverErrorWithMessage(syscall.EEXIST, path)
	}

	childNum, ok := d.img.InodeBitmap.Allocate()
	if !ok {
		return NewDriverError(syscall.ENOSPC)
	}

	now := time.Now()
	child := disk.Inode{
		MtimeSec:  now.Unix(),
		MtimeNsec: int64(now.Nanosecond()),
	}
	if isDir {
		child.Mode = disk.ModeDir | (mode & disk.ModePerm)
		child.LinkCount = 2
	} else {
		child.Mode = disk.ModeFile | (mode & disk.ModePerm)
		child.LinkCount = 1
	}

	if err := d.img.WriteInode(childNum, &child); err != nil {
		d.img.InodeBitmap.Free(childNum)
		return wrapErrno("create", err)
	}

	if err := direntry.Insert(d.ext, parent, childNum, name, isDir); err != nil {
		d.img.InodeBitmap.Free(childNum)
		return wrapErrno("create", err)
	}
	parent.MtimeSec = now.Unix()
	parent.MtimeNsec = int64(now.Nanosecond())

	if err := d.img.WriteInode(parentNum, parent); err != nil {
		return wrapErrno("create", err)
	}
	return d.syncSuperblockCounters()
}

// Mkdir implements the mkdir callback.
func (d *Driver) Mkdir(path string, mode uint32) error {
	return d.createEntry(path, true, mode)
}

// Create implements the create callback.
func (d *Driver) Create(path string, mode uint32) error {
	return d.createEntry(path, false, mode)
}

// removeEntry is shared by Rmdir and Unlink.
func (d *Driver) removeEntry(path string, expectDir bool) error {
	parentNum, name, err := pathresolve.ResolveParentAndName(d.img, path)
	if err != nil {
		return wrapErrno("remove", err)
	}
	parent, err := d.img.Inode(parentNum)
	if err != nil {
		return wrapErrno("remove", err)
	}

	targetNum, found, err := direntry.Lookup(d.ext, parent, name)
	if err != nil {
		return wrapErrno("remove", err)
	}
	if !found {
		return NewDriverError(syscall.ENOENT)
	}
	target, err := d.img.Inode(targetNum)
	if err != nil {
		return wrapErrno("remove", err)
	}
	if expectDir {
		if !target.IsDir() {
			return NewDriverError(syscall.ENOTDIR)
		}
		if target.DirEntryCount != 0 {
			return NewDriverError(syscall.ENOTEMPTY)
		}
	} else if target.IsDir() {
		return NewDriverErrorWithMessage(syscall.EISDIR, path)
	} else if target.Size > 0 || target.ExtentCount > 0 {
		// unlink of a non-empty regular file: release its blocks first.
		if err := d.ext.ShrinkTo(target, 0); err != nil {
			return wrapErrno("remove", err)
		}
		target.Size = 0
	}

	_, parentEmptied, err := direntry.Remove(d.ext, parent, name)
	if err != nil {
		return wrapErrno("remove", err)
	}
	// direntry.Remove already resets LinkCount to 2 when the parent empties
	// out, which is already the correct final value (zero subdirectories
	// remain); decrementing again on top of that would undercount, the
	// trap the open question about this bookkeeping calls out.
	if target.IsDir() && !parentEmptied {
		parent.LinkCount--
	}
	now := time.Now()
	parent.MtimeSec = now.Unix()
	parent.MtimeNsec = int64(now.Nanosecond())
	if err := d.img.WriteInode(parentNum, parent); err != nil {
		return wrapErrno("remove", err)
	}

	if err := d.img.InodeBitmap.Free(targetNum); err != nil {
		return wrapErrno("remove", err)
	}
	return d.syncSuperblockCounters()
}

// Rmdir implements the rmdir callback.
func (d *Driver) Rmdir(path string) error {
	return d.removeEntry(path, true)
}

// Unlink implements the unlink callback.
func (d *Driver) Unlink(path string) error {
	return d.removeEntry(path, false)
}

// Utimens implements the utimens callback.
func (d *Driver) Utimens(path string, mtime *time.Time) error {
	num, ino, err := d.resolve(path)
	if err != nil {
		return err
	}
	if mtime == nil {
		now := time.Now()
		mtime = &now
	}
	ino.MtimeSec = mtime.Unix()
	ino.MtimeNsec = int64(mtime.Nanosecond())
	if err := d.img.WriteInode(num, ino); err != nil {
		// Time-setting failures are diagnostic-only; utimens still reports success.
		d.log.WithError(err).Warn("utimens: failed to persist mtime")
		return nil
	}
	return nil
}

// Truncate implements the truncate callback.
func (d *Driver) Truncate(path string, newSize uint64) error {
	num, ino, err := d.resolve(path)
	if err != nil {
		return err
	}
	oldSize := ino.Size
	var growErr error

	switch {
	case newSize == oldSize:
		// no-op besides mtime below

	case newSize < oldSize:
		newBlockCount := uint32((newSize + disk.BlockSize - 1) / disk.BlockSize)
		if err := d.ext.ShrinkTo(ino, newBlockCount); err != nil {
			return wrapErrno("truncate", err)
		}
		ino.Size = newSize

	default:
		allocated, err := d.ext.AllocatedBlockCount(ino)
		if err != nil {
			return wrapErrno("truncate", err)
		}
		neededBlocks := uint32((newSize + disk.BlockSize - 1) / disk.BlockSize)
		for allocated < neededBlocks {
			if err := d.ext.AppendBlock(ino); err != nil {
				growErr = err
				break
			}
			allocated++
		}
		if oldSize%disk.BlockSize != 0 {
			if err := d.zeroTail(ino, oldSize); err != nil && growErr == nil {
				growErr = err
			}
		}
		// Every block AppendBlock attached above is already durable in the
		// data bitmap and the extent block even if the loop stopped short;
		// ino.Size must reflect exactly what's reachable from those extents
		// so a partial grow is never left unrecorded in the persisted inode.
		reached := uint64(allocated) * disk.BlockSize
		if reached < newSize {
			ino.Size = reached
		} else {
			ino.Size = newSize
		}
	}

	now := time.Now()
	ino.MtimeSec = now.Unix()
	ino.MtimeNsec = int64(now.Nanosecond())
	if err := d.img.WriteInode(num, ino); err != nil {
		return wrapErrno("truncate", err)
	}
	if err := d.syncSuperblockCounters(); err != nil {
		return wrapErrno("truncate", err)
	}
	if growErr != nil {
		return wrapErrno("truncate", growErr)
	}
	return nil
}

// zeroTail zeroes the bytes of the block containing fromOffset, from
// fromOffset%BlockSize to the end of the block.
func (d *Driver) zeroTail(ino *disk.Inode, fromOffset uint64) error {
	block, intra, err := d.ext.OffsetToAddress(ino, fromOffset)
	if err != nil {
		return err
	}
	region := d.img.Block(block)
	for i := intra; i < disk.BlockSize; i++ {
		region[i] = 0
	}
	return nil
}

// Read implements the read callback. The caller
// guarantees [offset, offset+len(buf)) lies within a single block.
func (d *Driver) Read(path string, offset uint64, buf []byte) (int, error) {
	_, ino, err := d.resolve(path)
	if err != nil {
		return 0, err
	}
	if offset >= ino.Size {
		return 0, nil
	}
	effective := uint64(len(buf))
	if rem := ino.Size - offset; rem < effective {
		effective = rem
	}
	block, intra, err := d.ext.OffsetToAddress(ino, offset)
	if err != nil {
		return 0, wrapErrno("read", err)
	}
	n := copy(buf[:effective], d.img.Block(block)[intra:])
	return n, nil
}

// Write implements the write callback. The caller
// guarantees [offset, offset+len(buf)) lies within a single block.
func (d *Driver) Write(path string, offset uint64, buf []byte) (int, error) {
	num, ino, err := d.resolve(path)
	if err != nil {
		return 0, err
	}
	size := uint64(len(buf))
	end := offset + size

	allocated, err := d.ext.AllocatedBlockCount(ino)
	if err != nil {
		return 0, wrapErrno("write", err)
	}
	allocatedBytes := uint64(allocated) * disk.BlockSize

	if end > allocatedBytes {
		// Case 4: grow by the minimum number of blocks.
		needed := uint32((end + disk.BlockSize - 1) / disk.BlockSize)
		for allocated < needed {
			if err := d.ext.AppendBlock(ino); err != nil {
				// Blocks AppendBlock already attached above are durable in
				// the data bitmap and the extent block before this error
				// fires; persist ino so the inode doesn't lose track of
				// them, rather than discarding the in-memory bump.
				reached := uint64(allocated) * disk.BlockSize
				if reached > ino.Size {
					ino.Size = reached
				}
				if werr := d.img.WriteInode(num, ino); werr != nil {
					return 0, wrapErrno("write", werr)
				}
				if serr := d.syncSuperblockCounters(); serr != nil {
					return 0, wrapErrno("write", serr)
				}
				return 0, wrapErrno("write", err)
			}
			allocated++
		}
		allocatedBytes = uint64(allocated) * disk.BlockSize
	}

	if end > ino.Size {
		// Cases 2/3: zero the gap between the old logical size and the end
		// of the allocated region before copying, so stale bytes never leak.
		zeroFrom := ino.Size
		if offset < zeroFrom {
			zeroFrom = offset
		}
		if err := d.zeroRange(ino, zeroFrom, allocatedBytes); err != nil {
			return 0, wrapErrno("write", err)
		}
	}

	block, intra, err := d.ext.OffsetToAddress(ino, offset)
	if err != nil {
		return 0, wrapErrno("write", err)
	}
	copy(d.img.Block(block)[intra:], buf)

	if end > ino.Size {
		ino.Size = end
	}
	now := time.Now()
	ino.MtimeSec = now.Unix()
	ino.MtimeNsec = int64(now.Nanosecond())
	if err := d.img.WriteInode(num, ino); err != nil {
		return 0, wrapErrno("write", err)
	}
	if err := d.syncSuperblockCounters(); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// zeroRange zeroes logical bytes [from, to) of ino's data stream.
func (d *Driver) zeroRange(ino *disk.Inode, from, to uint64) error {
	for off := from; off < to; {
		block, intra, err := d.ext.OffsetToAddress(ino, off)
		if err != nil {
			return err
		}
		region := d.img.Block(block)
		n := uint64(disk.BlockSize) - uint64(intra)
		if off+n > to {
			n = to - off
		}
		for i := uint64(0); i < n; i++ {
			region[uint64(intra)+i] = 0
		}
		off += n
	}
	return nil
}

// syncSuperblockCounters persists the bitmap allocators' live Available()
// counts back into the superblock's cached free-inode/free-block fields.
func (d *Driver) syncSuperblockCounters() error {
	sb, err := d.img.Superblock()
	if err != nil {
		return wrapErrno("sync", err)
	}
	sb.AvailableInodes = d.img.InodeBitmap.Available()
	sb.AvailableBlocks = d.img.DataBitmap.Available()
	if err := d.img.WriteSuperblock(sb); err != nil {
		return wrapErrno("sync", err)
	}
	return nil
}
