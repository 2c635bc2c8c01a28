// Package direntry implements directory entry lookup, insertion, and
// last-entry-swap removal.
//
// A directory's entries pack contiguously with no holes across its logical
// byte stream: entry i lives at byte offset i*sizeof(dentry), which the
// extent map translates to a physical block and intra-block offset exactly
// like file data would be.
package direntry

import (
	"syscall"

	"github.com/vesteny77/file-system/internal/disk"
	"github.com/vesteny77/file-system/internal/extent"
)

// entrySlot returns the encoded bytes for directory entry index i of dir.
func entrySlot(em *extent.Map, dir *disk.Inode, i uint32) ([]byte, error) {
	offset := uint64(i) * disk.DentrySize
	block, intra, err := em.OffsetToAddress(dir, offset)
	if err != nil {
		return nil, err
	}
	return em.Img.Block(block)[intra : intra+disk.DentrySize], nil
}

// readEntry decodes directory entry index i.
func readEntry(em *extent.Map, dir *disk.Inode, i uint32) (*disk.Dentry, error) {
	slot, err := entrySlot(em, dir, i)
	if err != nil {
		return nil, err
	}
	return disk.ReadDentry(slot)
}

// writeEntry encodes d into directory entry index i.
func writeEntry(em *extent.Map, dir *disk.Inode, i uint32, d *disk.Dentry) error {
	slot, err := entrySlot(em, dir, i)
	if err != nil {
		return err
	}
	return disk.WriteDentry(slot, d)
}

// Lookup scans dir's entries in order for name, returning the child inode
// number if found.
func Lookup(em *extent.Map, dir *disk.Inode, name string) (childInode uint32, found bool, err error) {
	for i := uint32(0); i < dir.DirEntryCount; i++ {
		d, err := readEntry(em, dir, i)
		if err != nil {
			return 0, false, err
		}
		if d.NameString() == name {
			return d.Inode, true, nil
		}
	}
	return 0, false, nil
}

// ForEach invokes fn with the name and inode number of every entry in dir,
// in storage order (which is not necessarily insertion order once removals
// have occurred, per the swap-compact scheme).
func ForEach(em *extent.Map, dir *disk.Inode, fn func(name string, inode uint32) error) error {
	for i := uint32(0); i < dir.DirEntryCount; i++ {
		d, err := readEntry(em, dir, i)
		if err != nil {
			return err
		}
		if err := fn(d.NameString(), d.Inode); err != nil {
			return err
		}
	}
	return nil
}

// Insert adds a new (childInode, name) entry to dir, following the three
// cases described below. It mutates dir in place; the caller is responsible
// for persisting it and updating its mtime.
func Insert(em *extent.Map, dir *disk.Inode, childInode uint32, name string, childIsDir bool) error {
	if len(name) > disk.NameMax {
		return syscall.ENAMETOOLONG
	}

	var entry disk.Dentry
	entry.Inode = childInode
	if !entry.SetName(name) {
		return syscall.ENAMETOOLONG
	}

	switch {
	case dir.DirEntryCount == 0:
		// Case 1: empty parent.
		if err := em.GrowFromEmpty(dir); err != nil {
			return err
		}
		if err := writeEntry(em, dir, 0, &entry); err != nil {
			return err
		}

	case dir.Size%disk.BlockSize != 0:
		// Case 2: room in the last block. Entry DirEntryCount lands at slot
		// DirEntryCount % DentriesPerBlock of that block.
		if err := writeEntry(em, dir, dir.DirEntryCount, &entry); err != nil {
			return err
		}

	default:
		// Case 3: last block is full; grow by one block (extending the
		// last extent in place if possible, else a new extent).
		if err := em.AppendBlock(dir); err != nil {
			return err
		}
		if err := writeEntry(em, dir, dir.DirEntryCount, &entry); err != nil {
			return err
		}
	}

	dir.DirEntryCount++
	dir.Size += disk.DentrySize
	if childIsDir {
		dir.LinkCount++
	}
	return nil
}

// Remove deletes the entry named name from dir using last-entry-swap
// compaction. It returns the removed child's inode
// number and whether the parent directory became empty as a result.
func Remove(em *extent.Map, dir *disk.Inode, name string) (childInode uint32, parentEmptied bool, err error) {
	if dir.DirEntryCount == 0 {
		return 0, false, syscall.ENOENT
	}

	var targetIndex uint32
	found := false
	for i := uint32(0); i < dir.DirEntryCount; i++ {
		d, err := readEntry(em, dir, i)
		if err != nil {
			return 0, false, err
		}
		if d.NameString() == name {
			targetIndex = i
			childInode = d.Inode
			found = true
			break
		}
	}
	if !found {
		return 0, false, syscall.ENOENT
	}

	lastIndex := dir.DirEntryCount - 1
	if targetIndex != lastIndex {
		lastEntry, err := readEntry(em, dir, lastIndex)
		if err != nil {
			return 0, false, err
		}
		if err := writeEntry(em, dir, targetIndex, lastEntry); err != nil {
			return 0, false, err
		}
	}

	dir.DirEntryCount--
	dir.Size -= disk.DentrySize

	// If the vacated last slot was the first entry of its block, that block
	// is now unused and must be released.
	if dir.DirEntryCount%disk.DentriesPerBlock == 0 {
		if err := releaseLastBlock(em, dir); err != nil {
			return 0, false, err
		}
	}

	if dir.DirEntryCount == 0 {
		if dir.ExtentCount > 0 {
			if err := em.ShrinkTo(dir, 0); err != nil {
				return 0, false, err
			}
		}
		dir.LinkCount = 2
		parentEmptied = true
	}

	return childInode, parentEmptied, nil
}

// releaseLastBlock frees the block that held the entries now past
// dir.DirEntryCount, decrementing the owning extent's count (or dropping
// the extent entirely if it only covered that one block).
func releaseLastBlock(em *extent.Map, dir *disk.Inode) error {
	keptBlocks := (dir.DirEntryCount*disk.DentrySize + disk.BlockSize - 1) / disk.BlockSize
	return em.ShrinkTo(dir, keptBlocks)
}
