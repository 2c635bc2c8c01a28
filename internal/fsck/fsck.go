// Package fsck walks a mounted a1fs image and verifies the invariants that
// must hold after every completed operation: bitmap popcounts matching the
// superblock's free counters, disjoint block ownership across inodes,
// directory size/block-count/link-count consistency, and regular-file size
// fitting within allocated blocks.
package fsck

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/vesteny77/file-system/internal/direntry"
	"github.com/vesteny77/file-system/internal/disk"
	"github.com/vesteny77/file-system/internal/extent"
	"github.com/vesteny77/file-system/internal/image"
)

// Check walks img and returns every invariant violation it finds as a
// *multierror.Error, or nil if the image is consistent.
func Check(img *image.Image) error {
	var errs *multierror.Error
	em := extent.New(img)
	layout := img.Layout()

	used := make(map[uint32]uint32) // data block -> owning inode, to check disjointness

	sb, err := img.Superblock()
	if err != nil {
		return fmt.Errorf("fsck: reading superblock: %w", err)
	}

	var poppedInodeBits, poppedDataBits uint32
	for i := uint32(0); i < layout.InodeCount; i++ {
		if img.InodeBitmap.Test(i) {
			poppedInodeBits++
		}
	}
	for i := uint32(0); i < layout.DataRegionBlocks; i++ {
		if img.DataBitmap.Test(i) {
			poppedDataBits++
		}
	}

	// Invariant 1 & 2: available counters match bitmap popcounts.
	if sb.AvailableBlocks != layout.DataRegionBlocks-poppedDataBits {
		errs = multierror.Append(errs, fmt.Errorf(
			"available_blocks=%d but %d of %d data blocks are marked used",
			sb.AvailableBlocks, poppedDataBits, layout.DataRegionBlocks))
	}
	if sb.AvailableInodes != layout.InodeCount-poppedInodeBits {
		errs = multierror.Append(errs, fmt.Errorf(
			"available_inodes=%d but %d of %d inodes are marked used",
			sb.AvailableInodes, poppedInodeBits, layout.InodeCount))
	}

	for i := uint32(0); i < layout.InodeCount; i++ {
		if !img.InodeBitmap.Test(i) {
			continue
		}
		ino, err := img.Inode(i)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("inode %d: %w", i, err))
			continue
		}

		if ino.ExtentCount > 0 {
			if img.DataBitmap.Test(ino.ExtentBlock) {
				if owner, ok := used[ino.ExtentBlock]; ok {
					errs = multierror.Append(errs, fmt.Errorf(
						"extent block %d claimed by both inode %d and inode %d",
						ino.ExtentBlock, owner, i))
				}
				used[ino.ExtentBlock] = i
			} else {
				errs = multierror.Append(errs, fmt.Errorf(
					"inode %d's extent block %d is not marked used in the data bitmap", i, ino.ExtentBlock))
			}
		}

		var allocatedBlocks uint32
		walkErr := em.ForEachBlock(ino, func(block uint32) error {
			allocatedBlocks++
			if !img.DataBitmap.Test(block) {
				errs = multierror.Append(errs, fmt.Errorf(
					"inode %d owns block %d which is not marked used in the data bitmap", i, block))
			}
			if owner, ok := used[block]; ok {
				errs = multierror.Append(errs, fmt.Errorf(
					"data block %d claimed by both inode %d and inode %d", block, owner, i))
			}
			used[block] = i
			return nil
		})
		if walkErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("inode %d: walking extents: %w", i, walkErr))
			continue
		}

		if ino.IsDir() {
			// Invariant 4: directory size and block count derive from
			// dir_entry_count.
			expectedSize := uint64(ino.DirEntryCount) * disk.DentrySize
			if ino.Size != expectedSize {
				errs = multierror.Append(errs, fmt.Errorf(
					"inode %d: directory size=%d, expected %d for %d entries",
					i, ino.Size, expectedSize, ino.DirEntryCount))
			}
			expectedBlocks := (ino.DirEntryCount + disk.DentriesPerBlock - 1) / disk.DentriesPerBlock
			if allocatedBlocks != expectedBlocks {
				errs = multierror.Append(errs, fmt.Errorf(
					"inode %d: directory has %d data blocks, expected %d for %d entries",
					i, allocatedBlocks, expectedBlocks, ino.DirEntryCount))
			}
			// Invariant 7: empty directories own nothing.
			if ino.DirEntryCount == 0 && (ino.ExtentCount != 0 || ino.Size != 0) {
				errs = multierror.Append(errs, fmt.Errorf(
					"inode %d: empty directory still references an extent block or has nonzero size", i))
			}
		} else if ino.IsFile() {
			// Invariant 5: regular file size fits in its allocated blocks.
			if ino.Size > uint64(allocatedBlocks)*disk.BlockSize {
				errs = multierror.Append(errs, fmt.Errorf(
					"inode %d: file size=%d exceeds %d allocated blocks (%d bytes)",
					i, ino.Size, allocatedBlocks, uint64(allocatedBlocks)*disk.BlockSize))
			}
		}
	}

	// Invariant 3: every data block marked used in the bitmap must be
	// reachable from some inode's extent walk (the reverse of the checks
	// above, which only confirm that blocks an inode claims are marked
	// used). A block flipped used in the bitmap but never recorded in any
	// persisted inode's extents is leaked forever — no unlink or truncate
	// can free it, since no on-disk inode knows it owns the block.
	for i := uint32(0); i < layout.DataRegionBlocks; i++ {
		if img.DataBitmap.Test(i) {
			if _, ok := used[i]; !ok {
				errs = multierror.Append(errs, fmt.Errorf(
					"data block %d is marked used but is not reachable from any inode's extents", i))
			}
		}
	}

	// Invariant 6: directory link counts (checked by walking every
	// directory's children and comparing subdirectory counts).
	for i := uint32(0); i < layout.InodeCount; i++ {
		if !img.InodeBitmap.Test(i) {
			continue
		}
		ino, err := img.Inode(i)
		if err != nil || !ino.IsDir() {
			continue
		}
		var subdirs uint32
		err = direntry.ForEach(em, ino, func(name string, childInode uint32) error {
			child, err := img.Inode(childInode)
			if err != nil {
				return err
			}
			if child.IsDir() {
				subdirs++
			}
			return nil
		})
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("inode %d: scanning entries: %w", i, err))
			continue
		}
		if ino.LinkCount != 2+subdirs {
			errs = multierror.Append(errs, fmt.Errorf(
				"inode %d: link_count=%d, expected 2+%d=%d", i, ino.LinkCount, subdirs, 2+subdirs))
		}
	}

	return errs.ErrorOrNil()
}
