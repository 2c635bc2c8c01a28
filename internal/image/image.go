// Package image is the in-memory analog of the original driver's fs_ctx: it
// owns the mapped image bytes and hands out typed views into its regions
// (superblock, bitmaps, inode table, data blocks) without ever copying them.
//
// Block and Bytes return slices aliasing the backing []byte, so writes
// through them land directly in the image. Superblock and Inode return
// decoded copies; callers persist changes to them with WriteSuperblock and
// WriteInode.
package image

import (
	"fmt"

	"github.com/vesteny77/file-system/internal/bitmap"
	"github.com/vesteny77/file-system/internal/disk"
)

// Image is the runtime view over a mapped a1fs image.
type Image struct {
	data   []byte
	layout *disk.Layout

	InodeBitmap *bitmap.Allocator
	DataBitmap  *bitmap.Allocator
}

// Open attaches an Image to data, which must already hold a formatted a1fs
// image (a mapped image file, or any byte slice written by the formatter). It validates
// the superblock magic and reconstructs the two bitmap allocators over their
// regions of data.
func Open(data []byte) (*Image, error) {
	if len(data) < disk.BlockSize {
		return nil, fmt.Errorf("image: %d bytes is smaller than one block", len(data))
	}
	sb, err := disk.ReadSuperblock(data[:disk.SuperblockSize])
	if err != nil {
		return nil, fmt.Errorf("image: reading superblock: %w", err)
	}
	if sb.Magic != disk.Magic {
		return nil, fmt.Errorf("image: bad magic %#x, not an a1fs image", sb.Magic)
	}

	layout := &disk.Layout{
		TotalBlocks:      uint32(sb.ImageSize / disk.BlockSize),
		InodeCount:       sb.InodeCount,
		InodeBitmapLen:   sb.InodeBitmapLen,
		DataBitmapLen:    sb.DataBitmapLen,
		InodeTableLen:    sb.InodeTableLen,
		DataRegionBlocks: sb.DataRegionBlocks,
	}
	layout.DataRegionStart = layout.InodeTableStart() + layout.InodeTableLen

	img := &Image{data: data, layout: layout}

	inodeBitmapBytes := img.blockRange(layout.InodeBitmapStart(), layout.InodeBitmapLen)
	img.InodeBitmap = bitmap.Attach(inodeBitmapBytes, sb.InodeCount)

	dataBitmapBytes := img.blockRange(layout.DataBitmapStart(), layout.DataBitmapLen)
	img.DataBitmap = bitmap.Attach(dataBitmapBytes, sb.DataRegionBlocks)

	return img, nil
}

// Layout returns the geometry this image was formatted with.
func (img *Image) Layout() *disk.Layout { return img.layout }

// Bytes returns the full backing slice, for callers that need to write raw
// regions directly.
func (img *Image) Bytes() []byte { return img.data }

// Block returns the slice for data-region-relative block index i (i.e. i=0
// is the first block of the data region, not of the image).
func (img *Image) Block(i uint32) []byte {
	return img.blockRange(img.layout.DataRegionStart+i, 1)
}

// blockRange returns the slice spanning count blocks starting at absolute
// block index start.
func (img *Image) blockRange(start, count uint32) []byte {
	lo := uint64(start) * disk.BlockSize
	hi := lo + uint64(count)*disk.BlockSize
	return img.data[lo:hi]
}

// Superblock decodes the current superblock. Callers that mutate counters
// (AvailableInodes, AvailableBlocks) must call WriteSuperblock to persist the
// change.
func (img *Image) Superblock() (*disk.Superblock, error) {
	return disk.ReadSuperblock(img.data[:disk.SuperblockSize])
}

// WriteSuperblock persists sb back into block 0.
func (img *Image) WriteSuperblock(sb *disk.Superblock) error {
	return disk.WriteSuperblock(img.data[:disk.SuperblockSize], sb)
}

// inodeSlot returns the byte range of inode number n within the inode table.
func (img *Image) inodeSlot(n uint32) []byte {
	tableStart := img.layout.InodeTableStart()
	tableBytes := img.blockRange(tableStart, img.layout.InodeTableLen)
	off := uint64(n) * disk.InodeSize
	return tableBytes[off : off+disk.InodeSize]
}

// Inode decodes inode number n.
func (img *Image) Inode(n uint32) (*disk.Inode, error) {
	if n >= img.layout.InodeCount {
		return nil, fmt.Errorf("image: inode %d out of range [0, %d)", n, img.layout.InodeCount)
	}
	return disk.ReadInode(img.inodeSlot(n))
}

// WriteInode persists ino as inode number n.
func (img *Image) WriteInode(n uint32, ino *disk.Inode) error {
	if n >= img.layout.InodeCount {
		return fmt.Errorf("image: inode %d out of range [0, %d)", n, img.layout.InodeCount)
	}
	return disk.WriteInode(img.inodeSlot(n), ino)
}
