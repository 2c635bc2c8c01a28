package disk

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Layout describes the block ranges of each region of an a1fs image,
// derived from the image size and inode count.
type Layout struct {
	TotalBlocks      uint32
	InodeCount       uint32
	InodeBitmapLen   uint32
	DataBitmapLen    uint32
	InodeTableLen    uint32
	DataRegionStart  uint32
	DataRegionBlocks uint32
}

func ceilDiv(n, d uint64) uint32 {
	if d == 0 {
		return 0
	}
	return uint32((n + d - 1) / d)
}

// ComputeLayout derives region lengths from the image size and requested
// inode count, the way mkfs.c's mkfs() does, but front-loaded so the
// formatter can validate before it writes a single byte.
//
// It accumulates every problem it finds with go-multierror instead of
// stopping at the first, so a caller asking "why won't this format" gets a
// complete answer in one pass.
func ComputeLayout(imageSize uint64, inodeCount uint32) (*Layout, error) {
	var errs *multierror.Error

	if imageSize == 0 || imageSize%BlockSize != 0 {
		errs = multierror.Append(errs, fmt.Errorf(
			"image size %d must be a non-zero multiple of the block size %d",
			imageSize, BlockSize))
	}
	if inodeCount == 0 {
		errs = multierror.Append(errs, fmt.Errorf("inode count must be non-zero"))
	}
	if errs.ErrorOrNil() != nil {
		return nil, errs.ErrorOrNil()
	}

	totalBlocks := uint32(imageSize / BlockSize)

	inodeBitmapLen := ceilDiv(uint64(inodeCount), BlockSize*8)
	// Inode table length depends only on inode count, independent of the
	// data bitmap, so it can be computed before we know how many blocks
	// remain for data.
	inodeTableLen := ceilDiv(uint64(inodeCount)*InodeSize, BlockSize)

	reservedSoFar := uint64(1) + uint64(inodeBitmapLen) + uint64(inodeTableLen)
	if reservedSoFar >= uint64(totalBlocks) {
		errs = multierror.Append(errs, fmt.Errorf(
			"reserved prefix (%d blocks) leaves no room for the data bitmap or data region in a %d-block image",
			reservedSoFar, totalBlocks))
		return nil, errs.ErrorOrNil()
	}

	// The data bitmap's own blocks come out of the blocks not already
	// reserved for the superblock/inode bitmap/inode table, and it covers
	// the rest; solve the small fixed point by growing the bitmap length
	// from zero until it covers the remaining blocks.
	remaining := uint64(totalBlocks) - reservedSoFar
	dataBitmapLen := uint32(0)
	for uint64(dataBitmapLen)*BlockSize*8 < remaining-uint64(dataBitmapLen) {
		dataBitmapLen++
	}

	if uint64(dataBitmapLen) >= remaining {
		errs = multierror.Append(errs, fmt.Errorf(
			"image too small: data bitmap alone (%d blocks) would consume the entire remaining %d blocks",
			dataBitmapLen, remaining))
		return nil, errs.ErrorOrNil()
	}

	dataRegionStart := uint32(reservedSoFar) + dataBitmapLen
	dataRegionBlocks := totalBlocks - dataRegionStart

	if dataRegionBlocks == 0 {
		errs = multierror.Append(errs, fmt.Errorf("geometry leaves zero blocks for the data region"))
		return nil, errs.ErrorOrNil()
	}

	return &Layout{
		TotalBlocks:      totalBlocks,
		InodeCount:       inodeCount,
		InodeBitmapLen:   inodeBitmapLen,
		DataBitmapLen:    dataBitmapLen,
		InodeTableLen:    inodeTableLen,
		DataRegionStart:  dataRegionStart,
		DataRegionBlocks: dataRegionBlocks,
	}, nil
}

// InodeBitmapStart is always block 1 (block 0 is the superblock).
func (l *Layout) InodeBitmapStart() uint32 { return 1 }

// DataBitmapStart follows the inode bitmap.
func (l *Layout) DataBitmapStart() uint32 {
	return l.InodeBitmapStart() + l.InodeBitmapLen
}

// InodeTableStart follows the data bitmap.
func (l *Layout) InodeTableStart() uint32 {
	return l.DataBitmapStart() + l.DataBitmapLen
}

// AvailableBlocksAtFormat is the number of free data blocks on a freshly
// formatted image that marks only the root inode's bookkeeping as used.
func (l *Layout) AvailableBlocksAtFormat() uint32 {
	return l.DataRegionBlocks
}
