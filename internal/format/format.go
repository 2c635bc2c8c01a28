// Package format implements the one-shot formatter: writing an empty, valid
// a1fs image (superblock, zeroed bitmaps with the root inode marked used,
// an empty root directory inode).
package format

import (
	"fmt"
	"time"

	"github.com/vesteny77/file-system/internal/bitmap"
	"github.com/vesteny77/file-system/internal/disk"
)

// Options configures a format pass.
type Options struct {
	// InodeCount is the number of inode slots to reserve. Must be >= 1 (the
	// root inode consumes one).
	InodeCount uint32
	// Zero, if true, zeroes the entire image before writing the format
	// structures. Formatting is well-defined either way: regions the
	// formatter does not explicitly own (the data region past what the root
	// directory needs) are left untouched when Zero is false.
	Zero bool
}

// Format writes a fresh a1fs image into data, which must already be sized to
// the desired image size (a multiple of disk.BlockSize).
func Format(data []byte, opts Options) (*disk.Layout, error) {
	layout, err := disk.ComputeLayout(uint64(len(data)), opts.InodeCount)
	if err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}

	if opts.Zero {
		for i := range data {
			data[i] = 0
		}
	} else {
		zeroRegion(data, 0, layout.InodeBitmapStart())
		zeroRegion(data, layout.InodeBitmapStart(), layout.InodeBitmapLen)
		zeroRegion(data, layout.DataBitmapStart(), layout.DataBitmapLen)
		zeroRegion(data, layout.InodeTableStart(), layout.InodeTableLen)
	}

	inodeBitmapBytes := regionBytes(data, layout.InodeBitmapStart(), layout.InodeBitmapLen)
	inodeBitmap := bitmap.New(inodeBitmapBytes, layout.InodeCount)

	dataBitmapBytes := regionBytes(data, layout.DataBitmapStart(), layout.DataBitmapLen)
	dataBitmap := bitmap.New(dataBitmapBytes, layout.DataRegionBlocks)

	if err := inodeBitmap.MarkUsed(disk.RootInode); err != nil {
		return nil, fmt.Errorf("format: reserving root inode: %w", err)
	}

	now := time.Now()
	rootInode := disk.Inode{
		Mode:          disk.ModeDir | disk.ModePerm,
		LinkCount:     2,
		Size:          0,
		MtimeSec:      now.Unix(),
		MtimeNsec:     int64(now.Nanosecond()),
		ExtentCount:   0,
		DirEntryCount: 0,
		ExtentBlock:   0,
	}

	inodeTableBytes := regionBytes(data, layout.InodeTableStart(), layout.InodeTableLen)
	if err := disk.WriteInode(inodeTableBytes[:disk.InodeSize], &rootInode); err != nil {
		return nil, fmt.Errorf("format: writing root inode: %w", err)
	}

	sb := disk.Superblock{
		Magic:            disk.Magic,
		ImageSize:        uint64(len(data)),
		InodeCount:       layout.InodeCount,
		AvailableInodes:  inodeBitmap.Available(),
		InodeBitmapLen:   layout.InodeBitmapLen,
		DataBitmapLen:    layout.DataBitmapLen,
		InodeTableLen:    layout.InodeTableLen,
		DataRegionBlocks: layout.DataRegionBlocks,
		AvailableBlocks:  dataBitmap.Available(),
		RootInode:        disk.RootInode,
	}
	if err := disk.WriteSuperblock(data[:disk.SuperblockSize], &sb); err != nil {
		return nil, fmt.Errorf("format: writing superblock: %w", err)
	}

	return layout, nil
}

func regionBytes(data []byte, startBlock, lenBlocks uint32) []byte {
	lo := uint64(startBlock) * disk.BlockSize
	hi := lo + uint64(lenBlocks)*disk.BlockSize
	return data[lo:hi]
}

func zeroRegion(data []byte, startBlock, lenBlocks uint32) {
	region := regionBytes(data, startBlock, lenBlocks)
	for i := range region {
		region[i] = 0
	}
}
