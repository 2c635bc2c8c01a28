// Package extent implements the per-inode extent map operations: appending a
// block, growing an empty file's first extent, shrinking to a target block
// count, and mapping a byte offset to a block address.
//
// Extents are stored unsorted, in traversal order, in one data block named by
// the inode's ExtentBlock field. An offset-to-block walk must therefore scan
// extents in array order, never sorted by start.
package extent

import (
	"syscall"

	"github.com/vesteny77/file-system/internal/bitmap"
	"github.com/vesteny77/file-system/internal/disk"
	"github.com/vesteny77/file-system/internal/image"
)

// Map is a convenience wrapper bundling the image and data bitmap that every
// extent operation needs.
type Map struct {
	Img  *image.Image
	Data *bitmap.Allocator
}

// New builds a Map over img, using img's own data bitmap.
func New(img *image.Image) *Map {
	return &Map{Img: img, Data: img.DataBitmap}
}

// readExtents decodes every extent currently stored for ino.
func (m *Map) readExtents(ino *disk.Inode) ([]disk.Extent, error) {
	if ino.ExtentCount == 0 {
		return nil, nil
	}
	block := m.Img.Block(ino.ExtentBlock)
	exts := make([]disk.Extent, ino.ExtentCount)
	for i := uint32(0); i < ino.ExtentCount; i++ {
		off := i * disk.ExtentSize
		e, err := disk.ReadExtent(block[off : off+disk.ExtentSize])
		if err != nil {
			return nil, err
		}
		exts[i] = *e
	}
	return exts, nil
}

// writeExtent persists extent index i (0-based) of ino's extent array.
func (m *Map) writeExtent(ino *disk.Inode, i uint32, e *disk.Extent) error {
	block := m.Img.Block(ino.ExtentBlock)
	off := i * disk.ExtentSize
	return disk.WriteExtent(block[off:off+disk.ExtentSize], e)
}

// LastBlockIndex returns the data-region-relative index of the last block
// belonging to ino.
func (m *Map) LastBlockIndex(ino *disk.Inode) (uint32, error) {
	exts, err := m.readExtents(ino)
	if err != nil {
		return 0, err
	}
	if len(exts) == 0 {
		return 0, syscall.EINVAL
	}
	last := exts[len(exts)-1]
	return last.Start + last.Count - 1, nil
}

// GrowFromEmpty gives a zero-extent inode its first data block, allocating
// the extent block along the way. Requires two free data blocks.
func (m *Map) GrowFromEmpty(ino *disk.Inode) error {
	if ino.ExtentCount != 0 {
		return syscall.EINVAL
	}
	extentBlock, ok := m.Data.Allocate()
	if !ok {
		return syscall.ENOSPC
	}
	dataBlock, ok := m.Data.Allocate()
	if !ok {
		m.Data.Free(extentBlock)
		return syscall.ENOSPC
	}

	m.zeroBlock(dataBlock)
	ino.ExtentBlock = extentBlock
	ino.ExtentCount = 1
	return m.writeExtent(ino, 0, &disk.Extent{Start: dataBlock, Count: 1})
}

// zeroBlock clears a freshly allocated data block so every new block starts
// out zero-filled.
func (m *Map) zeroBlock(block uint32) {
	region := m.Img.Block(block)
	for i := range region {
		region[i] = 0
	}
}

// AppendBlock grows ino by exactly one data block, extending the last
// extent in place when the immediately following block is free, otherwise
// appending a new extent.
func (m *Map) AppendBlock(ino *disk.Inode) error {
	if ino.ExtentCount == 0 {
		return m.GrowFromEmpty(ino)
	}

	exts, err := m.readExtents(ino)
	if err != nil {
		return err
	}
	lastIdx := len(exts) - 1
	last := exts[lastIdx]
	candidate := last.Start + last.Count

	if candidate < m.Img.Layout().DataRegionBlocks && !m.Data.Test(candidate) {
		if err := m.Data.MarkUsed(candidate); err != nil {
			return err
		}
		m.zeroBlock(candidate)
		last.Count++
		return m.writeExtent(ino, uint32(lastIdx), &last)
	}

	if ino.ExtentCount >= disk.MaxExtentsPerInode {
		return syscall.ENOSPC
	}
	newBlock, ok := m.Data.Allocate()
	if !ok {
		return syscall.ENOSPC
	}
	m.zeroBlock(newBlock)
	if err := m.writeExtent(ino, ino.ExtentCount, &disk.Extent{Start: newBlock, Count: 1}); err != nil {
		m.Data.Free(newBlock)
		return err
	}
	ino.ExtentCount++
	return nil
}

// ShrinkTo releases blocks past targetBlockCount. When targetBlockCount is 0
// the extent block itself is freed and the inode's extent fields are
// cleared.
func (m *Map) ShrinkTo(ino *disk.Inode, targetBlockCount uint32) error {
	exts, err := m.readExtents(ino)
	if err != nil {
		return err
	}

	kept := uint32(0)
	keptExtentCount := uint32(0)
	for _, e := range exts {
		if kept >= targetBlockCount {
			for b := e.Start; b < e.Start+e.Count; b++ {
				m.Data.Free(b)
			}
			continue
		}
		if kept+e.Count <= targetBlockCount {
			kept += e.Count
			if err := m.writeExtent(ino, keptExtentCount, &e); err != nil {
				return err
			}
			keptExtentCount++
			continue
		}

		// This extent straddles the boundary: keep the front portion, free
		// the tail.
		keepCount := targetBlockCount - kept
		for b := e.Start + keepCount; b < e.Start+e.Count; b++ {
			m.Data.Free(b)
		}
		trimmed := disk.Extent{Start: e.Start, Count: keepCount}
		if err := m.writeExtent(ino, keptExtentCount, &trimmed); err != nil {
			return err
		}
		keptExtentCount++
		kept = targetBlockCount
	}

	ino.ExtentCount = keptExtentCount
	if targetBlockCount == 0 {
		if err := m.Data.Free(ino.ExtentBlock); err != nil {
			return err
		}
		ino.ExtentBlock = 0
	}
	return nil
}

// OffsetToAddress maps a byte offset within ino's logical byte stream to a
// data-region-relative block index and the remainder within that block.
func (m *Map) OffsetToAddress(ino *disk.Inode, offset uint64) (block uint32, intraBlock uint32, err error) {
	exts, err := m.readExtents(ino)
	if err != nil {
		return 0, 0, err
	}
	remaining := offset
	for _, e := range exts {
		extentBytes := uint64(e.Count) * disk.BlockSize
		if remaining < extentBytes {
			blockWithinExtent := uint32(remaining / disk.BlockSize)
			return e.Start + blockWithinExtent, uint32(remaining % disk.BlockSize), nil
		}
		remaining -= extentBytes
	}
	return 0, 0, syscall.EINVAL
}

// AllocatedBlockCount returns the sum of every extent's count, i.e. the
// number of data blocks (not counting the extent block) ino currently owns.
func (m *Map) AllocatedBlockCount(ino *disk.Inode) (uint32, error) {
	exts, err := m.readExtents(ino)
	if err != nil {
		return 0, err
	}
	var total uint32
	for _, e := range exts {
		total += e.Count
	}
	return total, nil
}

// ForEachBlock visits every data block index ino owns, in traversal order.
func (m *Map) ForEachBlock(ino *disk.Inode, fn func(block uint32) error) error {
	exts, err := m.readExtents(ino)
	if err != nil {
		return err
	}
	for _, e := range exts {
		for b := e.Start; b < e.Start+e.Count; b++ {
			if err := fn(b); err != nil {
				return err
			}
		}
	}
	return nil
}
