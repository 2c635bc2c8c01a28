package disk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesteny77/file-system/internal/disk"
)

func TestComputeLayout_OneMebibyte64Inodes(t *testing.T) {
	layout, err := disk.ComputeLayout(1<<20, 64)
	require.NoError(t, err)

	assert.EqualValues(t, 256, layout.TotalBlocks)
	assert.EqualValues(t, 64, layout.InodeCount)
	assert.EqualValues(t, 1, layout.InodeBitmapLen)
	assert.EqualValues(t, 1, layout.DataBitmapLen)

	expectedInodeTableLen := uint32((64*disk.InodeSize + disk.BlockSize - 1) / disk.BlockSize)
	assert.Equal(t, expectedInodeTableLen, layout.InodeTableLen)

	expectedDataBlocks := layout.TotalBlocks - 1 - layout.InodeBitmapLen - layout.DataBitmapLen - layout.InodeTableLen
	assert.Equal(t, expectedDataBlocks, layout.DataRegionBlocks)
}

func TestComputeLayout_RejectsNonMultipleOfBlockSize(t *testing.T) {
	_, err := disk.ComputeLayout(1000, 64)
	assert.Error(t, err)
}

func TestComputeLayout_RejectsZeroInodes(t *testing.T) {
	_, err := disk.ComputeLayout(1<<20, 0)
	assert.Error(t, err)
}

func TestComputeLayout_RejectsImageTooSmallForReservedPrefix(t *testing.T) {
	_, err := disk.ComputeLayout(disk.BlockSize, 1<<20)
	assert.Error(t, err)
}

func TestExtentAndDentrySizing(t *testing.T) {
	// These two relationships are load-bearing: extents per inode and
	// dentries per directory block are each capped at exactly what one
	// block holds, so the struct sizes must divide BlockSize evenly.
	assert.Equal(t, disk.MaxExtentsPerInode, disk.BlockSize/disk.ExtentSize)
	assert.Equal(t, 0, disk.BlockSize%disk.DentrySize)
}
