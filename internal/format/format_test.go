package format_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesteny77/file-system/internal/disk"
	"github.com/vesteny77/file-system/internal/format"
	"github.com/vesteny77/file-system/internal/fsck"
	"github.com/vesteny77/file-system/internal/image"
)

func TestFormat_ProducesConsistentImage(t *testing.T) {
	data := make([]byte, 1<<20)
	layout, err := format.Format(data, format.Options{InodeCount: 64})
	require.NoError(t, err)
	assert.EqualValues(t, 64, layout.InodeCount)

	img, err := image.Open(data)
	require.NoError(t, err)

	assert.NoError(t, fsck.Check(img))
}

func TestFormat_S1_StatfsAfterFormat(t *testing.T) {
	data := make([]byte, 1<<20)
	layout, err := format.Format(data, format.Options{InodeCount: 64})
	require.NoError(t, err)

	img, err := image.Open(data)
	require.NoError(t, err)

	sb, err := img.Superblock()
	require.NoError(t, err)

	assert.EqualValues(t, disk.BlockSize, disk.BlockSize)
	assert.EqualValues(t, 64, sb.InodeCount)
	assert.EqualValues(t, 63, sb.AvailableInodes, "root inode is used")
	assert.Equal(t, layout.DataRegionBlocks, sb.AvailableBlocks, "no data blocks used by an empty root directory")
}

func TestFormat_RejectsZeroInodeCount(t *testing.T) {
	data := make([]byte, 1<<20)
	_, err := format.Format(data, format.Options{InodeCount: 0})
	assert.Error(t, err)
}

func TestFormat_RejectsGeometryThatConsumesWholeImage(t *testing.T) {
	data := make([]byte, disk.BlockSize)
	_, err := format.Format(data, format.Options{InodeCount: 1 << 20})
	assert.Error(t, err)
}

func TestFormat_RootInodeIsAnEmptyDirectory(t *testing.T) {
	data := make([]byte, 1<<20)
	_, err := format.Format(data, format.Options{InodeCount: 64})
	require.NoError(t, err)

	img, err := image.Open(data)
	require.NoError(t, err)

	root, err := img.Inode(disk.RootInode)
	require.NoError(t, err)

	assert.True(t, root.IsDir())
	assert.EqualValues(t, 2, root.LinkCount)
	assert.EqualValues(t, 0, root.Size)
	assert.EqualValues(t, 0, root.DirEntryCount)
	assert.EqualValues(t, 0, root.ExtentCount)
}
