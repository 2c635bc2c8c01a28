package a1fs_test

import (
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	a1fs "github.com/vesteny77/file-system"
	"github.com/vesteny77/file-system/internal/disk"
	"github.com/vesteny77/file-system/internal/format"
	"github.com/vesteny77/file-system/internal/fsck"
	"github.com/vesteny77/file-system/internal/image"
)

func newMountedDriver(t *testing.T, imageSize uint64, inodeCount uint32) *a1fs.Driver {
	t.Helper()
	data := make([]byte, imageSize)
	_, err := format.Format(data, format.Options{InodeCount: inodeCount})
	require.NoError(t, err)

	driver, err := a1fs.Open(data)
	require.NoError(t, err)
	return driver
}

func TestMkdirThenRmdir_ClearsDirectory(t *testing.T) {
	d := newMountedDriver(t, 1<<20, 64)

	before, err := d.Statfs()
	require.NoError(t, err)

	require.NoError(t, d.Mkdir("/a", 0755))

	st, err := d.GetAttr("/a")
	require.NoError(t, err)
	assert.True(t, st.Mode&disk.ModeDir != 0)
	assert.EqualValues(t, 2, st.LinkCount)
	assert.EqualValues(t, 0, st.Size)

	require.NoError(t, d.Rmdir("/a"))

	_, err = d.GetAttr("/a")
	assert.ErrorIs(t, err, syscall.ENOENT)

	after, err := d.Statfs()
	require.NoError(t, err)
	assert.Equal(t, before.FreeInodes, after.FreeInodes)
	assert.Equal(t, before.FreeBlocks, after.FreeBlocks)
}

func TestWriteThenReadWithinOneBlock(t *testing.T) {
	d := newMountedDriver(t, 1<<20, 64)
	require.NoError(t, d.Create("/f", 0644))

	n, err := d.Write("/f", 10, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = d.Read("/f", 10, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))

	zeros := make([]byte, 5)
	n, err = d.Read("/f", 5, zeros)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, zeros)

	st, err := d.GetAttr("/f")
	require.NoError(t, err)
	assert.EqualValues(t, 15, st.Size)
}

func TestTruncateGrowThenShrink(t *testing.T) {
	d := newMountedDriver(t, 1<<20, 64)
	require.NoError(t, d.Create("/f", 0644))

	require.NoError(t, d.Truncate("/f", 8192))
	st, err := d.GetAttr("/f")
	require.NoError(t, err)
	assert.EqualValues(t, 8192, st.Size)
	assert.EqualValues(t, 3*(disk.BlockSize/512), st.Blocks512, "2 data blocks + 1 extent block")

	buf := make([]byte, 100)
	n, err := d.Read("/f", 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, make([]byte, 100), buf)

	require.NoError(t, d.Truncate("/f", 100))
	st, err = d.GetAttr("/f")
	require.NoError(t, err)
	assert.EqualValues(t, 100, st.Size)
}

func TestCreateThenUnlinkRestoresCounters(t *testing.T) {
	d := newMountedDriver(t, 1<<20, 64)

	before, err := d.Statfs()
	require.NoError(t, err)

	require.NoError(t, d.Create("/f", 0644))
	require.NoError(t, d.Unlink("/f"))

	after, err := d.Statfs()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReaddirReflectsMkdirAndRmdir(t *testing.T) {
	d := newMountedDriver(t, 1<<20, 64)
	require.NoError(t, d.Mkdir("/a", 0755))

	entries, err := d.ReadDir("/")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["."])
	assert.True(t, names[".."])
	assert.True(t, names["a"])

	require.NoError(t, d.Rmdir("/a"))
	entries, err = d.ReadDir("/")
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "a", e.Name)
	}
}

func TestRmdirOnNonEmptyDirectoryFails(t *testing.T) {
	d := newMountedDriver(t, 1<<20, 64)
	require.NoError(t, d.Mkdir("/a", 0755))
	require.NoError(t, d.Create("/a/f", 0644))

	err := d.Rmdir("/a")
	assert.ErrorIs(t, err, syscall.ENOTEMPTY)
}

func TestResolveNonDirectoryInPrefixFails(t *testing.T) {
	d := newMountedDriver(t, 1<<20, 64)
	require.NoError(t, d.Create("/f", 0644))

	_, err := d.GetAttr("/f/g")
	assert.ErrorIs(t, err, syscall.ENOTDIR)
}

func TestDirectoryGrowsASecondBlockAndShrinksOnUnlink(t *testing.T) {
	d := newMountedDriver(t, 1<<20, 256)
	require.NoError(t, d.Mkdir("/d", 0755))

	k := int(disk.DentriesPerBlock)
	for i := 0; i <= k; i++ {
		name := "/d/f" + indexToName(i)
		require.NoError(t, d.Create(name, 0644))
	}

	dirAttrBefore, err := d.GetAttr("/d")
	require.NoError(t, err)
	assert.True(t, dirAttrBefore.Size > disk.BlockSize)

	require.NoError(t, d.Unlink("/d/f"+indexToName(k)))
	dirAttrAfter, err := d.GetAttr("/d")
	require.NoError(t, err)
	assert.EqualValues(t, k*disk.DentrySize, dirAttrAfter.Size)
	assert.EqualValues(t, 2*(disk.BlockSize/512), dirAttrAfter.Blocks512, "1 data block + 1 extent block")
}

func indexToName(i int) string {
	return strconv.Itoa(i)
}

// TestTruncateGrowthPartiallyFailingStaysConsistent exercises the case where
// a growth loop attaches one block successfully and then hits ENOSPC on the
// next: every block the loop did manage to attach must still be reachable
// from the target inode's persisted extents, not just live in the data
// bitmap.
func TestTruncateGrowthPartiallyFailingStaysConsistent(t *testing.T) {
	const imageSize = 1 << 17 // 128 KiB: small enough to exhaust quickly
	data := make([]byte, imageSize)
	_, err := format.Format(data, format.Options{InodeCount: 32})
	require.NoError(t, err)
	d, err := a1fs.Open(data)
	require.NoError(t, err)

	require.NoError(t, d.Create("/target", 0644))
	_, err = d.Write("/target", 0, []byte{1})
	require.NoError(t, err)

	require.NoError(t, d.Create("/filler", 0644))
	require.NoError(t, d.Truncate("/filler", disk.BlockSize))
	for {
		st, err := d.Statfs()
		require.NoError(t, err)
		if st.FreeBlocks <= 1 {
			break
		}
		fillerSize, err := d.GetAttr("/filler")
		require.NoError(t, err)
		require.NoError(t, d.Truncate("/filler", fillerSize.Size+disk.BlockSize))
	}

	before, err := d.Statfs()
	require.NoError(t, err)
	require.EqualValues(t, 1, before.FreeBlocks)

	targetBefore, err := d.GetAttr("/target")
	require.NoError(t, err)

	err = d.Truncate("/target", targetBefore.Size+2*disk.BlockSize)
	assert.ErrorIs(t, err, syscall.ENOSPC)

	after, err := d.Statfs()
	require.NoError(t, err)
	assert.EqualValues(t, 0, after.FreeBlocks, "the one free block was consumed before the loop failed")

	img, err := image.Open(data)
	require.NoError(t, err)
	assert.NoError(t, fsck.Check(img), "every marked-used data block must be reachable from some inode's extents")
}
