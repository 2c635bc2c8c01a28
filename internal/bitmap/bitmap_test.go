package bitmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesteny77/file-system/internal/bitmap"
)

func newAllocator(t *testing.T, total uint32) *bitmap.Allocator {
	t.Helper()
	size := (total + 7) / 8
	return bitmap.New(make([]byte, size), total)
}

func TestAllocate_FirstFitLowestClearBit(t *testing.T) {
	a := newAllocator(t, 8)

	i, ok := a.Allocate()
	require.True(t, ok)
	assert.EqualValues(t, 0, i)

	j, ok := a.Allocate()
	require.True(t, ok)
	assert.EqualValues(t, 1, j)

	require.NoError(t, a.Free(0))
	k, ok := a.Allocate()
	require.True(t, ok)
	assert.EqualValues(t, 0, k, "freeing the lowest bit must make it the next allocation")
}

func TestAllocate_ExhaustionReturnsNotOK(t *testing.T) {
	a := newAllocator(t, 2)
	_, ok := a.Allocate()
	require.True(t, ok)
	_, ok = a.Allocate()
	require.True(t, ok)

	_, ok = a.Allocate()
	assert.False(t, ok)
}

func TestAvailableCounterTracksBitmap(t *testing.T) {
	a := newAllocator(t, 4)
	assert.EqualValues(t, 4, a.Available())

	i, ok := a.Allocate()
	require.True(t, ok)
	assert.EqualValues(t, 3, a.Available())

	require.NoError(t, a.Free(i))
	assert.EqualValues(t, 4, a.Available())
}

func TestFree_IsIdempotent(t *testing.T) {
	a := newAllocator(t, 4)
	require.NoError(t, a.Free(2))
	require.NoError(t, a.Free(2))
	assert.EqualValues(t, 4, a.Available())
}

func TestMarkUsed_ReservesWithoutSearch(t *testing.T) {
	a := newAllocator(t, 4)
	require.NoError(t, a.MarkUsed(3))
	assert.True(t, a.Test(3))
	assert.EqualValues(t, 3, a.Available())
}

func TestAttach_RecomputesAvailableFromExistingData(t *testing.T) {
	data := make([]byte, 1)
	data[0] = 0b00000101 // bits 0 and 2 set
	a := bitmap.Attach(data, 8)
	assert.EqualValues(t, 6, a.Available())
	assert.True(t, a.Test(0))
	assert.True(t, a.Test(2))
	assert.False(t, a.Test(1))
}
