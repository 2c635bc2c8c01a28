// Package bitmap implements the lowest-clear-bit-first allocator a1fs uses
// for both the inode bitmap and the data bitmap.
//
// Every allocator here owns a bitmap.Bitmap view over a byte slice (a region
// of the memory-mapped image) and a counter of units currently free. The two
// must never be allowed to disagree, so every method that touches the bitmap
// also updates the counter in the same call — callers never get a chance to
// observe one updated without the other.
package bitmap

import (
	"fmt"

	"github.com/boljen/go-bitmap"
)

// Allocator is a first-fit bit allocator over a fixed number of units backed
// by an external byte slice (a block of the mapped image).
type Allocator struct {
	bits      bitmap.Bitmap
	total     uint32
	available uint32
}

// Attach wraps an existing byte slice (already containing bitmap data, e.g.
// loaded from a formatted image) as an Allocator over total units. The
// available counter is recomputed by scanning, since the counter itself is
// not part of the on-disk bitmap format.
func Attach(data []byte, total uint32) *Allocator {
	a := &Allocator{bits: bitmap.Bitmap(data), total: total}
	a.available = 0
	for i := uint32(0); i < total; i++ {
		if !a.bits.Get(int(i)) {
			a.available++
		}
	}
	return a
}

// New creates an Allocator over a freshly zeroed region, with every unit
// free.
func New(data []byte, total uint32) *Allocator {
	for i := range data {
		data[i] = 0
	}
	return &Allocator{bits: bitmap.Bitmap(data), total: total, available: total}
}

// Total returns the number of units this allocator manages.
func (a *Allocator) Total() uint32 { return a.total }

// Available returns the number of currently free units.
func (a *Allocator) Available() uint32 { return a.available }

// Test reports whether unit i is currently allocated.
func (a *Allocator) Test(i uint32) bool {
	return a.bits.Get(int(i))
}

// MarkUsed forces unit i to the allocated state without going through the
// first-fit search: the formatter uses it to reserve the root inode, and the
// extent map to claim the block right after a file's last extent.
func (a *Allocator) MarkUsed(i uint32) error {
	if i >= a.total {
		return fmt.Errorf("bitmap: unit %d out of range [0, %d)", i, a.total)
	}
	if !a.bits.Get(int(i)) {
		a.bits.Set(int(i), true)
		a.available--
	}
	return nil
}

// Allocate finds the lowest-numbered free unit, marks it used, and returns
// its index. It reports ok=false if every unit is allocated.
func (a *Allocator) Allocate() (index uint32, ok bool) {
	if a.available == 0 {
		return 0, false
	}
	for i := uint32(0); i < a.total; i++ {
		if !a.bits.Get(int(i)) {
			a.bits.Set(int(i), true)
			a.available--
			return i, true
		}
	}
	// available said there was a free unit but the scan found none; the
	// sibling invariant has been violated somewhere upstream.
	return 0, false
}

// Free marks unit i as available again. It is a no-op, not an error, to free
// an already-free unit, matching the idempotent release semantics a1fs's
// directory/extent teardown paths rely on.
func (a *Allocator) Free(i uint32) error {
	if i >= a.total {
		return fmt.Errorf("bitmap: unit %d out of range [0, %d)", i, a.total)
	}
	if a.bits.Get(int(i)) {
		a.bits.Set(int(i), false)
		a.available++
	}
	return nil
}
