// Package mmtest provides helpers for exercising the memory subsystem in a
// hosted environment. A plain Go allocation stands in for physical memory:
// physical addresses are offsets into the arena and the direct-mapped window
// is anchored at the arena's (page-aligned) base address.
package mmtest

import (
	"testing"
	"unsafe"

	"osmium/kernel/hal/bootinfo"
	"osmium/kernel/mem"
	"osmium/kernel/mm"
)

// Arena models a contiguous range of physical memory. The backing storage is
// word-typed so overlaid page table and ledger views keep the host alignment
// they need.
type Arena struct {
	words []uint64
	base  uintptr
	size  uintptr
}

// NewArena reserves size bytes of host memory, registers boot parameters
// describing it and points the direct-mapped window at it. When memoryMap is
// nil the whole arena is reported as a single available region; otherwise the
// supplied entries are used verbatim (addresses are arena offsets). The
// registered window is torn down when the test finishes.
func NewArena(t *testing.T, size uintptr, memoryMap []bootinfo.MemoryMapEntry) *Arena {
	t.Helper()

	if !mem.IsAligned(size, mm.PageSize) {
		t.Fatalf("arena size 0x%x is not page-aligned", size)
	}

	a := &Arena{
		words: make([]uint64, (size+mm.PageSize)>>mm.PointerShift),
		size:  size,
	}
	a.base = mem.AlignUp(uintptr(unsafe.Pointer(&a.words[0])), mm.PageSize)

	if memoryMap == nil {
		memoryMap = []bootinfo.MemoryMapEntry{
			{PhysAddress: 0, Length: uint64(size), Type: bootinfo.MemAvailable},
		}
	}

	if err := bootinfo.Set(&bootinfo.BootInfo{
		DirectMapBase: a.base,
		MemoryMap:     memoryMap,
	}); err != nil {
		t.Fatalf("registering boot parameters: %v", err)
	}

	mm.SetDirectMap(a.base, size)
	t.Cleanup(func() {
		mm.SetDirectMap(0, 0)
		mm.SetFrameAllocator(nil)
		mm.SetFrameFreer(nil)
	})

	return a
}

// Base returns the virtual address where arena offset 0 lives.
func (a *Arena) Base() uintptr { return a.base }

// Size returns the arena size in bytes.
func (a *Arena) Size() uintptr { return a.size }

// Bytes returns a view over the arena region [physAddr, physAddr+length).
func (a *Arena) Bytes(physAddr, length uintptr) []byte {
	if physAddr+length > a.size {
		panic("mmtest: arena region out of range")
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(a.base+physAddr)), length)
}
