package vmm

import (
	"unsafe"

	"osmium/kernel/mm"
)

// pageTableEntry describes a page table entry. Entries encode a physical
// frame address and a set of flags.
type pageTableEntry uint64

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint64(*pte) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint64(*pte) &^ uint64(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uint64(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point to the given physical frame.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uint64(*pte) &^ ptePhysPageMask) | uint64(frame.Address()))
}

// pageTableWalker is a function that can be passed to walkTables. It receives
// the current page level and page table entry as its arguments. If the
// function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walkTables performs a page table walk for the given virtual address
// starting at the supplied root table frame. Tables are accessed through the
// direct-mapped window. The walk descends while walkFn returns true and the
// current entry references a present, non-huge next-level table; huge entries
// and the final level terminate the walk.
func walkTables(root mm.Frame, virtAddr uintptr, walkFn pageTableWalker) {
	tableFrame := root

	for level := uint8(0); level < pageLevels; level++ {
		table := mm.PhysWords(tableFrame.Address(), pageTableEntries)
		entryIndex := (virtAddr >> pageLevelShifts[level]) & (pageTableEntries - 1)
		pte := (*pageTableEntry)(unsafe.Pointer(&table[entryIndex]))

		if !walkFn(level, pte) {
			return
		}

		if level == pageLevels-1 || !pte.HasFlags(FlagPresent) || pte.HasFlags(FlagHugePage) {
			return
		}

		tableFrame = pte.Frame()
	}
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (mm.PageSize - 1)
}
