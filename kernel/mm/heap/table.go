package heap

import (
	"osmium/kernel"
	"osmium/kernel/kfmt"
	"osmium/kernel/mem"
	"osmium/kernel/mm"
	"osmium/kernel/mm/vmm"
)

// pageAt returns the virtual page for the given heap page index.
func (a *Allocator) pageAt(pageIdx uintptr) mm.Page {
	return mm.PageFromAddress(a.base + (pageIdx << mm.PageShift))
}

// entry returns the table entry tracking the given heap page.
func (a *Allocator) entry(pageIdx uintptr) *uint64 {
	return &a.tableViews[pageIdx/entriesPerTablePage][pageIdx%entriesPerTablePage]
}

// blockUsed reports whether the block at the given global index is claimed.
func (a *Allocator) blockUsed(blockIdx uintptr) bool {
	return *a.entry(blockIdx/blocksPerPage)&(1<<(blockIdx%blocksPerPage)) != 0
}

// findRun scans the table for a run of blockCount free blocks whose start
// satisfies alignMask. The entry for heap page 0 stays fully used for the
// table's whole lifetime, so a returned run can never fall inside the first
// page. Fully-used pages are skipped wholesale.
func (a *Allocator) findRun(blockCount, alignMask uintptr) (uintptr, bool) {
	var runStart, runLen uintptr

	totalBlocks := a.tableLen * blocksPerPage
	for blockIdx := uintptr(1); blockIdx < totalBlocks; blockIdx++ {
		if runLen == 0 && blockIdx%blocksPerPage == 0 {
			for blockIdx < totalBlocks && *a.entry(blockIdx/blocksPerPage) == ^uint64(0) {
				blockIdx += blocksPerPage
			}
			if blockIdx >= totalBlocks {
				break
			}
		}

		if runLen == 0 && blockIdx&alignMask != 0 {
			continue
		}

		if a.blockUsed(blockIdx) {
			runLen = 0
			continue
		}

		if runLen == 0 {
			runStart = blockIdx
		}
		runLen++

		if runLen == blockCount {
			return runStart, true
		}
	}

	return 0, false
}

// blockRangeMask computes the bits of the entry for pageIdx covered by the
// block range [start, start+count).
func blockRangeMask(pageIdx, start, count uintptr) uint64 {
	lo := start
	if pageBase := pageIdx * blocksPerPage; lo < pageBase {
		lo = pageBase
	}

	hi := start + count
	if pageEnd := (pageIdx + 1) * blocksPerPage; hi > pageEnd {
		hi = pageEnd
	}

	bits := hi - lo
	if bits == blocksPerPage {
		return ^uint64(0)
	}

	return ((uint64(1) << bits) - 1) << (lo % blocksPerPage)
}

// claim marks the block range used, backing any page that transitions from
// empty to nonempty. A backing failure rolls the whole claim back so a
// partial allocation is never observable.
func (a *Allocator) claim(start, count uintptr) *kernel.Error {
	firstPage := start / blocksPerPage
	lastPage := (start + count - 1) / blocksPerPage

	for pageIdx := firstPage; pageIdx <= lastPage; pageIdx++ {
		mask := blockRangeMask(pageIdx, start, count)
		e := a.entry(pageIdx)
		wasEmpty := *e == 0
		*e |= mask

		if wasEmpty {
			if _, err := a.pager.AutoMap(a.pageAt(pageIdx), vmm.FlagPresent|vmm.FlagRW); err != nil {
				*e &^= mask
				a.unwindClaim(start, count, firstPage, pageIdx)
				return err
			}
			a.mappedPages++
		}
	}

	a.usedBlocks += count
	return nil
}

// unwindClaim reverts the pages touched before failedPage, unmapping any that
// become empty again.
func (a *Allocator) unwindClaim(start, count, firstPage, failedPage uintptr) {
	for pageIdx := firstPage; pageIdx < failedPage; pageIdx++ {
		mask := blockRangeMask(pageIdx, start, count)
		e := a.entry(pageIdx)
		*e &^= mask

		if *e == 0 {
			_ = a.pager.Unmap(a.pageAt(pageIdx), true)
			a.mappedPages--
		}
	}
}

// release clears the block range. Every bit must currently be set; anything
// else is a double or invalid free and halts the kernel. A page whose last
// block is freed is unmapped and its backing frame returned immediately.
func (a *Allocator) release(start, count uintptr) {
	firstPage := start / blocksPerPage
	lastPage := (start + count - 1) / blocksPerPage

	for pageIdx := firstPage; pageIdx <= lastPage; pageIdx++ {
		mask := blockRangeMask(pageIdx, start, count)
		e := a.entry(pageIdx)

		if *e&mask != mask {
			kfmt.Panic(errDoubleFree)
		}

		*e ^= mask

		if *e == 0 {
			if err := a.pager.Unmap(a.pageAt(pageIdx), true); err != nil {
				kfmt.Panic(err)
			}
			a.mappedPages--
		}
	}

	a.usedBlocks -= count
}

// grow enlarges the tracking table so it can satisfy requiredBlocks more
// blocks. The new table length is the next power of two covering the current
// length plus the request. The table relocates into the first run of vacant
// entries able to host it, or appends past the current end. Existing table
// pages move by remapping; their bytes never move. Old entries become vacant,
// the new table's own entries fully used. The caller must hold the write
// lock; failures here leave the kernel without a functioning heap and halt.
func (a *Allocator) grow(requiredBlocks uintptr) {
	requiredPages := mem.AlignUpDiv(requiredBlocks, blocksPerPage)
	newLen := mem.NextPowerOfTwo(a.tableLen + requiredPages)
	if newLen < entriesPerTablePage {
		newLen = entriesPerTablePage
	}
	if newLen<<mm.PageShift > heapSpanCeiling {
		kfmt.Panic(errAddressSpaceExhausted)
	}

	newTablePages := mem.AlignUpDiv(newLen, entriesPerTablePage)

	slot, ok := a.findVacantEntryRun(newTablePages)
	if !ok {
		slot = a.tableLen
	}

	// Phase one: build the relocated table without touching the live one.
	for i := uintptr(0); i < newTablePages; i++ {
		dst := a.pageAt(slot + i)

		if i < a.tablePages {
			if err := a.pager.CopyByMap(a.pageAt(a.tableFirstPage+i), dst, vmm.FlagPresent|vmm.FlagRW); err != nil {
				kfmt.Panic(err)
			}
		} else {
			if _, err := a.pager.AutoMap(dst, vmm.FlagPresent|vmm.FlagRW); err != nil {
				kfmt.Panic(err)
			}
		}
	}

	// The old virtual pages alias frames now owned by the new location;
	// unmap them without freeing the backing.
	for i := uintptr(0); i < a.tablePages; i++ {
		if err := a.pager.Unmap(a.pageAt(a.tableFirstPage+i), false); err != nil {
			kfmt.Panic(err)
		}
	}

	// Phase two: swap in the new layout and fix up the entries for the
	// vacated and the newly occupied table pages.
	oldFirst, oldPages := a.tableFirstPage, a.tablePages
	a.tableFirstPage, a.tablePages, a.tableLen = slot, newTablePages, newLen
	a.refreshTableViews()

	for i := uintptr(0); i < oldPages; i++ {
		*a.entry(oldFirst+i) = 0
	}
	for i := uintptr(0); i < newTablePages; i++ {
		*a.entry(slot+i) = ^uint64(0)
	}

	// Heap page 0 is the null guard. The vacate loop above clears its entry
	// once the table moves off it, so re-mark it fully used after every
	// relocation.
	*a.entry(0) = ^uint64(0)

	a.mappedPages += newTablePages - oldPages
	a.growCount++

	kfmt.Fprintf(a.log, "table grown to %d entries (%d page(s)) at heap page %d\n",
		uint64(newLen), uint64(newTablePages), uint64(slot))
}

// findVacantEntryRun looks for a run of pages consecutive vacant entries in
// the current table.
func (a *Allocator) findVacantEntryRun(pages uintptr) (uintptr, bool) {
	var runStart, runLen uintptr

	for idx := uintptr(0); idx < a.tableLen; idx++ {
		if *a.entry(idx) != 0 {
			runLen = 0
			continue
		}

		if runLen == 0 {
			runStart = idx
		}
		runLen++

		if runLen == pages {
			return runStart, true
		}
	}

	return 0, false
}

// refreshTableViews rebuilds the direct-mapped views over the table's
// backing pages after a relocation.
func (a *Allocator) refreshTableViews() {
	views := make([][]uint64, a.tablePages)
	for i := uintptr(0); i < a.tablePages; i++ {
		physAddr, err := a.pager.Translate(a.pageAt(a.tableFirstPage + i).Address())
		if err != nil {
			kfmt.Panic(err)
		}

		views[i] = mm.PhysWords(physAddr, int(entriesPerTablePage))
	}

	a.tableViews = views
}
