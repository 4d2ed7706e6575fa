// Package heap implements the kernel's block-granular heap allocator. Mapped
// heap pages are divided into 64-byte blocks and tracked by a growable table
// of per-page bitmasks. The table is self-hosting: it lives in pages inside
// the very address range it tracks, and growing it relocates those pages by
// remapping instead of copying bytes.
package heap

import (
	"io"

	"osmium/kernel"
	"osmium/kernel/kfmt"
	"osmium/kernel/mem"
	"osmium/kernel/mm"
	"osmium/kernel/mm/vmm"
	"osmium/kernel/sync"
)

const (
	// BlockSize is the allocation granule in bytes.
	BlockSize = 64

	// blocksPerPage is the number of blocks tracked by one table entry.
	blocksPerPage = mm.PageSize / BlockSize

	// entriesPerTablePage is the number of table entries stored in one
	// page of table backing storage.
	entriesPerTablePage = mm.PageSize >> mm.PointerShift

	// heapSpanCeiling bounds the virtual span the heap may cover, just
	// under 128 TiB. Growth past it indicates a runaway consumer and is
	// fatal rather than silently unbounded.
	heapSpanCeiling = uintptr(0x746A52880000)
)

var (
	// ErrInvalidAlignment is returned for alignments that are not a power
	// of two or exceed one page.
	ErrInvalidAlignment = &kernel.Error{Module: "heap", Message: "alignment must be a power of two no larger than a page"}

	errDoubleFree            = &kernel.Error{Module: "heap", Message: "block range is not fully allocated; double or invalid free"}
	errBadFreeAddress        = &kernel.Error{Module: "heap", Message: "free address is outside the heap or not block-aligned"}
	errBaseNotAligned        = &kernel.Error{Module: "heap", Message: "heap base address is not page-aligned"}
	errAddressSpaceExhausted = &kernel.Error{Module: "heap", Message: "heap span ceiling exceeded"}
)

// Pager provides the page mapping operations the allocator builds on. It is
// implemented by vmm.AddressSpace.
type Pager interface {
	AutoMap(page mm.Page, flags vmm.PageTableEntryFlag) (mm.Frame, *kernel.Error)
	Unmap(page mm.Page, freeBacking bool) *kernel.Error
	CopyByMap(srcPage, dstPage mm.Page, flags vmm.PageTableEntryFlag) *kernel.Error
	Translate(virtAddr uintptr) (uintptr, *kernel.Error)
}

// Allocator carves mapped pages into BlockSize blocks. Each table entry is a
// 64-bit mask covering one heap page; a set bit marks a block as used. Pages
// are backed lazily when their first block is claimed and released as soon as
// their last block is freed.
type Allocator struct {
	mu    sync.IrqRWMutex
	pager Pager
	log   io.Writer

	// base is the virtual address of heap page 0. Table entry i tracks
	// the page at base + i*PageSize.
	base uintptr

	// tableViews holds direct-mapped views over the table's backing
	// pages; refreshed whenever the table relocates.
	tableViews [][]uint64

	// tableFirstPage is the heap page index hosting the table and
	// tablePages the number of pages it occupies. tableLen is the number
	// of entries, i.e. the number of heap pages currently tracked.
	tableFirstPage uintptr
	tablePages     uintptr
	tableLen       uintptr

	usedBlocks  uintptr
	mappedPages uintptr
	growCount   uintptr
}

// New returns an allocator managing the virtual range starting at base inside
// the supplied pager's address space. The base must be page-aligned. The
// tracking table is created lazily by the first allocation.
func New(pager Pager, base uintptr) *Allocator {
	if !mem.IsAligned(base, mm.PageSize) {
		kfmt.Panic(errBaseNotAligned)
	}

	return &Allocator{
		pager: pager,
		log:   &kfmt.PrefixWriter{Sink: kfmt.Output(), Prefix: []byte("[heap] ")},
		base:  base,
	}
}

// NewInSpace reserves a virtual region able to cover the heap's maximum span
// inside the supplied address space and returns an allocator managing it.
func NewInSpace(space *vmm.AddressSpace) (*Allocator, *kernel.Error) {
	base, err := space.ReserveRegion(heapSpanCeiling)
	if err != nil {
		return nil, err
	}

	return New(space, base), nil
}

// Alloc reserves a contiguous run of blocks covering size bytes whose start
// address honors align and returns its virtual address. Runs may span pages;
// pages are backed on first use. When no run fits, the tracking table grows
// and the scan repeats; exceeding the heap span ceiling is fatal. Zero-size
// requests claim a single block so every allocation has a distinct address.
func (a *Allocator) Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	if align&(align-1) != 0 || align > mm.PageSize {
		return 0, ErrInvalidAlignment
	}

	blockCount := blocksFor(size)
	alignMask := alignMaskFor(align)

	st := a.mu.Lock()
	defer a.mu.Unlock(st)

	for {
		if start, ok := a.findRun(blockCount, alignMask); ok {
			if err := a.claim(start, blockCount); err != nil {
				return 0, err
			}

			return a.base + start*BlockSize, nil
		}

		a.grow(blockCount)
	}
}

// Free releases the blocks backing a previous allocation. The size must match
// the one passed to Alloc so the identical block range is recomputed. Any
// block in the range found already free indicates a double or invalid free
// and halts the kernel, as does an address outside the heap.
func (a *Allocator) Free(addr, size uintptr) {
	st := a.mu.Lock()
	defer a.mu.Unlock(st)

	if addr < a.base || (addr-a.base)%BlockSize != 0 {
		kfmt.Panic(errBadFreeAddress)
	}

	start := (addr - a.base) / BlockSize
	count := blocksFor(size)
	if start+count > a.tableLen*blocksPerPage {
		kfmt.Panic(errBadFreeAddress)
	}

	a.release(start, count)
}

// Base returns the virtual address of the first heap page.
func (a *Allocator) Base() uintptr {
	return a.base
}

// blocksFor returns the number of blocks claimed for a request of the given
// size. Zero-size requests still claim one block.
func blocksFor(size uintptr) uintptr {
	if size == 0 {
		return 1
	}

	return mem.AlignUpDiv(size, uintptr(BlockSize))
}

// alignMaskFor converts a byte alignment to the block-index mask a run start
// must satisfy: start & mask == 0.
func alignMaskFor(align uintptr) uintptr {
	blocks := align / BlockSize
	if blocks == 0 {
		blocks = 1
	}

	return blocks - 1
}
