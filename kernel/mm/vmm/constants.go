package vmm

const (
	// pageLevels indicates the number of page table levels between the
	// root table and a 4K leaf entry.
	pageLevels = 4

	// pageTableEntries is the number of entries in each page table.
	pageTableEntries = 512

	// ptePhysPageMask is a mask that allows us to extract the physical
	// memory address pointed to by a page table entry. Bits 12-51 contain
	// the physical memory address.
	ptePhysPageMask = uint64(0x000ffffffffff000)

	// reserveCeiling is the top of the virtual region handed out by
	// ReserveRegion. Reservations grow downwards from this address.
	reserveCeiling = uintptr(0xffffff7ffffff000)
)

var (
	// pageLevelShifts defines the shift required to extract each page
	// table index from a virtual address. Each level consumes 9 bits.
	pageLevelShifts = [pageLevels]uint8{
		39,
		30,
		21,
		12,
	}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint64

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set on leaf entries installed above the 4K level.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when swapping page tables.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute = PageTableEntryFlag(1) << 63
)
