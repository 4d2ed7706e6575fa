package vmm

import (
	"github.com/dolthub/swiss"

	"osmium/kernel"
	"osmium/kernel/kfmt"
	"osmium/kernel/mm"
	"osmium/kernel/sync"
)

var (
	// ErrInvalidMapping is returned when trying to operate on a virtual
	// address that is not mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrAlreadyMapped is returned when trying to map a virtual page that
	// is already mapped. A present entry must be explicitly unmapped first;
	// silent overwrites hide mapping leaks.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}

	errReserveNoSpace      = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}
	errMisalignedMapping   = &kernel.Error{Module: "vmm", Message: "page or frame address does not honor the mapping's alignment"}
	errInvalidHugeLevel    = &kernel.Error{Module: "vmm", Message: "huge mappings are only supported at the 1G and 2M levels"}
	errFrameOutOfRange     = &kernel.Error{Module: "vmm", Message: "frame address is outside addressable physical memory"}
	errSwitchIntEnabled    = &kernel.Error{Module: "vmm", Message: "root table switch attempted with interrupts enabled"}
	errSwitchMissingDep    = &kernel.Error{Module: "vmm", Message: "new root table is missing a mapping the current core depends on"}
)

// AddressSpace manages the multi-level translation tables rooted at a single
// top-level table frame. Table frames are owned by the space: intermediate
// tables allocated during mapping are recorded in a registry so Release can
// return them to the physical allocator without walking the whole hierarchy.
//
// All table access goes through the direct-mapped window, which works for
// inactive spaces too; no temporary mappings are needed to edit a hierarchy
// that is not currently installed.
type AddressSpace struct {
	mu sync.IrqRWMutex

	// root holds the frame of the top-most page table.
	root mm.Frame

	// tableFrames records every intermediate table frame allocated for
	// this space, root excluded.
	tableFrames *swiss.Map[mm.Frame, struct{}]

	// reserveNext tracks the next virtual region reservation. It starts
	// at reserveCeiling and grows downwards.
	reserveNext uintptr
}

// NewAddressSpace allocates and zeroes a root table frame and returns an
// empty address space built on it.
func NewAddressSpace() (*AddressSpace, *kernel.Error) {
	root, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}
	mm.ZeroFrame(root)

	return &AddressSpace{
		root:        root,
		tableFrames: swiss.NewMap[mm.Frame, struct{}](64),
		reserveNext: reserveCeiling,
	}, nil
}

// Root returns the frame hosting the top-most page table.
func (as *AddressSpace) Root() mm.Frame {
	return as.root
}

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing intermediate tables are allocated from the frame allocator,
// zeroed and linked on the way down. Mapping an already-present page returns
// ErrAlreadyMapped.
func (as *AddressSpace) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	checkFrameRange(frame)

	st := as.mu.Lock()
	defer as.mu.Unlock(st)

	return as.install(page, frame, pageLevels-1, flags)
}

// MapHuge installs a huge leaf entry at the supplied level (1 for 1G pages, 2
// for 2M pages). Both the page and the frame must be aligned to the huge page
// size; violations are programming errors and halt the kernel.
func (as *AddressSpace) MapHuge(page mm.Page, frame mm.Frame, level uint8, flags PageTableEntryFlag) *kernel.Error {
	if level == 0 || level >= pageLevels-1 {
		kfmt.Panic(errInvalidHugeLevel)
	}

	hugeSize := uintptr(1) << pageLevelShifts[level]
	if page.Address()&(hugeSize-1) != 0 || frame.Address()&(hugeSize-1) != 0 {
		kfmt.Panic(errMisalignedMapping)
	}
	checkFrameRange(frame)

	st := as.mu.Lock()
	defer as.mu.Unlock(st)

	return as.install(page, frame, level, flags|FlagHugePage)
}

// AutoMap allocates a backing frame, zeroes it and maps the supplied virtual
// page to it in one step. On any failure the frame is returned to the
// allocator. The backing frame is returned on success.
func (as *AddressSpace) AutoMap(page mm.Page, flags PageTableEntryFlag) (mm.Frame, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}
	mm.ZeroFrame(frame)

	st := as.mu.Lock()
	defer as.mu.Unlock(st)

	if err = as.install(page, frame, pageLevels-1, flags); err != nil {
		_ = mm.FreeFrame(frame)
		return mm.InvalidFrame, err
	}

	return frame, nil
}

// Unmap clears the leaf entry for the supplied virtual page. When freeBacking
// is set the frame the entry pointed to is returned to the frame allocator.
// Intermediate tables stay in place; they are reclaimed by Release.
func (as *AddressSpace) Unmap(page mm.Page, freeBacking bool) *kernel.Error {
	st := as.mu.Lock()
	defer as.mu.Unlock(st)

	var (
		err   *kernel.Error
		frame mm.Frame
		done  bool
	)

	walkTables(as.root, page.Address(), func(level uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if level == pageLevels-1 || pte.HasFlags(FlagHugePage) {
			frame = pte.Frame()
			*pte = 0
			flushTLBEntryFn(page.Address())
			done = true
			return false
		}

		return true
	})

	if err != nil {
		return err
	}
	if !done {
		return ErrInvalidMapping
	}

	if freeBacking {
		return mm.FreeFrame(frame)
	}

	return nil
}

// CopyByMap points dstPage's entry at the frame already backing srcPage
// without copying any bytes. It is the primitive used to relocate page-backed
// structures by remapping. The destination must not be mapped.
func (as *AddressSpace) CopyByMap(srcPage, dstPage mm.Page, flags PageTableEntryFlag) *kernel.Error {
	st := as.mu.Lock()
	defer as.mu.Unlock(st)

	frame, err := as.leafFrame(srcPage.Address())
	if err != nil {
		return err
	}

	return as.install(dstPage, frame, pageLevels-1, flags)
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address is not mapped.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	st := as.mu.RLock()
	defer as.mu.RUnlock(st)

	return translateInRoot(as.root, virtAddr)
}

// ReserveRegion reserves a page-aligned contiguous virtual memory region with
// the requested size inside this address space and returns its base address.
// If size is not a multiple of mm.PageSize it is rounded up. Regions are
// handed out top-down and are never returned.
func (as *AddressSpace) ReserveRegion(size uintptr) (uintptr, *kernel.Error) {
	size = (size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)

	st := as.mu.Lock()
	defer as.mu.Unlock(st)

	// reserving a region of the requested size would cause an underflow
	if size > as.reserveNext {
		return 0, errReserveNoSpace
	}

	as.reserveNext -= size
	return as.reserveNext, nil
}

// SwitchTo installs this space's root table as active on the current core.
// It must be called with interrupts masked, and only after the new hierarchy
// replicates every mapping the core depends on; the critical list names those
// pages and each one is verified to translate identically in the active and
// the new hierarchy. Violations are unrecoverable and halt the kernel.
func (as *AddressSpace) SwitchTo(critical []mm.Page) {
	if interruptsEnabledFn() {
		kfmt.Panic(errSwitchIntEnabled)
	}

	st := as.mu.RLock()

	if activeRoot := activePDTFn(); activeRoot != 0 {
		currentRoot := mm.FrameFromAddress(activeRoot)
		for _, page := range critical {
			want, err := translateInRoot(currentRoot, page.Address())
			if err != nil {
				continue
			}

			got, err := translateInRoot(as.root, page.Address())
			if err != nil || got != want {
				as.mu.RUnlock(st)
				kfmt.Panic(errSwitchMissingDep)
			}
		}
	}

	as.mu.RUnlock(st)
	switchPDTFn(as.root.Address())
}

// Release returns every table frame owned by this space (intermediate tables
// plus the root) to the frame allocator. Backing frames still referenced by
// leaf entries are not touched; callers are expected to unmap what they own
// first. Release is idempotent; no operation may follow it.
func (as *AddressSpace) Release() *kernel.Error {
	st := as.mu.Lock()
	defer as.mu.Unlock(st)

	if !as.root.Valid() {
		return nil
	}

	var err *kernel.Error
	as.tableFrames.Iter(func(frame mm.Frame, _ struct{}) bool {
		if freeErr := mm.FreeFrame(frame); freeErr != nil && err == nil {
			err = freeErr
		}
		return false
	})
	as.tableFrames = swiss.NewMap[mm.Frame, struct{}](1)

	if freeErr := mm.FreeFrame(as.root); freeErr != nil && err == nil {
		err = freeErr
	}
	as.root = mm.InvalidFrame

	return err
}

// TableFrameCount returns the number of table frames owned by the space,
// including the root.
func (as *AddressSpace) TableFrameCount() int {
	st := as.mu.RLock()
	defer as.mu.RUnlock(st)

	if !as.root.Valid() {
		return 0
	}

	return as.tableFrames.Count() + 1
}

// install writes a leaf entry for page at leafLevel, allocating intermediate
// tables on the way down. The caller must hold the write lock.
func (as *AddressSpace) install(page mm.Page, frame mm.Frame, leafLevel uint8, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	walkTables(as.root, page.Address(), func(level uint8, pte *pageTableEntry) bool {
		if level == leafLevel {
			if pte.HasFlags(FlagPresent) {
				err = ErrAlreadyMapped
				return false
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(page.Address())
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = ErrAlreadyMapped
			return false
		}

		// Next table does not exist yet; allocate a frame for it, zero
		// it and link it in.
		if !pte.HasFlags(FlagPresent) {
			var tableFrame mm.Frame
			if tableFrame, err = mm.AllocFrame(); err != nil {
				return false
			}
			mm.ZeroFrame(tableFrame)

			*pte = 0
			pte.SetFrame(tableFrame)
			pte.SetFlags(FlagPresent | FlagRW)
			as.tableFrames.Put(tableFrame, struct{}{})
		}

		return true
	})

	return err
}

// leafFrame returns the frame backing the present 4K leaf entry for virtAddr.
// The caller must hold a lock.
func (as *AddressSpace) leafFrame(virtAddr uintptr) (mm.Frame, *kernel.Error) {
	var (
		err   *kernel.Error
		frame = mm.InvalidFrame
	)

	walkTables(as.root, virtAddr, func(level uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if level == pageLevels-1 || pte.HasFlags(FlagHugePage) {
			frame = pte.Frame()
		}

		return true
	})

	if err == nil && !frame.Valid() {
		err = ErrInvalidMapping
	}

	return frame, err
}

// translateInRoot resolves virtAddr against the hierarchy rooted at root.
// Huge leaf entries contribute the offset bits below their level.
func translateInRoot(root mm.Frame, virtAddr uintptr) (uintptr, *kernel.Error) {
	var (
		err      *kernel.Error
		physAddr uintptr
		resolved bool
	)

	walkTables(root, virtAddr, func(level uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if level == pageLevels-1 || pte.HasFlags(FlagHugePage) {
			offsetMask := (uintptr(1) << pageLevelShifts[level]) - 1
			physAddr = pte.Frame().Address() + (virtAddr & offsetMask)
			resolved = true
		}

		return true
	})

	if err != nil {
		return 0, err
	}
	if !resolved {
		return 0, ErrInvalidMapping
	}

	return physAddr, nil
}

// checkFrameRange halts the kernel when a frame points outside addressable
// physical memory. Mapping such a frame would corrupt whatever the stale
// table bits happen to address later on.
func checkFrameRange(frame mm.Frame) {
	if !frame.Valid() || frame.Address()+mm.PageSize > mm.PhysLimit() {
		kfmt.Panic(errFrameOutOfRange)
	}
}
