// Package bootinfo holds the boot-loader supplied parameters the memory
// subsystem is bootstrapped from: the physical memory map and the base of the
// direct mapping of physical memory into the kernel's address space. The
// parameters are registered once during early bring-up and are read-only from
// that point on.
package bootinfo

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"osmium/kernel/mem"
)

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemBootReclaimable indicates a region holding boot-loader data that
	// can be reclaimed once the kernel has consumed it.
	MemBootReclaimable

	// MemAcpiReclaimable indicates a memory region that holds ACPI info
	// that can be reused by the OS.
	MemAcpiReclaimable

	// MemUnusable indicates a faulty or otherwise unusable region.
	MemUnusable
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemBootReclaimable:
		return "boot (reclaimable)"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemUnusable:
		return "unusable"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical
// address, its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// EndAddress returns the first physical address past this region.
func (e *MemoryMapEntry) EndAddress() uint64 {
	return e.PhysAddress + e.Length
}

// BootInfo carries the boot parameters consumed by the memory subsystem.
type BootInfo struct {
	// DirectMapBase is the virtual address where physical address 0 is
	// mapped. The whole of physical memory is visible at a fixed offset
	// starting at this address.
	DirectMapBase uintptr

	// MemoryMap lists the physical memory regions reported by the boot
	// loader, ordered by ascending physical address.
	MemoryMap []MemoryMapEntry
}

var info *BootInfo

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// Set validates and registers the boot parameters. It must be invoked before
// any other function exported by this package. Entries are sorted by physical
// address; unknown entry types are demoted to reserved.
func Set(bi *BootInfo) error {
	if bi == nil {
		return errors.New("bootinfo: nil boot parameters")
	}

	if len(bi.MemoryMap) == 0 {
		return errors.New("bootinfo: boot loader supplied an empty memory map")
	}

	if !mem.IsAligned(bi.DirectMapBase, uintptr(mem.PageSize)) {
		return errors.Newf("bootinfo: direct map base 0x%x is not page-aligned", bi.DirectMapBase)
	}

	slices.SortFunc(bi.MemoryMap, func(a, b MemoryMapEntry) bool {
		return a.PhysAddress < b.PhysAddress
	})

	var available bool
	for i := range bi.MemoryMap {
		entry := &bi.MemoryMap[i]
		if entry.Type == 0 || entry.Type > MemUnusable {
			entry.Type = MemReserved
		}

		if entry.Length == 0 {
			return errors.Newf("bootinfo: zero-length region at 0x%x", entry.PhysAddress)
		}

		if i > 0 && entry.PhysAddress < bi.MemoryMap[i-1].EndAddress() {
			return errors.Newf("bootinfo: region at 0x%x overlaps previous region", entry.PhysAddress)
		}

		if entry.Type == MemAvailable {
			available = true
		}
	}

	if !available {
		return errors.New("bootinfo: memory map contains no available regions")
	}

	info = bi
	return nil
}

// Get returns the registered boot parameters or nil if Set has not been
// invoked yet.
func Get() *BootInfo {
	return info
}

// VisitMemRegions invokes the supplied visitor for each memory region in the
// registered memory map.
func VisitMemRegions(visitor MemRegionVisitor) {
	if info == nil {
		return
	}

	for i := range info.MemoryMap {
		if !visitor(&info.MemoryMap[i]) {
			return
		}
	}
}

// TotalMemory returns the amount of addressable physical memory, i.e. the end
// address of the highest memory region.
func TotalMemory() uint64 {
	if info == nil || len(info.MemoryMap) == 0 {
		return 0
	}

	return info.MemoryMap[len(info.MemoryMap)-1].EndAddress()
}
