package mm

import (
	"unsafe"

	"osmium/kernel"
	"osmium/kernel/kfmt"
)

var (
	// directMapBase is the virtual address where physical address 0 is
	// mapped. The boot loader maps the whole of physical memory at a
	// fixed offset starting at this address; the memory subsystem relies
	// on this window to reach physical memory (ledger storage, page
	// tables) before and after its own mappings exist.
	directMapBase uintptr

	// physLimit is the first physical address past the end of addressable
	// memory. Physical addresses are validated against it at the API
	// boundary so arithmetic deeper in the subsystem can trust its
	// inputs.
	physLimit uintptr
)

// SetDirectMap registers the direct-mapping window: the virtual base where
// physical address 0 is visible and the amount of addressable physical
// memory. It is invoked once by the PMM during Init.
func SetDirectMap(base, limit uintptr) {
	directMapBase = base
	physLimit = limit
}

// DirectMapBase returns the virtual address where physical address 0 is
// mapped.
func DirectMapBase() uintptr {
	return directMapBase
}

// PhysLimit returns the first physical address past the end of addressable
// memory.
func PhysLimit() uintptr {
	return physLimit
}

// PhysToVirt translates a physical address to its direct-mapped virtual
// address. Addresses outside addressable physical memory indicate a
// programming error and halt the kernel.
func PhysToVirt(physAddr uintptr) uintptr {
	checkPhysRange(physAddr, 1)
	return directMapBase + physAddr
}

// PhysBytes overlays a byte slice on top of the direct-mapped view of the
// physical region [physAddr, physAddr+length).
func PhysBytes(physAddr, length uintptr) []byte {
	checkPhysRange(physAddr, length)
	return unsafe.Slice((*byte)(unsafe.Pointer(directMapBase+physAddr)), length)
}

// PhysWords overlays a uint64 slice on top of the direct-mapped view of the
// physical region starting at physAddr. The address must be word-aligned.
func PhysWords(physAddr uintptr, count int) []uint64 {
	checkPhysRange(physAddr, uintptr(count)<<PointerShift)
	if physAddr&((1<<PointerShift)-1) != 0 {
		kfmt.Panic(&kernel.Error{Module: "mm", Message: "misaligned physical address for word access"})
	}

	return unsafe.Slice((*uint64)(unsafe.Pointer(directMapBase+physAddr)), count)
}

// ZeroFrame clears the contents of a physical frame through the direct map.
func ZeroFrame(frame Frame) {
	kernel.Memset(PhysToVirt(frame.Address()), 0, PageSize)
}

func checkPhysRange(physAddr, length uintptr) {
	if physAddr+length > physLimit || physAddr+length < physAddr {
		kfmt.Panic(&kernel.Error{Module: "mm", Message: "physical address out of addressable range"})
	}
}
