// Package vmm implements the page table mapper. Each AddressSpace owns a
// multi-level table hierarchy built out of PMM-supplied frames; all table
// edits go through the direct-mapped window so inactive hierarchies can be
// constructed and torn down without temporary mappings.
package vmm

import (
	"osmium/kernel"
	"osmium/kernel/cpu"
)

var (
	// the following functions are overridden by tests.
	flushTLBEntryFn     = cpu.FlushTLBEntry
	activePDTFn         = cpu.ActivePDT
	switchPDTFn         = cpu.SwitchPDT
	interruptsEnabledFn = cpu.InterruptsEnabled

	// kernelSpace is the address space every core shares for kernel
	// mappings. It is created by Init and lives for the kernel's lifetime.
	kernelSpace *AddressSpace
)

// Init creates the kernel address space and installs it as the active
// hierarchy on the boot core. It must run after the physical memory manager
// has registered a frame allocator.
func Init() *kernel.Error {
	space, err := NewAddressSpace()
	if err != nil {
		return err
	}

	kernelSpace = space

	st := cpu.MaskInterrupts()
	space.SwitchTo(nil)
	cpu.RestoreInterrupts(st)

	return nil
}

// KernelSpace returns the shared kernel address space or nil before Init has
// run.
func KernelSpace() *AddressSpace {
	return kernelSpace
}
