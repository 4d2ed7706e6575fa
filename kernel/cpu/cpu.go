// Package cpu models the slice of the per-core execution environment that the
// memory subsystem depends on: the interrupt mask, the active root page-table
// register and the TLB. On real hardware these map to cli/sti, CR3 and invlpg;
// here they are backed by atomics so the subsystem and its tests observe the
// same ordering guarantees the hardware versions provide.
package cpu

import "sync/atomic"

// IrqState holds the interrupt mask state returned by MaskInterrupts so that
// RestoreInterrupts can re-establish it on every exit path.
type IrqState uint32

const (
	irqEnabled  IrqState = 1
	irqDisabled IrqState = 0
)

var (
	// irqState tracks whether interrupt handling is currently enabled on
	// this core. Cores come out of reset with interrupts enabled.
	irqState uint32 = uint32(irqEnabled)

	// pdtRegister holds the physical address of the active root page table.
	pdtRegister uintptr

	// tlbFlushCount counts FlushTLBEntry invocations. The mapper flushes
	// after every entry update; tests use the counter to verify that.
	tlbFlushCount uint64
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts() {
	atomic.StoreUint32(&irqState, uint32(irqEnabled))
}

// DisableInterrupts disables interrupt handling.
func DisableInterrupts() {
	atomic.StoreUint32(&irqState, uint32(irqDisabled))
}

// InterruptsEnabled returns true while interrupt handling is enabled.
func InterruptsEnabled() bool {
	return atomic.LoadUint32(&irqState) == uint32(irqEnabled)
}

// MaskInterrupts disables interrupt handling and returns the previous mask
// state. It is the entry half of the scoped guard used around every
// lock-holding critical section; the exit half is RestoreInterrupts.
func MaskInterrupts() IrqState {
	return IrqState(atomic.SwapUint32(&irqState, uint32(irqDisabled)))
}

// RestoreInterrupts re-establishes the mask state captured by a previous
// MaskInterrupts call.
func RestoreInterrupts(state IrqState) {
	atomic.StoreUint32(&irqState, uint32(state))
}

// SwitchPDT sets the root page table register to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr) {
	atomic.StoreUintptr(&pdtRegister, pdtPhysAddr)
	atomic.AddUint64(&tlbFlushCount, 1)
}

// ActivePDT returns the physical address of the currently active root page
// table.
func ActivePDT() uintptr {
	return atomic.LoadUintptr(&pdtRegister)
}

// FlushTLBEntry flushes the TLB entry for a particular virtual address.
func FlushTLBEntry(_ uintptr) {
	atomic.AddUint64(&tlbFlushCount, 1)
}

// TLBFlushCount returns the number of TLB flushes performed since boot.
func TLBFlushCount() uint64 {
	return atomic.LoadUint64(&tlbFlushCount)
}

// Halt stops instruction execution on the current core. There is no
// lower-privilege context to drop to; a halt unwinds as a runtime panic so a
// supervising harness can observe the diagnostic that preceded it.
func Halt() {
	panic("cpu: halted")
}
