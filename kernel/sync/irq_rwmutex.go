package sync

import (
	gosync "sync"

	"osmium/kernel/cpu"
)

// IrqRWMutex is a reader/writer mutex whose critical sections run with
// interrupts masked on the current core. None of the locks used by the memory
// subsystem are interrupt-safe, so a same-core interrupt handler re-entering a
// held lock would deadlock; masking for the duration of the critical section
// closes that window.
//
// The mask state is captured on acquisition and must be handed back to the
// matching unlock call so nesting behaves correctly:
//
//	st := mu.Lock()
//	defer mu.Unlock(st)
//
// Interrupts are masked before the lock is contended for; masking after
// acquisition would leave a window for a same-core interrupt to arrive while
// the lock is already held.
type IrqRWMutex struct {
	mu gosync.RWMutex
}

// Lock acquires the mutex for writing and returns the interrupt mask state to
// pass to Unlock.
func (m *IrqRWMutex) Lock() cpu.IrqState {
	state := cpu.MaskInterrupts()
	m.mu.Lock()
	return state
}

// Unlock releases a write lock and restores the supplied interrupt mask state.
func (m *IrqRWMutex) Unlock(state cpu.IrqState) {
	m.mu.Unlock()
	cpu.RestoreInterrupts(state)
}

// RLock acquires the mutex for reading and returns the interrupt mask state
// to pass to RUnlock.
func (m *IrqRWMutex) RLock() cpu.IrqState {
	state := cpu.MaskInterrupts()
	m.mu.RLock()
	return state
}

// RUnlock releases a read lock and restores the supplied interrupt mask state.
func (m *IrqRWMutex) RUnlock(state cpu.IrqState) {
	m.mu.RUnlock()
	cpu.RestoreInterrupts(state)
}
