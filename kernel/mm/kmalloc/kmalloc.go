// Package kmalloc is the global allocator front: a process-wide, write-once
// handle through which every kernel dynamic-memory request is routed. The
// handle is configured exactly once during bring-up, before any allocation
// happens; using it earlier or configuring it twice is a fatal configuration
// error.
package kmalloc

import (
	"osmium/kernel"
	"osmium/kernel/kfmt"
	"osmium/kernel/sync"
)

// Allocator is the interface the front routes requests through. It is
// implemented by heap.Allocator.
type Allocator interface {
	Alloc(size, align uintptr) (uintptr, *kernel.Error)
	Free(addr, size uintptr)
}

var (
	mu     sync.Spinlock
	active Allocator

	errAlreadySet  = &kernel.Error{Module: "kmalloc", Message: "allocator front has already been configured"}
	errNilProvider = &kernel.Error{Module: "kmalloc", Message: "nil allocator supplied"}
	errNotSet      = &kernel.Error{Module: "kmalloc", Message: "no allocator has been configured"}
)

// Set registers the kernel allocator. It must be invoked exactly once during
// bring-up; a second call or a nil allocator halts the kernel.
func Set(allocator Allocator) {
	if allocator == nil {
		kfmt.Panic(errNilProvider)
	}

	mu.Acquire()
	defer mu.Release()

	if active != nil {
		kfmt.Panic(errAlreadySet)
	}

	active = allocator
}

// Get returns the registered allocator. Calling Get before Set halts the
// kernel.
func Get() Allocator {
	if active == nil {
		kfmt.Panic(errNotSet)
	}

	return active
}

// Alloc routes an allocation request through the registered allocator.
func Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	return Get().Alloc(size, align)
}

// Free routes a release request through the registered allocator.
func Free(addr, size uintptr) {
	Get().Free(addr, size)
}
