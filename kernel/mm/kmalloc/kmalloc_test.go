package kmalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"osmium/kernel"
)

type recordingAllocator struct {
	allocCalls int
	freeCalls  int
	lastSize   uintptr
	lastAlign  uintptr
}

func (r *recordingAllocator) Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	r.allocCalls++
	r.lastSize, r.lastAlign = size, align
	return 0xf000, nil
}

func (r *recordingAllocator) Free(addr, size uintptr) {
	r.freeCalls++
	r.lastSize = size
}

func resetFront() { active = nil }

func TestRoutesThroughRegisteredAllocator(t *testing.T) {
	defer resetFront()

	rec := &recordingAllocator{}
	Set(rec)

	addr, err := Alloc(128, 8)
	require.Nil(t, err)
	require.Equal(t, uintptr(0xf000), addr)
	require.Equal(t, 1, rec.allocCalls)
	require.Equal(t, uintptr(128), rec.lastSize)
	require.Equal(t, uintptr(8), rec.lastAlign)

	Free(addr, 128)
	require.Equal(t, 1, rec.freeCalls)
}

func TestSetTwiceHalts(t *testing.T) {
	defer resetFront()

	Set(&recordingAllocator{})
	require.Panics(t, func() { Set(&recordingAllocator{}) })
}

func TestSetNilHalts(t *testing.T) {
	defer resetFront()

	require.Panics(t, func() { Set(nil) })
}

func TestUseBeforeSetHalts(t *testing.T) {
	defer resetFront()

	require.Panics(t, func() { Get() })
	require.Panics(t, func() { _, _ = Alloc(16, 0) })
	require.Panics(t, func() { Free(0x1000, 16) })
}
