package mm

import (
	"testing"
	"unsafe"
)

func TestDirectMapOverlays(t *testing.T) {
	physMem := make([]byte, 4*PageSize)
	base := uintptr(unsafe.Pointer(&physMem[0]))

	defer SetDirectMap(0, 0)
	SetDirectMap(base, uintptr(len(physMem)))

	if got := PhysToVirt(PageSize); got != base+PageSize {
		t.Fatalf("expected PhysToVirt(PageSize) to return 0x%x; got 0x%x", base+PageSize, got)
	}

	bytes := PhysBytes(PageSize, PageSize)
	bytes[0] = 0xaa
	if physMem[PageSize] != 0xaa {
		t.Fatal("expected PhysBytes writes to be visible through the backing memory")
	}

	words := PhysWords(PageSize, 512)
	words[0] = 0xdeadbeef
	if physMem[PageSize] != 0xef {
		t.Fatal("expected PhysWords writes to be visible through the backing memory")
	}

	ZeroFrame(Frame(1))
	for i := uintptr(0); i < PageSize; i++ {
		if physMem[PageSize+i] != 0 {
			t.Fatalf("expected ZeroFrame to clear the whole frame; byte %d is 0x%x", i, physMem[PageSize+i])
		}
	}
}

func TestDirectMapRangeValidation(t *testing.T) {
	physMem := make([]byte, PageSize)
	defer SetDirectMap(0, 0)
	SetDirectMap(uintptr(unsafe.Pointer(&physMem[0])), uintptr(len(physMem)))

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected an out-of-range physical address to halt the kernel")
		}
	}()

	PhysBytes(0, 2*PageSize)
}
