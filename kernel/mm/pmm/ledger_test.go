package pmm

import (
	"testing"

	"osmium/kernel/hal/bootinfo"
	"osmium/kernel/mm"
	"osmium/kernel/mm/mmtest"
)

func TestLedgerInitLayout(t *testing.T) {
	memoryMap := []bootinfo.MemoryMapEntry{
		{PhysAddress: 0, Length: 16 * uint64(mm.PageSize), Type: bootinfo.MemAvailable},
		{PhysAddress: 16 * uint64(mm.PageSize), Length: 4 * uint64(mm.PageSize), Type: bootinfo.MemReserved},
		{PhysAddress: 20 * uint64(mm.PageSize), Length: 44 * uint64(mm.PageSize), Type: bootinfo.MemAvailable},
	}
	mmtest.NewArena(t, 64*mm.PageSize, memoryMap)

	var ledger FrameLedger
	if err := ledger.init(); err != nil {
		t.Fatal(err)
	}

	if got := ledger.FrameCount(); got != 64 {
		t.Fatalf("expected ledger to track 64 frames; got %d", got)
	}

	// The ledger fits in a single page and is hosted at the start of the
	// first usable region; that frame doubles as the null guard.
	if ledger.tableFrame != mm.Frame(0) || ledger.tablePages != 1 {
		t.Fatalf("expected ledger storage to occupy frame 0; got frame %d (%d pages)",
			ledger.tableFrame, ledger.tablePages)
	}

	for frame := uintptr(16); frame < 20; frame++ {
		if !ledger.bitSet(frame) {
			t.Errorf("expected reserved-region frame %d to be marked used", frame)
		}
	}

	stats := ledger.readStats()
	if exp := uintptr(5); stats.ReservedFrames != exp {
		t.Fatalf("expected %d reserved frames (guard/ledger plus reserved region); got %d", exp, stats.ReservedFrames)
	}
	if exp := uintptr(59); stats.FreeFrames() != exp {
		t.Fatalf("expected %d free frames; got %d", exp, stats.FreeFrames())
	}
}

func TestLedgerInitWithoutHostRegion(t *testing.T) {
	// A single usable page cannot host a ledger page and leave room to
	// align it inside the region when the region is not page-sized.
	memoryMap := []bootinfo.MemoryMapEntry{
		{PhysAddress: 0, Length: 8 * uint64(mm.PageSize), Type: bootinfo.MemReserved},
		{PhysAddress: 8 * uint64(mm.PageSize), Length: 512, Type: bootinfo.MemAvailable},
	}
	mmtest.NewArena(t, 9*mm.PageSize, memoryMap)

	var ledger FrameLedger
	if err := ledger.init(); err != errNoRegionForLedger {
		t.Fatalf("expected init to fail with errNoRegionForLedger; got %v", err)
	}
}

func TestNextFrameScansLowestFirst(t *testing.T) {
	mmtest.NewArena(t, 16*mm.PageSize, nil)

	var ledger FrameLedger
	if err := ledger.init(); err != nil {
		t.Fatal(err)
	}

	// Frames 0 (guard plus ledger storage) and 5 start out used.
	if err := ledger.LockFrame(mm.Frame(5)); err != nil {
		t.Fatal(err)
	}

	frame, err := ledger.NextFrame()
	if err != nil {
		t.Fatal(err)
	}
	if frame != mm.Frame(1) {
		t.Fatalf("expected the first free frame to be 1; got %d", frame)
	}

	for index := uintptr(2); index <= 4; index++ {
		if err = ledger.LockFrame(mm.Frame(index)); err != nil {
			t.Fatal(err)
		}
	}

	// Frames 1-5 are now used; a run of 3 must skip past frame 5.
	frame, err = ledger.NextFrames(3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if frame != mm.Frame(6) {
		t.Fatalf("expected the run to start at frame 6; got %d", frame)
	}

	for index := uintptr(6); index <= 8; index++ {
		if !ledger.bitSet(index) {
			t.Errorf("expected frame %d of the run to be marked used", index)
		}
	}
}

func TestNextFramesAlignment(t *testing.T) {
	mmtest.NewArena(t, 32*mm.PageSize, nil)

	var ledger FrameLedger
	if err := ledger.init(); err != nil {
		t.Fatal(err)
	}

	// Frame 0 is used so the aligned scan must skip the run at 0.
	frame, err := ledger.NextFrames(2, 4*mm.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if frame != mm.Frame(4) {
		t.Fatalf("expected an aligned run to start at frame 4; got %d", frame)
	}
	if frame.Address()%(4*mm.PageSize) != 0 {
		t.Fatalf("expected run address 0x%x to honor the requested alignment", frame.Address())
	}

	if _, err = ledger.NextFrames(1, 3*mm.PageSize); err != ErrInvalidAlignment {
		t.Fatalf("expected a non power-of-two alignment to fail with ErrInvalidAlignment; got %v", err)
	}

	if _, err = ledger.NextFrames(0, 0); err != errZeroFrameRequest {
		t.Fatalf("expected a zero-length request to fail; got %v", err)
	}

	if _, err = ledger.NextFrames(64, 0); err != ErrNoneFree {
		t.Fatalf("expected an oversized run to fail with ErrNoneFree; got %v", err)
	}
}

func TestLockAndFreeFrame(t *testing.T) {
	mmtest.NewArena(t, 16*mm.PageSize, nil)

	var ledger FrameLedger
	if err := ledger.init(); err != nil {
		t.Fatal(err)
	}

	before := ledger.readStats().ReservedFrames

	// Locking twice must count the frame once.
	if err := ledger.LockFrame(mm.Frame(7)); err != nil {
		t.Fatal(err)
	}
	if err := ledger.LockFrame(mm.Frame(7)); err != nil {
		t.Fatal(err)
	}
	if got := ledger.readStats().ReservedFrames; got != before+1 {
		t.Fatalf("expected reserved count %d after double lock; got %d", before+1, got)
	}

	// Freeing twice must count the frame once as well.
	if err := ledger.FreeFrame(mm.Frame(7)); err != nil {
		t.Fatal(err)
	}
	if err := ledger.FreeFrame(mm.Frame(7)); err != nil {
		t.Fatal(err)
	}
	if got := ledger.readStats().ReservedFrames; got != before {
		t.Fatalf("expected reserved count %d after double free; got %d", before, got)
	}

	if err := ledger.LockFrame(mm.Frame(16)); err != ErrOutOfBounds {
		t.Fatalf("expected locking an out-of-range frame to fail with ErrOutOfBounds; got %v", err)
	}
	if err := ledger.FreeFrame(mm.Frame(1024)); err != ErrOutOfBounds {
		t.Fatalf("expected freeing an out-of-range frame to fail with ErrOutOfBounds; got %v", err)
	}
}

func TestFrameExhaustionAndReuse(t *testing.T) {
	mmtest.NewArena(t, 8*mm.PageSize, nil)

	var ledger FrameLedger
	if err := ledger.init(); err != nil {
		t.Fatal(err)
	}

	free := ledger.readStats().FreeFrames()
	allocated := make([]mm.Frame, 0, free)
	for {
		frame, err := ledger.NextFrame()
		if err == ErrNoneFree {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		allocated = append(allocated, frame)
	}

	if uintptr(len(allocated)) != free {
		t.Fatalf("expected to drain %d frames; got %d", free, len(allocated))
	}

	if err := ledger.FreeFrame(allocated[2]); err != nil {
		t.Fatal(err)
	}

	frame, err := ledger.NextFrame()
	if err != nil {
		t.Fatal(err)
	}
	if frame != allocated[2] {
		t.Fatalf("expected the freed frame %d to be handed out again; got %d", allocated[2], frame)
	}
}
