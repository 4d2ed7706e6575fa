package pmm

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"osmium/kernel/kfmt"
	"osmium/kernel/mm"
	"osmium/kernel/mm/mmtest"
)

func TestInitWiresFrameHooks(t *testing.T) {
	mmtest.NewArena(t, 32*mm.PageSize, nil)

	var buf bytes.Buffer
	prevSink := kfmt.GetOutputSink()
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(prevSink)

	Init()

	if !strings.Contains(buf.String(), "[pmm] system memory map:") {
		t.Fatal("expected Init to log the system memory map")
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	before := ReadStats().ReservedFrames
	if err = mm.FreeFrame(frame); err != nil {
		t.Fatal(err)
	}
	if got := ReadStats().ReservedFrames; got != before-1 {
		t.Fatalf("expected the freed frame to return to the ledger; reserved count %d, want %d", got, before-1)
	}
}

func TestAllocRegion(t *testing.T) {
	arena := mmtest.NewArena(t, 32*mm.PageSize, nil)
	Init()

	size := 3*mm.PageSize + mm.PageSize/2
	frame, buf, err := AllocRegion(size)
	if err != nil {
		t.Fatal(err)
	}

	if exp := 4 * mm.PageSize; uintptr(len(buf)) != exp {
		t.Fatalf("expected the region buffer to cover %d bytes; got %d", exp, len(buf))
	}

	// Writes through the returned buffer must land in physical memory.
	buf[0] = 0x5a
	buf[len(buf)-1] = 0xa5
	view := arena.Bytes(frame.Address(), uintptr(len(buf)))
	if view[0] != 0x5a || view[len(view)-1] != 0xa5 {
		t.Fatal("expected region writes to be visible through the backing memory")
	}

	before := ReadStats().ReservedFrames
	if err = FreeRegion(frame, size); err != nil {
		t.Fatal(err)
	}
	if got := ReadStats().ReservedFrames; got != before-4 {
		t.Fatalf("expected 4 frames back after FreeRegion; reserved count %d, want %d", got, before-4)
	}

	if _, _, err = AllocRegion(0); err != errZeroRegionRequest {
		t.Fatalf("expected a zero-length region request to fail; got %v", err)
	}
}

func TestDumpStats(t *testing.T) {
	mmtest.NewArena(t, 16*mm.PageSize, nil)
	Init()

	var buf bytes.Buffer
	if err := DumpStats(&buf); err != nil {
		t.Fatal(err)
	}

	var decoded map[string]uint64
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected DumpStats to emit valid JSON: %v\noutput: %s", err, buf.String())
	}

	stats := ReadStats()
	if decoded["TotalFrames"] != uint64(stats.TotalFrames) {
		t.Fatalf("expected TotalFrames %d; got %d", stats.TotalFrames, decoded["TotalFrames"])
	}
	if decoded["FreeFrames"] != uint64(stats.FreeFrames()) {
		t.Fatalf("expected FreeFrames %d; got %d", stats.FreeFrames(), decoded["FreeFrames"])
	}
}
