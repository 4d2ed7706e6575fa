// Package pmm implements the kernel physical memory manager. A single frame
// ledger tracks the state of every physical frame in the system; its storage
// is carved out of the usable memory reported by the boot loader and accessed
// through the direct-mapped window.
package pmm

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"osmium/kernel"
	"osmium/kernel/kfmt"
	"osmium/kernel/mem"
	"osmium/kernel/mm"
)

var frameLedger FrameLedger

// Init bootstraps the physical memory manager. It builds the frame ledger
// from the registered boot parameters, logs the system memory map and wires
// the ledger into the generic frame allocation hooks used by the rest of the
// memory subsystem. Errors at this stage leave the kernel without a frame
// source and are not recoverable.
func Init() {
	if err := frameLedger.init(); err != nil {
		kfmt.Panic(err)
	}

	frameLedger.printMemoryMap()

	mm.SetFrameAllocator(ledgerAllocFrame)
	mm.SetFrameFreer(ledgerFreeFrame)
}

func ledgerAllocFrame() (mm.Frame, *kernel.Error) { return frameLedger.NextFrame() }

func ledgerFreeFrame(frame mm.Frame) *kernel.Error { return frameLedger.FreeFrame(frame) }

// NextFrame reserves the lowest-indexed free frame and returns it.
func NextFrame() (mm.Frame, *kernel.Error) { return frameLedger.NextFrame() }

// NextFrames reserves a contiguous run of free frames whose start address
// honors alignBytes and returns the first frame of the run. See
// FrameLedger.NextFrames for the byte-to-frame-stride conversion.
func NextFrames(count, alignBytes uintptr) (mm.Frame, *kernel.Error) {
	return frameLedger.NextFrames(count, alignBytes)
}

// LockFrame marks the supplied frame as used.
func LockFrame(frame mm.Frame) *kernel.Error { return frameLedger.LockFrame(frame) }

// FreeFrame marks the supplied frame as free.
func FreeFrame(frame mm.Frame) *kernel.Error { return frameLedger.FreeFrame(frame) }

// AllocRegion reserves a contiguous run of frames large enough to cover size
// bytes and returns the start frame together with a direct-mapped byte slice
// over the reserved region. It backs early boot consumers that need plain
// buffers before the heap exists.
func AllocRegion(size uintptr) (mm.Frame, []byte, *kernel.Error) {
	if size == 0 {
		return mm.InvalidFrame, nil, errZeroRegionRequest
	}

	pageCount := mem.AlignUpDiv(size, mm.PageSize)
	frame, err := frameLedger.NextFrames(pageCount, mm.PageSize)
	if err != nil {
		return mm.InvalidFrame, nil, err
	}

	return frame, mm.PhysBytes(frame.Address(), pageCount<<mm.PageShift), nil
}

// FreeRegion releases a region previously reserved via AllocRegion.
func FreeRegion(frame mm.Frame, size uintptr) *kernel.Error {
	if size == 0 {
		return errZeroRegionRequest
	}

	pageCount := mem.AlignUpDiv(size, mm.PageSize)
	for page := uintptr(0); page < pageCount; page++ {
		if err := frameLedger.FreeFrame(frame + mm.Frame(page)); err != nil {
			return err
		}
	}

	return nil
}

// Stats summarizes the state of the frame ledger.
type Stats struct {
	// TotalFrames is the number of frames tracked by the ledger.
	TotalFrames uintptr

	// ReservedFrames is the number of frames currently marked used. It
	// includes the null guard frame, the ledger's own storage and every
	// region the boot loader reported as not usable.
	ReservedFrames uintptr

	// LedgerPages is the number of pages backing the ledger bitmap.
	LedgerPages uintptr
}

// FreeFrames returns the number of frames available for allocation.
func (s Stats) FreeFrames() uintptr { return s.TotalFrames - s.ReservedFrames }

// ReadStats returns a consistent snapshot of the ledger state.
func ReadStats() Stats { return frameLedger.readStats() }

func (l *FrameLedger) readStats() Stats {
	st := l.mu.RLock()
	defer l.mu.RUnlock(st)

	return Stats{
		TotalFrames:    l.frameCount,
		ReservedFrames: l.reservedFrames,
		LedgerPages:    l.tablePages,
	}
}

// BuildStatsJSON serializes a ledger snapshot into the supplied JSON writer.
func BuildStatsJSON(writer *jwriter.Writer) {
	stats := ReadStats()

	obj := writer.Object()
	obj.Name("TotalFrames").Int(int(stats.TotalFrames))
	obj.Name("ReservedFrames").Int(int(stats.ReservedFrames))
	obj.Name("FreeFrames").Int(int(stats.FreeFrames()))
	obj.Name("LedgerPages").Int(int(stats.LedgerPages))
	obj.End()
}

// DumpStats writes a JSON rendering of the ledger state to w. It is meant for
// debug consoles and tests, not for the hot path.
func DumpStats(w io.Writer) error {
	writer := jwriter.NewWriter()
	BuildStatsJSON(&writer)

	if err := writer.Error(); err != nil {
		return errors.Wrap(err, "pmm: serializing ledger stats")
	}

	if _, err := w.Write(writer.Bytes()); err != nil {
		return errors.Wrap(err, "pmm: writing ledger stats")
	}

	return nil
}
