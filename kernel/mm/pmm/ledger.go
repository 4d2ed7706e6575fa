package pmm

import (
	"math/bits"

	"osmium/kernel"
	"osmium/kernel/hal/bootinfo"
	"osmium/kernel/kfmt"
	"osmium/kernel/mem"
	"osmium/kernel/mm"
	"osmium/kernel/sync"
)

// bitsPerWord defines the number of frames tracked by each ledger word.
const bitsPerWord = 64

var (
	// ErrNoneFree is returned when there are not enough free frames to
	// satisfy an allocation request.
	ErrNoneFree = &kernel.Error{Module: "pmm", Message: "no free physical frames available"}

	// ErrOutOfBounds is returned when a frame index falls outside the
	// range tracked by the ledger.
	ErrOutOfBounds = &kernel.Error{Module: "pmm", Message: "frame index is out of ledger bounds"}

	// ErrInvalidAlignment is returned when a requested alignment is not a
	// power of two.
	ErrInvalidAlignment = &kernel.Error{Module: "pmm", Message: "alignment is not a power of two"}

	errBootInfoMissing    = &kernel.Error{Module: "pmm", Message: "boot parameters have not been registered"}
	errNoRegionForLedger  = &kernel.Error{Module: "pmm", Message: "no usable region large enough to host the frame ledger"}
	errZeroFrameRequest   = &kernel.Error{Module: "pmm", Message: "requested a zero-length frame run"}
	errZeroRegionRequest  = &kernel.Error{Module: "pmm", Message: "requested a zero-length region"}
)

// FrameLedger tracks the used/free state of every physical frame using one
// bit per frame; a set bit marks the frame as in use. The ledger's backing
// storage lives inside one of the usable regions reported by the boot loader
// and is reached through the direct map; its own frames, together with frame
// 0 (the null guard), are permanently marked used.
//
// All mutation happens under a single reader/writer lock with interrupts
// masked for the duration of the critical section. A frame is never
// observable as allocated on one core before the bit-set that granted it
// completes on another.
type FrameLedger struct {
	mu sync.IrqRWMutex

	// bitmap overlays the ledger's backing storage through the direct
	// map. Bits past frameCount in the final word stay permanently set.
	bitmap []uint64

	// frameCount holds the number of frames tracked by the ledger.
	frameCount uintptr

	// reservedFrames counts the frames currently marked used.
	reservedFrames uintptr

	// tableFrame and tablePages record where the ledger's own backing
	// storage lives.
	tableFrame mm.Frame
	tablePages uintptr
}

// init sizes the ledger from the registered boot parameters, selects a usable
// region to host it, installs the bitmap through the direct map and marks the
// null guard frame, every non-usable region and the ledger's own frames as
// used.
func (l *FrameLedger) init() *kernel.Error {
	bi := bootinfo.Get()
	if bi == nil {
		return errBootInfoMissing
	}

	totalMemory := uintptr(bootinfo.TotalMemory())
	frameCount := totalMemory >> mm.PageShift
	if frameCount == 0 {
		return errNoRegionForLedger
	}

	mm.SetDirectMap(bi.DirectMapBase, totalMemory)

	words := mem.AlignUpDiv(frameCount, uintptr(bitsPerWord))
	tableBytes := mem.AlignUp(words<<mm.PointerShift, mm.PageSize)

	// Select the first usable region able to host the ledger.
	var (
		tableAddr uintptr
		found     bool
	)
	bootinfo.VisitMemRegions(func(region *bootinfo.MemoryMapEntry) bool {
		if region.Type != bootinfo.MemAvailable {
			return true
		}

		start := mem.AlignUp(uintptr(region.PhysAddress), mm.PageSize)
		end := mem.AlignDown(uintptr(region.EndAddress()), mm.PageSize)
		if end > start && end-start >= tableBytes {
			tableAddr = start
			found = true
			return false
		}

		return true
	})
	if !found {
		return errNoRegionForLedger
	}

	l.bitmap = mm.PhysWords(tableAddr, int(words))
	l.frameCount = frameCount

	// Every frame starts out used; usable regions are then released. This
	// way reserved/unknown regions and the alignment padding at the end
	// of the bitmap can never be handed out.
	for i := range l.bitmap {
		l.bitmap[i] = ^uint64(0)
	}
	bootinfo.VisitMemRegions(func(region *bootinfo.MemoryMapEntry) bool {
		if region.Type != bootinfo.MemAvailable {
			return true
		}

		firstFrame := mem.AlignUp(uintptr(region.PhysAddress), mm.PageSize) >> mm.PageShift
		endFrame := mem.AlignDown(uintptr(region.EndAddress()), mm.PageSize) >> mm.PageShift
		for index := firstFrame; index < endFrame; index++ {
			l.clearBit(index)
		}

		return true
	})

	// Frame 0 backs the null address and is never handed out.
	l.setBit(0)

	l.tableFrame = mm.FrameFromAddress(tableAddr)
	l.tablePages = tableBytes >> mm.PageShift
	for page := uintptr(0); page < l.tablePages; page++ {
		l.setBit(uintptr(l.tableFrame) + page)
	}

	var used uintptr
	for _, word := range l.bitmap {
		used += uintptr(bits.OnesCount64(word))
	}
	l.reservedFrames = used - (words*bitsPerWord - frameCount)

	return nil
}

// NextFrame reserves the lowest-indexed free frame and returns it. A linear
// scan is good enough at this scale; simplicity wins over throughput.
func (l *FrameLedger) NextFrame() (mm.Frame, *kernel.Error) {
	st := l.mu.Lock()
	defer l.mu.Unlock(st)

	for wordIndex, word := range l.bitmap {
		if word == ^uint64(0) {
			continue
		}

		bit := bits.TrailingZeros64(^word)
		index := uintptr(wordIndex)*bitsPerWord + uintptr(bit)
		if index >= l.frameCount {
			break
		}

		l.setBit(index)
		l.reservedFrames++
		return mm.Frame(index), nil
	}

	return mm.InvalidFrame, ErrNoneFree
}

// NextFrames reserves a contiguous run of count free frames whose start
// honors the requested alignment and returns the first frame of the run.
// Alignment is given in bytes (zero means no constraint) and converts to a
// frame-index stride of max(1, alignBytes>>PageShift): candidate run starts
// are scanned at multiples of that stride, so the start frame's physical
// address is alignBytes-aligned. The whole run is claimed under a single lock
// acquisition so a partial reservation is never externally visible.
func (l *FrameLedger) NextFrames(count, alignBytes uintptr) (mm.Frame, *kernel.Error) {
	if count == 0 {
		return mm.InvalidFrame, errZeroFrameRequest
	}

	stride := uintptr(1)
	if alignBytes != 0 {
		if alignBytes&(alignBytes-1) != 0 {
			return mm.InvalidFrame, ErrInvalidAlignment
		}

		if s := alignBytes >> mm.PageShift; s > 1 {
			stride = s
		}
	}

	st := l.mu.Lock()
	defer l.mu.Unlock(st)

	for start := uintptr(0); start+count <= l.frameCount; start += stride {
		if !l.rangeFree(start, count) {
			continue
		}

		for index := start; index < start+count; index++ {
			l.setBit(index)
		}
		l.reservedFrames += count
		return mm.Frame(start), nil
	}

	return mm.InvalidFrame, ErrNoneFree
}

// LockFrame marks the supplied frame as used, independent of scanning. It is
// used to reserve boot-time regions. Locking an already-used frame is a
// tolerated no-op.
func (l *FrameLedger) LockFrame(frame mm.Frame) *kernel.Error {
	st := l.mu.Lock()
	defer l.mu.Unlock(st)

	index := uintptr(frame)
	if index >= l.frameCount {
		return ErrOutOfBounds
	}

	if !l.bitSet(index) {
		l.setBit(index)
		l.reservedFrames++
	}

	return nil
}

// FreeFrame marks the supplied frame as free. Freeing an already-free frame
// is a tolerated no-op: the bit is cleared and no error is reported. This is
// deliberately laxer than the heap allocator's double-free handling.
func (l *FrameLedger) FreeFrame(frame mm.Frame) *kernel.Error {
	st := l.mu.Lock()
	defer l.mu.Unlock(st)

	index := uintptr(frame)
	if index >= l.frameCount {
		return ErrOutOfBounds
	}

	if l.bitSet(index) {
		l.clearBit(index)
		l.reservedFrames--
	}

	return nil
}

// FrameCount returns the number of frames tracked by the ledger.
func (l *FrameLedger) FrameCount() uintptr {
	st := l.mu.RLock()
	defer l.mu.RUnlock(st)

	return l.frameCount
}

func (l *FrameLedger) bitSet(index uintptr) bool {
	return l.bitmap[index/bitsPerWord]&(1<<(index%bitsPerWord)) != 0
}

func (l *FrameLedger) setBit(index uintptr) {
	l.bitmap[index/bitsPerWord] |= 1 << (index % bitsPerWord)
}

func (l *FrameLedger) clearBit(index uintptr) {
	l.bitmap[index/bitsPerWord] &^= 1 << (index % bitsPerWord)
}

func (l *FrameLedger) rangeFree(start, count uintptr) bool {
	for index := start; index < start+count; index++ {
		if l.bitSet(index) {
			return false
		}
	}

	return true
}

// printMemoryMap logs the boot loader memory map along with the location the
// ledger selected for its own storage.
func (l *FrameLedger) printMemoryMap() {
	w := &kfmt.PrefixWriter{Sink: kfmt.Output(), Prefix: []byte("[pmm] ")}

	kfmt.Fprintf(w, "system memory map:\n")
	var totalFree mem.Size
	bootinfo.VisitMemRegions(func(region *bootinfo.MemoryMapEntry) bool {
		kfmt.Fprintf(w, "\t[0x%010x - 0x%010x], size: %10d, type: %s\n",
			region.PhysAddress, region.EndAddress(), region.Length, region.Type)
		if region.Type == bootinfo.MemAvailable {
			totalFree += mem.Size(region.Length)
		}
		return true
	})
	kfmt.Fprintf(w, "free memory: %dKb\n", uint64(totalFree/mem.Kb))
	kfmt.Fprintf(w, "frame ledger: %d frames tracked, %d page(s) at 0x%x\n",
		uint64(l.frameCount), uint64(l.tablePages), l.tableFrame.Address())
}
