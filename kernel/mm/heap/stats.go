package heap

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Stats summarizes the allocator state.
type Stats struct {
	// TotalBlocks is the number of blocks the tracking table covers.
	TotalBlocks uintptr

	// UsedBlocks is the number of blocks claimed by live allocations. The
	// table's own pages and the null guard page are not counted.
	UsedBlocks uintptr

	// MappedPages is the number of heap pages currently backed by a
	// frame, the table's own pages included.
	MappedPages uintptr

	// TableEntries and TablePages describe the tracking table itself.
	TableEntries uintptr
	TablePages   uintptr

	// Grows counts the table growth cycles performed so far.
	Grows uintptr
}

// ReadStats returns a consistent snapshot of the allocator state.
func (a *Allocator) ReadStats() Stats {
	st := a.mu.RLock()
	defer a.mu.RUnlock(st)

	return Stats{
		TotalBlocks:  a.tableLen * blocksPerPage,
		UsedBlocks:   a.usedBlocks,
		MappedPages:  a.mappedPages,
		TableEntries: a.tableLen,
		TablePages:   a.tablePages,
		Grows:        a.growCount,
	}
}

// BuildStatsJSON serializes an allocator snapshot into the supplied JSON
// writer.
func (a *Allocator) BuildStatsJSON(writer *jwriter.Writer) {
	stats := a.ReadStats()

	obj := writer.Object()
	obj.Name("TotalBlocks").Int(int(stats.TotalBlocks))
	obj.Name("UsedBlocks").Int(int(stats.UsedBlocks))
	obj.Name("MappedPages").Int(int(stats.MappedPages))
	obj.Name("TableEntries").Int(int(stats.TableEntries))
	obj.Name("TablePages").Int(int(stats.TablePages))
	obj.Name("Grows").Int(int(stats.Grows))
	obj.End()
}

// DumpStats writes a JSON rendering of the allocator state to w.
func (a *Allocator) DumpStats(w io.Writer) error {
	writer := jwriter.NewWriter()
	a.BuildStatsJSON(&writer)

	if err := writer.Error(); err != nil {
		return errors.Wrap(err, "heap: serializing allocator stats")
	}

	if _, err := w.Write(writer.Bytes()); err != nil {
		return errors.Wrap(err, "heap: writing allocator stats")
	}

	return nil
}
