package kfmt

import "io"

// PrefixWriter decorates an io.Writer so that every line written through it
// starts with a fixed prefix. Subsystems use it to tag their output, e.g.
// "[pmm] " or "[heap] ".
type PrefixWriter struct {
	// Sink receives all forwarded writes.
	Sink io.Writer

	// Prefix is emitted at the start of every line.
	Prefix []byte

	bytesAfterPrefix int
}

// Write forwards p to the sink, emitting the prefix after each newline. The
// returned length counts only the bytes of p; prefix bytes are not included.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written, lineStart, i int

	if w.bytesAfterPrefix == 0 && len(p) != 0 {
		w.Sink.Write(w.Prefix)
	}

	for ; i < len(p); i++ {
		if p[i] != '\n' {
			continue
		}

		n, err := w.Sink.Write(p[lineStart : i+1])
		if i+1 != len(p) {
			w.Sink.Write(w.Prefix)
		}
		written += n
		if err != nil {
			return written, err
		}
		w.bytesAfterPrefix = 0
		lineStart = i + 1
	}

	if lineStart < i {
		n, err := w.Sink.Write(p[lineStart:i])
		written += n
		w.bytesAfterPrefix = n
		if err != nil {
			return written, err
		}
	}

	return written, nil
}
