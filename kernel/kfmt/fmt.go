// Package kfmt provides the formatted output facilities for the kernel. All
// diagnostic output flows through a single registered sink; output emitted
// before a sink exists (e.g. while the console driver is still probing) is
// captured in a ring buffer and replayed once a sink is registered.
package kfmt

import (
	"fmt"
	"io"
)

var (
	// earlyPrintBuffer is a ring buffer that stores Printf output emitted
	// before an output sink is registered.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. If nil,
	// output is redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and copies any data
// accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the currently registered output sink or nil if no
// sink has been registered yet.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf formats according to fmt rules and writes the result to the
// registered output sink. While no sink is registered the output accumulates
// in a fixed-size ring buffer, so early boot diagnostics are never lost but
// may be truncated to the most recent writes.
func Printf(format string, args ...interface{}) {
	if outputSink != nil {
		fmt.Fprintf(outputSink, format, args...)
		return
	}

	fmt.Fprintf(&earlyPrintBuffer, format, args...)
}

// Fprintf behaves exactly like Printf but writes the formatted output to the
// specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}

// output routes writes to the registered sink or, while none is registered,
// to the early print buffer.
type output struct{}

func (output) Write(p []byte) (int, error) {
	if outputSink != nil {
		return outputSink.Write(p)
	}

	return earlyPrintBuffer.Write(p)
}

// Output returns an io.Writer wired to the same destination Printf uses. It
// allows subsystems to compose writers (e.g. PrefixWriter) on top of the
// kernel output stream.
func Output() io.Writer {
	return output{}
}
