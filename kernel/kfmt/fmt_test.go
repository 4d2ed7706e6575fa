package kfmt

import (
	"bytes"
	"testing"
)

func TestPrintfBeforeAndAfterSinkRegistration(t *testing.T) {
	defer func() {
		SetOutputSink(nil)
		earlyPrintBuffer.readPos = 0
		earlyPrintBuffer.writePos = 0
	}()

	// With no sink registered output must accumulate in the early buffer.
	Printf("starting %s v%d.%d\n", "osmium", 1, 2)

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if exp, got := "starting osmium v1.2\n", buf.String(); got != exp {
		t.Fatalf("expected early output to be replayed to the sink.\nexp: %q\ngot: %q", exp, got)
	}

	// With a sink registered output must bypass the early buffer.
	buf.Reset()
	Printf("free frames: %d/%d", 42, 1024)

	if exp, got := "free frames: 42/1024", buf.String(); got != exp {
		t.Fatalf("expected output to be written directly to the sink.\nexp: %q\ngot: %q", exp, got)
	}
}

func TestEarlyBufferKeepsMostRecentOutput(t *testing.T) {
	defer func() {
		SetOutputSink(nil)
		earlyPrintBuffer.readPos = 0
		earlyPrintBuffer.writePos = 0
	}()

	for i := 0; i < ringBufferSize; i++ {
		Printf("x")
	}
	Printf("overflow")

	var buf bytes.Buffer
	SetOutputSink(&buf)

	out := buf.String()
	if len(out) >= ringBufferSize+len("overflow") {
		t.Fatalf("expected ring buffer to cap early output; got %d bytes", len(out))
	}

	if !bytes.HasSuffix([]byte(out), []byte("overflow")) {
		t.Fatalf("expected replayed output to end with %q; got tail %q", "overflow", out[len(out)-16:])
	}
}
