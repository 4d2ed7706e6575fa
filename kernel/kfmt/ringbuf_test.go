package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	var (
		buf     bytes.Buffer
		payload = "frame ledger tracks 32768 frames"
		rb      ringBuffer
	)

	t.Run("write then drain", func(t *testing.T) {
		rb.writePos = 0
		rb.readPos = 0
		n, err := rb.Write([]byte(payload))
		if err != nil {
			t.Fatal(err)
		}

		if n != len(payload) {
			t.Fatalf("expected to write %d bytes; wrote %d", len(payload), n)
		}

		if got := drainByteByByte(&buf, &rb); got != payload {
			t.Fatalf("expected to read %q; got %q", payload, got)
		}
	})

	t.Run("overwrite advances read position", func(t *testing.T) {
		rb.writePos = ringBufferSize - 1
		rb.readPos = 0
		if _, err := rb.Write([]byte{'!'}); err != nil {
			t.Fatal(err)
		}

		if exp := 1; rb.readPos != exp {
			t.Fatalf("expected write to push readPos to %d; got %d", exp, rb.readPos)
		}
	})

	t.Run("wrapped data", func(t *testing.T) {
		rb.writePos = ringBufferSize - 2
		rb.readPos = ringBufferSize - 2
		n, err := rb.Write([]byte(payload))
		if err != nil {
			t.Fatal(err)
		}

		if n != len(payload) {
			t.Fatalf("expected to write %d bytes; wrote %d", len(payload), n)
		}

		if got := drainByteByByte(&buf, &rb); got != payload {
			t.Fatalf("expected to read %q; got %q", payload, got)
		}
	})

	t.Run("drain via io.Copy", func(t *testing.T) {
		rb.writePos = ringBufferSize - 2
		rb.readPos = ringBufferSize - 2
		n, err := rb.Write([]byte(payload))
		if err != nil {
			t.Fatal(err)
		}

		if n != len(payload) {
			t.Fatalf("expected to write %d bytes; wrote %d", len(payload), n)
		}

		var sink bytes.Buffer
		io.Copy(&sink, &rb)

		if got := sink.String(); got != payload {
			t.Fatalf("expected to read %q; got %q", payload, got)
		}
	})
}

func drainByteByByte(buf *bytes.Buffer, r io.Reader) string {
	buf.Reset()
	b := make([]byte, 1)
	for {
		_, err := r.Read(b)
		if err == io.EOF {
			break
		}

		buf.Write(b)
	}
	return buf.String()
}
