package audiostream

import (
	"bytes"
	"testing"
)

func TestFramerFrameSize(t *testing.T) {
	f := NewFramer(24000, 40)
	if f.FrameBytes() != 1920 {
		t.Errorf("expected 1920 bytes per frame at 24kHz/40ms, got %d", f.FrameBytes())
	}
}

func TestFramerMinimumOneSample(t *testing.T) {
	f := NewFramer(24000, 0)
	if f.FrameBytes() != 2 {
		t.Errorf("expected minimum one-sample frame, got %d bytes", f.FrameBytes())
	}
}

func TestFramerByteEquality(t *testing.T) {
	f := NewFramer(1000, 10) // 10 samples = 20 bytes per frame

	var input []byte
	for i := 0; i < 230; i++ {
		input = append(input, byte(i))
	}

	// Push in uneven bursts the way a streaming provider delivers them.
	var output []byte
	for _, size := range []int{3, 17, 50, 1, 99, 60} {
		chunk := input[:size]
		input = input[size:]
		for _, frame := range f.Push(chunk) {
			if len(frame) != f.FrameBytes() {
				t.Errorf("expected frame of %d bytes, got %d", f.FrameBytes(), len(frame))
			}
			output = append(output, frame...)
		}
	}
	if tail := f.Flush(); tail != nil {
		output = append(output, tail...)
	}

	var want []byte
	for i := 0; i < 230; i++ {
		want = append(want, byte(i))
	}
	if !bytes.Equal(output, want) {
		t.Errorf("framed output differs from input: %d bytes out, %d in", len(output), len(want))
	}
	if f.Buffered() != 0 {
		t.Errorf("expected empty carry buffer after flush, got %d bytes", f.Buffered())
	}
}

func TestFramerFlushPadsOddByte(t *testing.T) {
	f := NewFramer(1000, 10)
	f.Push([]byte{1, 2, 3})

	tail := f.Flush()
	if len(tail) != 4 {
		t.Fatalf("expected odd tail padded to 4 bytes, got %d", len(tail))
	}
	if tail[3] != 0 {
		t.Errorf("expected zero pad byte, got %d", tail[3])
	}
}

func TestFramerFlushEmptyReturnsNil(t *testing.T) {
	f := NewFramer(1000, 10)
	if tail := f.Flush(); tail != nil {
		t.Errorf("expected nil flush on empty framer, got %d bytes", len(tail))
	}
}
