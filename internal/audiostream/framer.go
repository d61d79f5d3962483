// Package audiostream bridges the synthesis gateway's bursty incremental
// output to a realtime consumer. A producer goroutine pulls variable-sized
// PCM chunks, a bounded channel provides backpressure, and the consumer
// re-chunks bytes into fixed-duration frames before writing them to the
// connection.
package audiostream

// Framer splits and merges incoming PCM bytes into fixed-duration frames.
// Bytes are carried over between pushes; nothing is ever dropped or
// reordered, so the concatenation of all returned frames plus the final
// Flush equals the concatenation of everything pushed.
type Framer struct {
	frameBytes int
	buf        []byte
}

// NewFramer creates a framer for s16le mono PCM at the given sample rate.
// Frame size is sampleRate * frameMillis / 1000 samples, two bytes each.
func NewFramer(sampleRate, frameMillis int) *Framer {
	samples := sampleRate * frameMillis / 1000
	if samples < 1 {
		samples = 1
	}
	return &Framer{frameBytes: samples * 2}
}

// FrameBytes returns the fixed frame size in bytes.
func (f *Framer) FrameBytes() int { return f.frameBytes }

// Push appends p to the carry buffer and returns all complete frames now
// available, in order.
func (f *Framer) Push(p []byte) [][]byte {
	f.buf = append(f.buf, p...)

	var frames [][]byte
	for len(f.buf) >= f.frameBytes {
		frame := make([]byte, f.frameBytes)
		copy(frame, f.buf[:f.frameBytes])
		frames = append(frames, frame)
		f.buf = f.buf[f.frameBytes:]
	}
	return frames
}

// Flush returns the final partial frame, or nil if nothing is buffered. A
// trailing odd byte is padded with one zero byte so the frame ends on a
// sample boundary; no sample is ever dropped.
func (f *Framer) Flush() []byte {
	if len(f.buf) == 0 {
		return nil
	}
	frame := make([]byte, len(f.buf))
	copy(frame, f.buf)
	f.buf = f.buf[:0]
	if len(frame)%2 != 0 {
		frame = append(frame, 0)
	}
	return frame
}

// Buffered returns how many bytes are waiting for the next frame boundary.
func (f *Framer) Buffered() int { return len(f.buf) }
