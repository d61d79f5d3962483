package audiostream

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/avoliek/slicetalk/internal/shared"
	"github.com/avoliek/slicetalk/internal/speech"
)

// Synthesizer is the synthesis gateway contract the pipeline consumes.
type Synthesizer interface {
	SampleRate() int
	Synthesize(ctx context.Context, text string) ([]byte, error)
	SynthesizeStream(ctx context.Context, text string) iter.Seq2[[]byte, error]
}

// Sink receives the pipeline's output on the connection's I/O path. The ws
// package implements it over websocket frames.
type Sink interface {
	AudioBegin(ctx context.Context, format string, sampleRate int) error
	AudioFirstChunk(ctx context.Context) error
	AudioFrame(ctx context.Context, frame []byte) error
	AudioError(ctx context.Context, message string) error
	AudioEnd(ctx context.Context) error
	AudioFallback(ctx context.Context, wav []byte, sampleRate int) error
}

// PipelineError marks a stream that broke upstream mid-turn. The terminal
// audio_end marker has still been sent when it is returned.
type PipelineError struct {
	Err error
}

func (e *PipelineError) Error() string { return fmt.Sprintf("audio pipeline failure: %v", e.Err) }
func (e *PipelineError) Unwrap() error { return e.Err }

type chunk struct {
	data []byte
	err  error
}

// Streamer drives one speech stream per reply. It is stateless and safe to
// share across connections.
type Streamer struct {
	synth       Synthesizer
	frameMillis int
	queueDepth  int
}

// NewStreamer creates a streamer emitting frames of frameMillis duration and
// buffering at most queueDepth chunks between producer and consumer.
func NewStreamer(synth Synthesizer, frameMillis, queueDepth int) *Streamer {
	return &Streamer{synth: synth, frameMillis: frameMillis, queueDepth: queueDepth}
}

// Stream synthesizes text and writes it to the sink as fixed-duration binary
// frames bracketed by control messages. The producer pulling from the
// synthesis gateway runs on its own goroutine; this goroutine is the
// consumer and runs on the connection's I/O path.
//
// Whatever happens upstream, a successful AudioBegin is always paired with
// exactly one terminal AudioEnd so the client state machine never hangs.
func (s *Streamer) Stream(ctx context.Context, text string, sink Sink) error {
	start := time.Now()

	if err := sink.AudioBegin(ctx, "pcm_s16le", s.synth.SampleRate()); err != nil {
		return err
	}

	prodCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan chunk, s.queueDepth)
	go s.produce(prodCtx, text, ch)

	framer := NewFramer(s.synth.SampleRate(), s.frameMillis)
	var (
		gotAudio  bool
		streamErr error
	)

consume:
	for {
		// A ready chunk must not win the race against an already-cancelled
		// context; nothing is written after the close point.
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			// Connection gone: stop the producer and let queued chunks be
			// discarded; never write after the close point.
			return ctx.Err()
		case c, ok := <-ch:
			if !ok {
				break consume
			}
			if c.err != nil {
				streamErr = c.err
				break consume
			}
			if !gotAudio {
				gotAudio = true
				if err := sink.AudioFirstChunk(ctx); err != nil {
					return err
				}
				slog.Info("first audio chunk queued", "latency_ms", time.Since(start).Milliseconds(), "bytes", len(c.data))
			}
			for _, frame := range framer.Push(c.data) {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := sink.AudioFrame(ctx, frame); err != nil {
					return err
				}
			}
		}
	}
	cancel()

	// The select above may drain the channel without observing cancellation;
	// re-check so nothing is written once the connection context ends.
	if err := ctx.Err(); err != nil {
		return err
	}

	if streamErr != nil && !gotAudio {
		// The incremental path failed before any audio arrived; fall back to
		// one complete WAV payload.
		return s.fallback(ctx, text, sink, streamErr)
	}

	// Every received sample is delivered, including a final partial frame.
	if frame := framer.Flush(); frame != nil {
		if err := sink.AudioFrame(ctx, frame); err != nil {
			return err
		}
	}

	if streamErr != nil {
		if err := sink.AudioError(ctx, streamErr.Error()); err != nil {
			return err
		}
		if err := sink.AudioEnd(ctx); err != nil {
			return err
		}
		return &PipelineError{Err: streamErr}
	}

	if err := sink.AudioEnd(ctx); err != nil {
		return err
	}
	slog.Debug("audio stream complete", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// produce pulls chunks from the synthesis gateway until it finishes, errors,
// or the context is cancelled. Cancellation is checked before every handoff,
// so at most one upstream read is in flight after cancel.
func (s *Streamer) produce(ctx context.Context, text string, ch chan<- chunk) {
	defer close(ch)
	for data, err := range s.synth.SynthesizeStream(ctx, text) {
		if err != nil {
			select {
			case ch <- chunk{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case ch <- chunk{data: data}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Streamer) fallback(ctx context.Context, text string, sink Sink, cause error) error {
	slog.Warn("incremental synthesis failed, falling back to single WAV", "error", cause)

	pcm, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		if shared.IsCancellation(err) {
			return err
		}
		if sendErr := sink.AudioError(ctx, cause.Error()); sendErr != nil {
			return sendErr
		}
		if sendErr := sink.AudioEnd(ctx); sendErr != nil {
			return sendErr
		}
		return &PipelineError{Err: err}
	}

	wav := speech.PCMToWAV(pcm, s.synth.SampleRate(), 1, 2)
	if err := sink.AudioFallback(ctx, wav, s.synth.SampleRate()); err != nil {
		return err
	}
	return sink.AudioEnd(ctx)
}
