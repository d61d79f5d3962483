package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avoliek/slicetalk/internal/config"
	"github.com/avoliek/slicetalk/internal/shared"
)

// scenePrompt conditions the speech model; kept identical to the prompt the
// provider was tuned with.
const scenePrompt = "Generate audio following instruction.\n\n" +
	"<|scene_desc_start|>\n" +
	"Audio is recorded from a quiet room.\n" +
	"<|scene_desc_end|>"

var streamStopTokens = []string{"<|eot_id|>", "<|end_of_text|>", "<|audio_eos|>"}

// Synthesizer converts reply text to speech. It supports a single-shot mode
// returning one complete PCM payload and an incremental mode yielding PCM
// chunks as the provider produces them.
type Synthesizer struct {
	baseURL    string
	apiKey     string
	model      string
	voice      string
	sampleRate int
	chunkSize  int
	timeout    time.Duration

	// unary carries the request timeout; stream relies on the caller's
	// context so long utterances are not cut off mid-generation.
	unary  *http.Client
	stream *http.Client
}

// NewSynthesizer creates a synthesis gateway from config.
func NewSynthesizer(cfg config.TTSConfig) *Synthesizer {
	return &Synthesizer{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		voice:      cfg.Voice,
		sampleRate: cfg.SampleRate,
		chunkSize:  cfg.ChunkSize,
		timeout:    cfg.Timeout,
		unary:      &http.Client{Timeout: cfg.Timeout},
		stream:     &http.Client{},
	}
}

// SampleRate returns the PCM sample rate the provider emits.
func (s *Synthesizer) SampleRate() int { return s.sampleRate }

// Synthesize requests one complete utterance as raw PCM (s16le mono). A
// trailing odd byte is padded so the result always holds whole samples.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text for synthesis")
	}

	payload := map[string]any{
		"model":           s.model,
		"voice":           s.voice,
		"input":           text,
		"response_format": "pcm",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating speech request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.unary.Do(req)
	if err != nil {
		return nil, shared.NewTransportError("tts", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, shared.NewTransportError("tts", fmt.Errorf("synthesis failed (status %d): %s", resp.StatusCode, respBody))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shared.NewTransportError("tts", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("no audio returned from synthesis")
	}
	if len(pcm)%2 != 0 {
		pcm = append(pcm, 0)
	}

	slog.Debug("synthesis complete", "text_length", len(text), "pcm_bytes", len(pcm))
	return pcm, nil
}

type streamDelta struct {
	Choices []struct {
		Delta struct {
			Audio struct {
				Data string `json:"data"`
			} `json:"audio"`
		} `json:"delta"`
	} `json:"choices"`
}

// SynthesizeStream requests an utterance over the streaming chat interface
// and yields decoded PCM chunks in production order. The sequence is finite
// and not restartable; a mid-stream failure is yielded as the final element.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, text string) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		payload := map[string]any{
			"model": s.model,
			"messages": []map[string]string{
				{"role": "system", "content": scenePrompt},
				{"role": "user", "content": text},
			},
			"stream":           true,
			"modalities":       []string{"text", "audio"},
			"temperature":      1.0,
			"top_p":            0.95,
			"top_k":            50,
			"audio_chunk_size": s.chunkSize,
			"stop":             streamStopTokens,
		}
		body, err := json.Marshal(payload)
		if err != nil {
			yield(nil, fmt.Errorf("marshalling stream request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			yield(nil, fmt.Errorf("creating stream request: %w", err))
			return
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := s.stream.Do(req)
		if err != nil {
			yield(nil, shared.NewTransportError("tts", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			yield(nil, shared.NewTransportError("tts", fmt.Errorf("stream rejected (status %d): %s", resp.StatusCode, respBody)))
			return
		}

		var stopped bool
		err = parseSSE(resp.Body, func(data string) error {
			if data == "[DONE]" {
				return io.EOF
			}
			var delta streamDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				return fmt.Errorf("decoding stream delta: %w", err)
			}
			for _, choice := range delta.Choices {
				if choice.Delta.Audio.Data == "" {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(choice.Delta.Audio.Data)
				if err != nil {
					return fmt.Errorf("decoding audio delta: %w", err)
				}
				if len(pcm) == 0 {
					continue
				}
				if !yield(pcm, nil) {
					stopped = true
					return io.EOF
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, io.EOF) && !stopped {
			yield(nil, shared.NewTransportError("tts", err))
		}
	}
}
