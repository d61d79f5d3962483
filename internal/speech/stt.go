// Package speech wraps the external speech-to-text and text-to-speech
// services. Both are OpenAI-compatible HTTP endpoints; the rest of the
// system only sees their input/output contracts.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/avoliek/slicetalk/internal/config"
	"github.com/avoliek/slicetalk/internal/shared"
)

// Transcriber converts recorded audio to text via the audio transcriptions
// API.
type Transcriber struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewTranscriber creates a transcription gateway from config.
func NewTranscriber(cfg config.STTConfig) *Transcriber {
	return &Transcriber{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Transcribe sends audio bytes to the transcription endpoint and returns the
// best-effort transcript text.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	_ = writer.WriteField("model", t.model)
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", shared.NewTransportError("stt", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", shared.NewTransportError("stt", fmt.Errorf("transcription failed (status %d): %s", resp.StatusCode, respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding transcription: %w", err)
	}

	slog.Debug("transcription complete", "audio_bytes", len(audio), "text_length", len(result.Text))
	return result.Text, nil
}
