// Package ws implements the WebSocket connection handler: it reads client
// frames, drives the session state machine, and streams reply audio back.
//
// Protocol (client -> server, JSON text frames):
//
//	{"type":"audio","audio_b64":"...base64 wav..."}
//	{"type":"text","text":"..."}
//	{"type":"speak","text":"..."}   // bypasses routing, diagnostics only
//
// Protocol (server -> client):
//
//	{"type":"transcript","text":"..."}
//	{"type":"turn_result","slots":{...},"messages":[{"role","text"}],"suspension":"..."|null}
//	{"type":"audio_begin","format":"pcm_s16le","sample_rate":24000}
//	{"type":"audio_first_chunk"}
//	binary frames of raw PCM
//	{"type":"audio_end"}
//	{"type":"audio_fallback","format":"wav","sample_rate":24000,"audio_b64":"..."}
//	{"type":"error","error":"..."}
package ws

import (
	"github.com/avoliek/slicetalk/internal/domain"
)

// Client frame types.
const (
	ClientTypeAudio = "audio"
	ClientTypeText  = "text"
	ClientTypeSpeak = "speak"
)

// Server frame types.
const (
	ServerTypeTranscript    = "transcript"
	ServerTypeTurnResult    = "turn_result"
	ServerTypeAudioBegin    = "audio_begin"
	ServerTypeAudioFirst    = "audio_first_chunk"
	ServerTypeAudioEnd      = "audio_end"
	ServerTypeAudioFallback = "audio_fallback"
	ServerTypeError         = "error"
)

// ClientFrame is any inbound JSON text frame.
type ClientFrame struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	AudioB64 string `json:"audio_b64,omitempty"`
}

// TranscriptFrame echoes the STT result before the turn is processed.
type TranscriptFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// WireMessage is one history entry in a turn result.
type WireMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// TurnResultFrame is the structured summary of a processed turn.
type TurnResultFrame struct {
	Type       string            `json:"type"`
	Slots      map[string]string `json:"slots"`
	Messages   []WireMessage     `json:"messages"`
	Suspension *string           `json:"suspension"`
}

// AudioBeginFrame announces format and sample rate before binary frames.
type AudioBeginFrame struct {
	Type       string `json:"type"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

// AudioMarkerFrame is a bare control marker (first chunk, end).
type AudioMarkerFrame struct {
	Type string `json:"type"`
}

// AudioFallbackFrame carries one complete WAV payload when streaming is
// unavailable.
type AudioFallbackFrame struct {
	Type       string `json:"type"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	AudioB64   string `json:"audio_b64"`
}

// ErrorFrame reports a failure; the connection stays open.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newTurnResultFrame(sess *domain.Session) TurnResultFrame {
	frame := TurnResultFrame{
		Type:     ServerTypeTurnResult,
		Slots:    sess.SlotsCopy(),
		Messages: make([]WireMessage, 0, len(sess.Messages)),
	}
	for _, m := range sess.Messages {
		frame.Messages = append(frame.Messages, WireMessage{Role: string(m.Role), Text: m.Text})
	}
	if sess.Suspension.Active() {
		s := string(sess.Suspension)
		frame.Suspension = &s
	}
	return frame
}
