package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"iter"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avoliek/slicetalk/internal/audiostream"
	"github.com/avoliek/slicetalk/internal/domain"
	"github.com/coder/websocket"
)

type scriptedLLM struct {
	decisions []string
	replies   []string
	jsonErr   error
}

func (f *scriptedLLM) Complete(ctx context.Context, system string, history []domain.Message) (string, error) {
	if len(f.replies) == 0 {
		return "ok", nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *scriptedLLM) CompleteJSON(ctx context.Context, system string, history []domain.Message, out any) error {
	if f.jsonErr != nil {
		return f.jsonErr
	}
	if len(f.decisions) == 0 {
		return errors.New("no scripted decision")
	}
	decision := f.decisions[0]
	f.decisions = f.decisions[1:]
	return json.Unmarshal([]byte(decision), out)
}

// stallingLLM blocks its first structured call until the per-turn deadline
// fires, then behaves like the scripted fake.
type stallingLLM struct {
	scriptedLLM
	stallNext bool
}

func (f *stallingLLM) CompleteJSON(ctx context.Context, system string, history []domain.Message, out any) error {
	if f.stallNext {
		f.stallNext = false
		<-ctx.Done()
		return ctx.Err()
	}
	return f.scriptedLLM.CompleteJSON(ctx, system, history, out)
}

type fixedTranscriber struct {
	text string
	err  error
}

func (f *fixedTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f.text, f.err
}

type scriptedSynth struct {
	chunks [][]byte
}

func (s *scriptedSynth) SampleRate() int { return 1000 }

func (s *scriptedSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return nil, errors.New("unary synthesis not scripted")
}

func (s *scriptedSynth) SynthesizeStream(ctx context.Context, text string) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// dialTestSession starts an httptest server around a handler and dials it.
func dialTestSession(t *testing.T, h *Handler, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session" + query
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dialing test server: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func newTestHandler(llm *scriptedLLM, transcriber Transcriber, synth audiostream.Synthesizer) *Handler {
	if synth == nil {
		synth = &scriptedSynth{}
	}
	streamer := audiostream.NewStreamer(synth, 10, 4)
	return NewHandler(llm, transcriber, streamer, nil, 5*time.Second, "", true)
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshalling frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) (websocket.MessageType, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return typ, data
}

func readJSONFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	typ, data := readFrame(t, conn)
	if typ != websocket.MessageText {
		t.Fatalf("expected text frame, got binary (%d bytes)", len(data))
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decoding frame %s: %v", data, err)
	}
	return frame
}

func TestTextTurnReturnsTurnResult(t *testing.T) {
	llm := &scriptedLLM{
		decisions: []string{`{"next_agent":"pizza","selected_item":"pepperoni"}`},
		replies:   []string{"Pepperoni, got it."},
	}
	conn := dialTestSession(t, newTestHandler(llm, &fixedTranscriber{}, nil), "?voice=0")

	sendJSON(t, conn, ClientFrame{Type: ClientTypeText, Text: "a pepperoni pizza"})

	frame := readJSONFrame(t, conn)
	if frame["type"] != ServerTypeTurnResult {
		t.Fatalf("expected turn_result, got %v", frame["type"])
	}
	if frame["suspension"] != "after-pizza" {
		t.Errorf("expected suspension after-pizza, got %v", frame["suspension"])
	}
	msgs, ok := frame["messages"].([]any)
	if !ok || len(msgs) != 3 {
		t.Errorf("expected 3 history messages, got %v", frame["messages"])
	}
	slots, _ := frame["slots"].(map[string]any)
	if slots["selected_item"] != "pepperoni" {
		t.Errorf("expected selected_item slot, got %v", frame["slots"])
	}
}

func TestAudioTurnEchoesTranscriptFirst(t *testing.T) {
	llm := &scriptedLLM{
		decisions: []string{`{"next_agent":"none","response":"Hi there!"}`},
	}
	transcriber := &fixedTranscriber{text: "hello"}
	conn := dialTestSession(t, newTestHandler(llm, transcriber, nil), "?voice=0")

	sendJSON(t, conn, ClientFrame{
		Type:     ClientTypeAudio,
		AudioB64: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}),
	})

	frame := readJSONFrame(t, conn)
	if frame["type"] != ServerTypeTranscript {
		t.Fatalf("expected transcript before turn result, got %v", frame["type"])
	}
	if frame["text"] != "hello" {
		t.Errorf("expected transcript text hello, got %v", frame["text"])
	}

	frame = readJSONFrame(t, conn)
	if frame["type"] != ServerTypeTurnResult {
		t.Errorf("expected turn_result after transcript, got %v", frame["type"])
	}
}

func TestVoiceTurnStreamsReplyAudio(t *testing.T) {
	llm := &scriptedLLM{
		decisions: []string{`{"next_agent":"none","response":"Hi!"}`},
	}
	synth := &scriptedSynth{chunks: [][]byte{
		make([]byte, 20), // exactly one 10ms frame at 1kHz
		make([]byte, 10),
	}}
	conn := dialTestSession(t, newTestHandler(llm, &fixedTranscriber{}, synth), "")

	sendJSON(t, conn, ClientFrame{Type: ClientTypeText, Text: "hello"})

	if frame := readJSONFrame(t, conn); frame["type"] != ServerTypeTurnResult {
		t.Fatalf("expected turn_result, got %v", frame["type"])
	}
	if frame := readJSONFrame(t, conn); frame["type"] != ServerTypeAudioBegin {
		t.Fatalf("expected audio_begin, got %v", frame["type"])
	}
	if frame := readJSONFrame(t, conn); frame["type"] != ServerTypeAudioFirst {
		t.Fatalf("expected audio_first_chunk, got %v", frame["type"])
	}

	var audio []byte
	for {
		typ, data := readFrame(t, conn)
		if typ == websocket.MessageBinary {
			audio = append(audio, data...)
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("decoding frame: %v", err)
		}
		if frame["type"] != ServerTypeAudioEnd {
			t.Fatalf("expected audio_end after binary frames, got %v", frame["type"])
		}
		break
	}
	if len(audio) != 30 {
		t.Errorf("expected 30 bytes of PCM delivered, got %d", len(audio))
	}
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	llm := &scriptedLLM{
		decisions: []string{`{"next_agent":"none","response":"Hi!"}`},
	}
	conn := dialTestSession(t, newTestHandler(llm, &fixedTranscriber{}, nil), "?voice=0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("writing malformed frame: %v", err)
	}

	if frame := readJSONFrame(t, conn); frame["type"] != ServerTypeError {
		t.Fatalf("expected error frame, got %v", frame["type"])
	}

	// The session survives a malformed frame.
	sendJSON(t, conn, ClientFrame{Type: ClientTypeText, Text: "hello"})
	if frame := readJSONFrame(t, conn); frame["type"] != ServerTypeTurnResult {
		t.Errorf("expected turn_result after recovery, got %v", frame["type"])
	}
}

func TestUnknownFrameTypeReturnsError(t *testing.T) {
	conn := dialTestSession(t, newTestHandler(&scriptedLLM{}, &fixedTranscriber{}, nil), "?voice=0")

	sendJSON(t, conn, ClientFrame{Type: "dance"})
	frame := readJSONFrame(t, conn)
	if frame["type"] != ServerTypeError {
		t.Fatalf("expected error frame, got %v", frame["type"])
	}
}

func TestRoutingFailureReportsErrorWithoutClosing(t *testing.T) {
	llm := &scriptedLLM{jsonErr: errors.New("upstream down")}
	conn := dialTestSession(t, newTestHandler(llm, &fixedTranscriber{}, nil), "?voice=0")

	sendJSON(t, conn, ClientFrame{Type: ClientTypeText, Text: "hello"})
	frame := readJSONFrame(t, conn)
	if frame["type"] != ServerTypeError {
		t.Fatalf("expected error frame, got %v", frame["type"])
	}
	msg, _ := frame["error"].(string)
	if !strings.Contains(msg, "Routing unavailable") {
		t.Errorf("expected routing error message, got %q", msg)
	}

	// State is unchanged: the next turn routes as the first user message.
	llm.jsonErr = nil
	llm.decisions = []string{`{"next_agent":"none","response":"Hi!"}`}
	sendJSON(t, conn, ClientFrame{Type: ClientTypeText, Text: "hello again"})
	result := readJSONFrame(t, conn)
	if result["type"] != ServerTypeTurnResult {
		t.Fatalf("expected turn_result, got %v", result["type"])
	}
	msgs, _ := result["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages (failed turn left no trace), got %d", len(msgs))
	}
}

func TestTurnTimeoutLeavesStateUnchanged(t *testing.T) {
	llm := &stallingLLM{stallNext: true}
	streamer := audiostream.NewStreamer(&scriptedSynth{}, 10, 4)
	h := NewHandler(llm, &fixedTranscriber{}, streamer, nil, 50*time.Millisecond, "", true)
	conn := dialTestSession(t, h, "?voice=0")

	sendJSON(t, conn, ClientFrame{Type: ClientTypeText, Text: "hello"})
	frame := readJSONFrame(t, conn)
	if frame["type"] != ServerTypeError {
		t.Fatalf("expected error frame, got %v", frame["type"])
	}
	msg, _ := frame["error"].(string)
	if !strings.Contains(msg, "Turn timed out") {
		t.Errorf("expected timeout message, got %q", msg)
	}

	// State is unchanged: the retry routes as the first user message.
	llm.decisions = []string{`{"next_agent":"none","response":"Hi!"}`}
	sendJSON(t, conn, ClientFrame{Type: ClientTypeText, Text: "hello again"})
	result := readJSONFrame(t, conn)
	if result["type"] != ServerTypeTurnResult {
		t.Fatalf("expected turn_result, got %v", result["type"])
	}
	msgs, _ := result["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages (timed-out turn left no trace), got %d", len(msgs))
	}
}

func TestSpeakFrameStreamsWithoutTurnResult(t *testing.T) {
	llm := &scriptedLLM{
		decisions: []string{`{"next_agent":"none","response":"Hi!"}`},
	}
	synth := &scriptedSynth{chunks: [][]byte{
		make([]byte, 20),
		make([]byte, 20),
	}}
	conn := dialTestSession(t, newTestHandler(llm, &fixedTranscriber{}, synth), "")

	sendJSON(t, conn, ClientFrame{Type: ClientTypeSpeak, Text: "read this aloud"})

	// Straight to audio: no transcript, no turn_result.
	if frame := readJSONFrame(t, conn); frame["type"] != ServerTypeAudioBegin {
		t.Fatalf("expected audio_begin first, got %v", frame["type"])
	}
	if frame := readJSONFrame(t, conn); frame["type"] != ServerTypeAudioFirst {
		t.Fatalf("expected audio_first_chunk, got %v", frame["type"])
	}

	var audio int
	for {
		typ, data := readFrame(t, conn)
		if typ == websocket.MessageBinary {
			audio += len(data)
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("decoding frame: %v", err)
		}
		if frame["type"] != ServerTypeAudioEnd {
			t.Fatalf("expected audio_end after binary frames, got %v", frame["type"])
		}
		break
	}
	if audio != 40 {
		t.Errorf("expected 40 bytes of PCM delivered, got %d", audio)
	}

	// speak bypasses routing entirely: the next text turn is still the
	// session's first.
	sendJSON(t, conn, ClientFrame{Type: ClientTypeText, Text: "hello"})
	result := readJSONFrame(t, conn)
	if result["type"] != ServerTypeTurnResult {
		t.Fatalf("expected turn_result, got %v", result["type"])
	}
	msgs, _ := result["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages (speak left no history), got %d", len(msgs))
	}
}

func TestInvalidBase64AudioReturnsError(t *testing.T) {
	conn := dialTestSession(t, newTestHandler(&scriptedLLM{}, &fixedTranscriber{}, nil), "?voice=0")

	sendJSON(t, conn, ClientFrame{Type: ClientTypeAudio, AudioB64: "!!! not base64 !!!"})
	frame := readJSONFrame(t, conn)
	if frame["type"] != ServerTypeError {
		t.Fatalf("expected error frame, got %v", frame["type"])
	}
}
