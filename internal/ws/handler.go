package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/avoliek/slicetalk/internal/audiostream"
	"github.com/avoliek/slicetalk/internal/dialogue"
	"github.com/avoliek/slicetalk/internal/domain"
	"github.com/avoliek/slicetalk/internal/identity"
	"github.com/avoliek/slicetalk/internal/shared"
	"github.com/avoliek/slicetalk/internal/store"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// maxAudioPayload bounds one inbound audio frame (base64-decoded).
const maxAudioPayload = 20 * 1024 * 1024

// Transcriber is the speech-to-text contract the handler depends on.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Handler owns the WebSocket endpoint. One instance serves all connections;
// per-connection state lives in the session machine created per accept.
type Handler struct {
	llm           dialogue.Completer
	transcriber   Transcriber
	streamer      *audiostream.Streamer
	repo          store.Repository
	turnTimeout   time.Duration
	allowedOrigin string
	isDev         bool
}

// NewHandler creates the connection handler.
func NewHandler(llm dialogue.Completer, transcriber Transcriber, streamer *audiostream.Streamer, repo store.Repository, turnTimeout time.Duration, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		llm:           llm,
		transcriber:   transcriber,
		streamer:      streamer,
		repo:          repo,
		turnTimeout:   turnTimeout,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsSink adapts the connection to the audio pipeline's sink. Control frames
// are JSON text messages; PCM frames are binary messages.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSink) AudioBegin(ctx context.Context, format string, sampleRate int) error {
	return s.writeJSON(ctx, AudioBeginFrame{Type: ServerTypeAudioBegin, Format: format, SampleRate: sampleRate})
}

func (s *wsSink) AudioFirstChunk(ctx context.Context) error {
	return s.writeJSON(ctx, AudioMarkerFrame{Type: ServerTypeAudioFirst})
}

func (s *wsSink) AudioFrame(ctx context.Context, frame []byte) error {
	return s.conn.Write(ctx, websocket.MessageBinary, frame)
}

func (s *wsSink) AudioError(ctx context.Context, message string) error {
	return s.writeJSON(ctx, ErrorFrame{Type: ServerTypeError, Error: message})
}

func (s *wsSink) AudioEnd(ctx context.Context) error {
	return s.writeJSON(ctx, AudioMarkerFrame{Type: ServerTypeAudioEnd})
}

func (s *wsSink) AudioFallback(ctx context.Context, wav []byte, sampleRate int) error {
	return s.writeJSON(ctx, AudioFallbackFrame{
		Type:       ServerTypeAudioFallback,
		Format:     "wav",
		SampleRate: sampleRate,
		AudioB64:   base64.StdEncoding.EncodeToString(wav),
	})
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callerID := identity.CallerIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "caller_id", callerID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "caller_id", callerID)
		}
	}()
	conn.SetReadLimit(maxAudioPayload * 2)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	threadID := uuid.NewString()
	machine := dialogue.NewMachine(h.llm, threadID, callerID)
	voice := r.URL.Query().Get("voice") != "0"

	slog.Info("Session opened", "thread_id", threadID, "caller_id", callerID, "voice", voice, "ip", r.RemoteAddr)
	h.touchSession(machine.Session(), 0)

	c := &connection{
		handler: h,
		conn:    conn,
		sink:    &wsSink{conn: conn},
		machine: machine,
		voice:   voice,
	}
	c.readLoop(ctx)

	slog.Info("Session closed", "thread_id", threadID, "turns", c.turns)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// touchSession refreshes the session summary row asynchronously so the
// audit store never blocks the I/O path.
func (h *Handler) touchSession(sess *domain.Session, turns int) {
	if h.repo == nil {
		return
	}
	rec := &store.SessionRecord{
		ThreadID:   sess.ThreadID,
		CallerID:   sess.CallerID,
		StartedAt:  sess.StartedAt,
		LastSeenAt: time.Now(),
		Turns:      turns,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpsertSession(ctx, rec); err != nil {
			slog.Warn("Failed to upsert session record", "thread_id", rec.ThreadID, "error", err)
		}
	}()
}

func (h *Handler) recordTurn(rec *store.TurnRecord) {
	if h.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.RecordTurn(ctx, rec); err != nil {
			slog.Warn("Failed to record turn", "thread_id", rec.ThreadID, "seq", rec.Seq, "error", err)
		}
	}()
}

// connection is the per-connection read/dispatch loop state. It is driven by
// a single goroutine; the audio producer is the only concurrent helper and
// communicates through the pipeline's bounded queue.
type connection struct {
	handler *Handler
	conn    *websocket.Conn
	sink    *wsSink
	machine *dialogue.Machine
	voice   bool
	turns   int
}

func (c *connection) readLoop(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "thread_id", c.machine.Session().ThreadID)
			} else if !shared.IsCancellation(err) && !errors.Is(err, context.DeadlineExceeded) {
				slog.Warn("WebSocket read error", "error", err, "thread_id", c.machine.Session().ThreadID)
			}
			return
		}
		if typ != websocket.MessageText {
			c.sendError(ctx, "binary frames are not accepted; send JSON text frames")
			continue
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError(ctx, "Invalid JSON message")
			continue
		}

		switch frame.Type {
		case ClientTypeAudio:
			c.handleAudio(ctx, frame)
		case ClientTypeText:
			c.handleTurn(ctx, frame.Text)
		case ClientTypeSpeak:
			c.handleSpeak(ctx, frame.Text)
		default:
			c.sendError(ctx, "Unknown type: "+frame.Type)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (c *connection) handleAudio(ctx context.Context, frame ClientFrame) {
	audio, err := base64.StdEncoding.DecodeString(frame.AudioB64)
	if err != nil {
		c.sendError(ctx, "Invalid base64 audio payload")
		return
	}
	if len(audio) == 0 || len(audio) > maxAudioPayload {
		c.sendError(ctx, "Audio payload empty or too large")
		return
	}

	transcript, err := c.handler.transcriber.Transcribe(ctx, audio)
	if err != nil {
		if shared.IsCancellation(err) {
			return
		}
		slog.Warn("Transcription failed", "thread_id", c.machine.Session().ThreadID, "error", err)
		c.sendError(ctx, "Transcription failed: "+err.Error())
		return
	}

	// Echo the transcript before the turn runs so the client can render it
	// immediately.
	c.writeJSON(ctx, TranscriptFrame{Type: ServerTypeTranscript, Text: transcript})
	c.handleTurn(ctx, transcript)
}

func (c *connection) handleTurn(ctx context.Context, text string) {
	if text == "" {
		c.sendError(ctx, "Empty text")
		return
	}
	sess := c.machine.Session()
	seq := c.turns + 1

	turnCtx, cancel := context.WithTimeout(ctx, c.handler.turnTimeout)
	result, err := c.machine.ProcessTurn(turnCtx, text)
	cancel()
	if err != nil {
		if shared.IsCancellation(err) {
			return
		}
		c.turns = seq
		c.handler.recordTurn(&store.TurnRecord{
			ID:        uuid.NewString(),
			ThreadID:  sess.ThreadID,
			Seq:       seq,
			UserText:  text,
			Error:     err.Error(),
			CreatedAt: time.Now(),
		})

		var routingErr *dialogue.RoutingError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			c.sendError(ctx, "Turn timed out; session state is unchanged, please retry")
		case errors.As(err, &routingErr):
			c.sendError(ctx, "Routing unavailable: "+routingErr.Error())
		default:
			c.sendError(ctx, err.Error())
		}
		return
	}

	c.turns = seq
	c.handler.recordTurn(&store.TurnRecord{
		ID:         uuid.NewString(),
		ThreadID:   sess.ThreadID,
		Seq:        seq,
		UserText:   text,
		Target:     string(result.Target),
		Reply:      result.Reply,
		Slots:      sess.SlotsCopy(),
		Suspension: string(result.Suspension),
		CreatedAt:  time.Now(),
	})
	c.handler.touchSession(sess, seq)

	c.writeJSON(ctx, newTurnResultFrame(sess))

	if c.voice && result.Reply != "" {
		c.streamReply(ctx, result.Reply)
	}
}

func (c *connection) handleSpeak(ctx context.Context, text string) {
	if text == "" {
		c.sendError(ctx, "Empty text")
		return
	}
	c.streamReply(ctx, text)
}

func (c *connection) streamReply(ctx context.Context, text string) {
	err := c.handler.streamer.Stream(ctx, text, c.sink)
	if err == nil {
		return
	}
	if shared.IsCancellation(err) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	var pipeErr *audiostream.PipelineError
	if errors.As(err, &pipeErr) {
		// The pipeline already delivered the error frame and the terminal
		// marker; nothing else to send.
		slog.Warn("Audio stream failed upstream", "thread_id", c.machine.Session().ThreadID, "error", pipeErr)
		return
	}
	slog.Warn("Audio stream aborted", "thread_id", c.machine.Session().ThreadID, "error", err)
}

func (c *connection) sendError(ctx context.Context, msg string) {
	c.writeJSON(ctx, ErrorFrame{Type: ServerTypeError, Error: msg})
}

func (c *connection) writeJSON(ctx context.Context, v any) {
	if err := c.sink.writeJSON(ctx, v); err != nil {
		if !shared.IsCancellation(err) {
			slog.Debug("WebSocket write failed", "thread_id", c.machine.Session().ThreadID, "error", err)
		}
	}
}
