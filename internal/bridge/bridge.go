package bridge

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rappleit/protege/internal/audio"
	"github.com/rappleit/protege/internal/media"
)

// TurnState tracks where the session is in the current exchange.
type TurnState int

const (
	// Listening is the default: user audio accumulates for transcription.
	Listening TurnState = iota
	// AssistantResponding: assistant audio is arriving; user-audio
	// accumulation is suppressed (raw forwarding never stops).
	AssistantResponding
	// Completing: the end-of-turn pipeline is running.
	Completing
)

func (s TurnState) String() string {
	switch s {
	case Listening:
		return "listening"
	case AssistantResponding:
		return "assistant-responding"
	case Completing:
		return "completing"
	}
	return "unknown"
}

// Placeholder strings substituted when transcription fails. The conversation
// must continue regardless, so these stand in for the lost utterance.
const (
	userAudioPlaceholder      = "User audio could not be processed."
	assistantAudioPlaceholder = "Assistant audio could not be processed."
)

// imageContext retains the last image seen per subtype within the current
// turn, only to annotate the turn record. Cleared on turn completion.
type imageContext struct {
	webcam     []byte
	whiteboard []byte
}

func (ic *imageContext) note() string {
	var shared []string
	if ic.webcam != nil {
		shared = append(shared, "webcam image")
	}
	if ic.whiteboard != nil {
		shared = append(shared, "whiteboard content")
	}
	if len(shared) == 0 {
		return ""
	}
	return "User shared: " + strings.Join(shared, ", ")
}

// Config carries the collaborators a Bridge needs. Transcriber, Memory,
// Archiver and Tools may be nil; the corresponding pipeline steps are skipped.
type Config struct {
	SessionID   string
	SubjectID   string
	Client      ClientConn
	Model       ModelSession
	Transcriber Transcriber
	Memory      MemorySink
	Archiver    Archiver
	Tools       ToolHandler
}

// Bridge pumps one client connection against one remote model session and
// drives the turn lifecycle. Two goroutines share it: the inbound pump appends
// user audio and forwards input; the outbound pump appends assistant audio and
// runs turn completion. Fields that both touch are guarded by mu; the
// accumulators carry their own locks.
type Bridge struct {
	sessionID   string
	subjectID   string
	client      ClientConn
	model       ModelSession
	transcriber Transcriber
	memory      MemorySink
	archiver    Archiver
	tools       ToolHandler

	userAudio      *audio.Accumulator
	assistantAudio *audio.Accumulator

	writeMu sync.Mutex // serializes client writes from both pumps

	mu        sync.Mutex
	state     TurnState
	images    imageContext
	turn      int
	setupSeen bool
}

// New constructs a Bridge for one session.
func New(cfg Config) *Bridge {
	return &Bridge{
		sessionID:      cfg.SessionID,
		subjectID:      cfg.SubjectID,
		client:         cfg.Client,
		model:          cfg.Model,
		transcriber:    cfg.Transcriber,
		memory:         cfg.Memory,
		archiver:       cfg.Archiver,
		tools:          cfg.Tools,
		userAudio:      audio.NewAccumulator(audio.UserSampleRate),
		assistantAudio: audio.NewAccumulator(audio.AssistantSampleRate),
		state:          Listening,
	}
}

// State returns the current turn state.
func (b *Bridge) State() TurnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Run drives both pumps until either side closes, then joins them. The model
// session handle is released before returning; the client connection is closed
// to unblock its reader when the remote side ends first.
func (b *Bridge) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock both pumps when either finishes or the caller cancels.
	go func() {
		<-ctx.Done()
		_ = b.model.Close()
		_ = b.client.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		b.pumpInbound(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		b.pumpOutbound(ctx)
	}()
	wg.Wait()
	log.Printf("[%s] bridge closed", b.sessionID)
}

// send writes one frame to the client. Both pumps write, so it is serialized.
func (b *Bridge) send(v any) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.client.WriteJSON(v); err != nil {
		log.Printf("[%s] client write failed: %v", b.sessionID, err)
	}
}

// pumpInbound moves client frames toward the remote session.
func (b *Bridge) pumpInbound(ctx context.Context) {
	for {
		mt, payload, err := b.client.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[%s] client read error: %v", b.sessionID, err)
			}
			return
		}

		var frame media.Frame
		if mt == websocket.BinaryMessage {
			frame = media.DecodeBinary(payload)
		} else {
			frame = media.DecodeText(payload)
		}

		if frame.Setup != nil {
			b.mu.Lock()
			first := !b.setupSeen
			b.setupSeen = true
			b.mu.Unlock()
			if first {
				log.Printf("[%s] received session setup options", b.sessionID)
			}
			continue
		}

		for _, ch := range frame.Chunks {
			b.routeClientChunk(ctx, ch)
		}
		if frame.SessionData != nil {
			b.handleSessionData(ctx, frame.SessionData)
		}
	}
}

// routeClientChunk applies one decoded chunk: accumulate/forward audio, retain
// and forward images, forward text.
func (b *Bridge) routeClientChunk(ctx context.Context, ch media.Chunk) {
	switch ch.Kind {
	case media.KindAudio:
		// Accumulate only while listening; forwarding to the remote session is
		// unconditional. The model, not this bridge, governs turn-taking.
		if b.State() == Listening {
			b.userAudio.Append(ch.Data)
		}
		if err := b.model.SendMedia(ctx, MediaInput{MIMEType: "audio/pcm", Data: ch.Data}); err != nil {
			log.Printf("[%s] forward audio failed: %v", b.sessionID, err)
		}
	case media.KindImage:
		b.retainImage(ch.Subtype, ch.Data)
		if err := b.model.SendMedia(ctx, MediaInput{MIMEType: ch.MIMEType, Data: ch.Data, Subtype: ch.Subtype}); err != nil {
			log.Printf("[%s] forward %s image failed: %v", b.sessionID, ch.Subtype, err)
		}
	case media.KindText:
		if ch.Text == "" {
			return
		}
		if err := b.model.SendText(ctx, ch.Text); err != nil {
			log.Printf("[%s] forward text failed: %v", b.sessionID, err)
		}
	}
}

func (b *Bridge) retainImage(subtype string, data []byte) {
	b.mu.Lock()
	switch subtype {
	case "webcam":
		b.images.webcam = data
	case "whiteboard":
		b.images.whiteboard = data
	}
	b.mu.Unlock()
}

// handleSessionData extracts a whiteboard snapshot from a sessionData
// envelope, forwards it, and acknowledges receipt to the client.
func (b *Bridge) handleSessionData(ctx context.Context, sd *media.SessionData) {
	if sd.Whiteboard != "" {
		raw, err := media.DecodeWhiteboard(sd.Whiteboard)
		if err != nil {
			log.Printf("[%s] whiteboard decode failed: %v", b.sessionID, err)
		} else {
			b.retainImage("whiteboard", raw)
			if err := b.model.SendMedia(ctx, MediaInput{MIMEType: "image/png", Data: raw, Subtype: "whiteboard"}); err != nil {
				log.Printf("[%s] forward whiteboard failed: %v", b.sessionID, err)
			}
		}
	}
	if n := len(sd.Messages); n > 0 {
		log.Printf("[%s] session data carries %d prior messages", b.sessionID, n)
	}
	b.send(media.StatusFrame{Status: "session_data_received", Success: true})
}

// pumpOutbound moves remote reply units toward the client and drives turn
// completion.
func (b *Bridge) pumpOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case unit, ok := <-b.model.Receive():
			if !ok {
				if err := b.model.Err(); err != nil {
					log.Printf("[%s] remote session failed: %v", b.sessionID, err)
					b.send(media.ErrorFrame{Error: fmt.Sprintf("remote session error: %v", err)})
				}
				return
			}
			b.handleReplyUnit(ctx, unit)
		}
	}
}

func (b *Bridge) handleReplyUnit(ctx context.Context, unit ReplyUnit) {
	if len(unit.ToolCalls) > 0 {
		b.handleToolCalls(ctx, unit.ToolCalls)
	}
	if unit.Interrupted {
		log.Printf("[%s] model reports interruption", b.sessionID)
	}
	for _, part := range unit.Parts {
		switch part.Kind {
		case PartText:
			if part.Text != "" {
				b.send(media.TextFrame{Text: part.Text})
			}
		case PartInlineData:
			b.routeInlineData(part)
		}
	}
	if unit.TurnComplete {
		b.completeTurn(ctx)
	}
}

func (b *Bridge) handleToolCalls(ctx context.Context, calls []ToolCall) {
	if b.tools == nil {
		for _, c := range calls {
			log.Printf("[%s] no tool handler registered, skipping call %q", b.sessionID, c.Name)
		}
		return
	}
	responses := b.tools.Handle(ctx, calls)
	if len(responses) == 0 {
		return
	}
	if err := b.model.SendToolResponses(ctx, responses); err != nil {
		log.Printf("[%s] send tool responses failed: %v", b.sessionID, err)
	}
}

func (b *Bridge) routeInlineData(part Part) {
	switch {
	case strings.HasPrefix(part.MIMEType, "audio/"):
		// First assistant audio of the turn suppresses further user-audio
		// accumulation until turn completion.
		b.mu.Lock()
		if b.state == Listening {
			b.state = AssistantResponding
			log.Printf("[%s] assistant responding, user accumulation suppressed", b.sessionID)
		}
		b.mu.Unlock()
		b.send(media.EncodeAudio(part.Data))
		b.assistantAudio.Append(part.Data)
	case strings.HasPrefix(part.MIMEType, "image/"):
		b.send(media.EncodeImage(part.Data, part.MIMEType))
	default:
		log.Printf("[%s] ignoring inline data with mime type %q", b.sessionID, part.MIMEType)
	}
}

// completeTurn runs the end-of-turn pipeline: seal and transcribe both
// directions, emit the turn record, archive audio, and reset for the next
// turn. Every step is best-effort; a failure in one never aborts the rest.
func (b *Bridge) completeTurn(ctx context.Context) {
	b.mu.Lock()
	b.state = Completing
	b.turn++
	turn := b.turn
	note := b.images.note()
	b.mu.Unlock()

	var userText, assistantText string

	if wav := b.userAudio.Seal(); wav != nil {
		userText = b.transcribe(ctx, wav, userAudioPlaceholder)
		b.archive(ctx, turn, "user", wav)
	}

	if wav := b.assistantAudio.Seal(); wav != nil {
		assistantText = b.transcribe(ctx, wav, assistantAudioPlaceholder)
		// The assistant's spoken content is not otherwise visible as text,
		// so surface the transcript to the client.
		if assistantText != "" && assistantText != assistantAudioPlaceholder {
			b.send(media.TextFrame{Text: assistantText})
		}
		b.archive(ctx, turn, "assistant", wav)
	}

	rec := buildTurnRecord(userText, assistantText, note)
	if len(rec.Messages) > 0 && b.memory != nil {
		if id, err := b.memory.Record(ctx, rec, b.subjectID); err != nil {
			log.Printf("[%s] memory write failed: %v", b.sessionID, err)
		} else {
			log.Printf("[%s] turn %d recorded (%d messages, id=%s)", b.sessionID, turn, len(rec.Messages), id)
		}
	}

	b.userAudio.Reset()
	b.assistantAudio.Reset()
	b.mu.Lock()
	b.images = imageContext{}
	b.state = Listening
	b.mu.Unlock()
}

func (b *Bridge) transcribe(ctx context.Context, wav []byte, placeholder string) string {
	if b.transcriber == nil {
		return placeholder
	}
	text, err := b.transcriber.Transcribe(ctx, wav)
	if err != nil {
		log.Printf("[%s] transcription failed: %v", b.sessionID, err)
		return placeholder
	}
	return strings.TrimSpace(text)
}

func (b *Bridge) archive(ctx context.Context, turn int, role string, wav []byte) {
	if b.archiver == nil {
		return
	}
	key := fmt.Sprintf("sessions/%s/turn_%d_%s.wav", b.sessionID, turn, role)
	go func() {
		if err := b.archiver.Store(ctx, key, wav); err != nil {
			log.Printf("[%s] audio archive failed for %s: %v", b.sessionID, key, err)
		}
	}()
}

func buildTurnRecord(userText, assistantText, note string) TurnRecord {
	var rec TurnRecord
	if userText != "" {
		rec.Messages = append(rec.Messages, TurnMessage{Role: "user", Content: userText})
	}
	if assistantText != "" {
		rec.Messages = append(rec.Messages, TurnMessage{Role: "assistant", Content: assistantText})
	}
	if note != "" {
		rec.Messages = append(rec.Messages, TurnMessage{Role: "system", Content: note})
	}
	return rec
}
