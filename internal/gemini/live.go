package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rappleit/protege/internal/bridge"
)

const liveHost = "generativelanguage.googleapis.com"
const livePath = "/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"

// LiveConfig parameterizes one realtime session.
type LiveConfig struct {
	APIKey            string
	Model             string
	SystemInstruction string
	// ResponseModalities defaults to audio-only when empty.
	ResponseModalities []string
	// Endpoint overrides the production endpoint in tests.
	Endpoint string
}

// LiveSession is an open bidirectional streaming connection to the
// generative service. It satisfies bridge.ModelSession.
type LiveSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	replies chan bridge.ReplyUnit
	done    chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// Wire types for the bidi protocol. The service speaks camelCase JSON.

type liveSetup struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model             string            `json:"model"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete"`
	ServerContent *serverContent `json:"serverContent"`
	ToolCall      *toolCall      `json:"toolCall"`
}

type serverContent struct {
	ModelTurn    *content `json:"modelTurn"`
	TurnComplete bool     `json:"turnComplete"`
	Interrupted  bool     `json:"interrupted"`
}

type toolCall struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// DialLive opens a realtime session: connect, send setup, wait for the
// setupComplete ack, then start the read loop.
func DialLive(ctx context.Context, cfg LiveConfig) (*LiveSession, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini live model is empty")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		u := url.URL{Scheme: "wss", Host: liveHost, Path: livePath}
		q := u.Query()
		q.Set("key", cfg.APIKey)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("gemini live dial failed: status=%d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("gemini live dial failed: %w", err)
	}

	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{"AUDIO"}
	}
	setup := liveSetup{Setup: setupPayload{
		Model:            normalizeModel(cfg.Model),
		GenerationConfig: &generationConfig{ResponseModalities: modalities},
	}}
	if cfg.SystemInstruction != "" {
		setup.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gemini live setup write failed: %w", err)
	}

	// The first server frame must acknowledge setup before any media flows.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gemini live setup ack read failed: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	var ack serverMessage
	if err := json.Unmarshal(raw, &ack); err != nil || ack.SetupComplete == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gemini live: expected setupComplete, got %s", string(raw))
	}

	s := &LiveSession{
		conn:    conn,
		replies: make(chan bridge.ReplyUnit, 64),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	log.Printf("gemini live session established (model=%s)", cfg.Model)
	return s, nil
}

func normalizeModel(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// SendMedia forwards one media chunk on the realtime input channel.
func (s *LiveSession) SendMedia(ctx context.Context, in bridge.MediaInput) error {
	msg := realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []mediaChunk{{
			MIMEType: in.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(in.Data),
		}},
	}}
	return s.writeJSON(ctx, msg)
}

// SendText submits a user text turn and marks it complete so the model
// responds immediately.
func (s *LiveSession) SendText(ctx context.Context, text string) error {
	msg := clientContentMessage{ClientContent: clientContent{
		Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: true,
	}}
	return s.writeJSON(ctx, msg)
}

// SendToolResponses answers pending function calls.
func (s *LiveSession) SendToolResponses(ctx context.Context, responses []bridge.ToolResponse) error {
	frs := make([]functionResponse, 0, len(responses))
	for _, r := range responses {
		frs = append(frs, functionResponse{ID: r.ID, Name: r.Name, Response: r.Result})
	}
	return s.writeJSON(ctx, toolResponseMessage{ToolResponse: toolResponse{FunctionResponses: frs}})
}

func (s *LiveSession) writeJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Receive exposes the stream of parsed reply units. The channel closes when
// the remote side ends; Err then reports the terminal error, if any.
func (s *LiveSession) Receive() <-chan bridge.ReplyUnit { return s.replies }

// Err returns the terminal read error, nil for a clean close.
func (s *LiveSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close tears the connection down. Safe to call more than once. Closing the
// done channel also releases a read loop parked on a full replies buffer.
func (s *LiveSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

func (s *LiveSession) readLoop() {
	defer close(s.replies)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
			return
		}
		unit, ok := parseServerMessage(raw)
		if !ok {
			continue
		}
		select {
		case s.replies <- unit:
		case <-s.done:
			// Nobody is draining anymore; dropping the unit is fine, the
			// session is being torn down.
			return
		}
	}
}

// parseServerMessage converts one raw server frame into a reply unit. Frames
// carrying nothing routable report ok=false.
func parseServerMessage(raw []byte) (bridge.ReplyUnit, bool) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("gemini live: unparseable server frame: %v", err)
		return bridge.ReplyUnit{}, false
	}

	var unit bridge.ReplyUnit
	routable := false

	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			unit.ToolCalls = append(unit.ToolCalls, bridge.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		routable = len(unit.ToolCalls) > 0
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				switch {
				case p.InlineData != nil:
					data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
					if err != nil {
						log.Printf("gemini live: bad inline data (%s): %v", p.InlineData.MIMEType, err)
						continue
					}
					unit.Parts = append(unit.Parts, bridge.Part{
						Kind:     bridge.PartInlineData,
						MIMEType: p.InlineData.MIMEType,
						Data:     data,
					})
				case p.Text != "":
					unit.Parts = append(unit.Parts, bridge.Part{Kind: bridge.PartText, Text: p.Text})
				}
			}
		}
		unit.TurnComplete = sc.TurnComplete
		unit.Interrupted = sc.Interrupted
		routable = routable || len(unit.Parts) > 0 || sc.TurnComplete || sc.Interrupted
	}

	return unit, routable
}
