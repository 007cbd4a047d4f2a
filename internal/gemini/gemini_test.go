package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rappleit/protege/internal/bridge"
)

func TestParseServerMessage_TextAndAudio(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	raw := []byte(`{"serverContent":{"modelTurn":{"parts":[` +
		`{"text":"hello"},` +
		`{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + audio + `"}}]}}}`)

	unit, ok := parseServerMessage(raw)
	if !ok {
		t.Fatalf("expected routable unit")
	}
	if len(unit.Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(unit.Parts))
	}
	if unit.Parts[0].Kind != bridge.PartText || unit.Parts[0].Text != "hello" {
		t.Fatalf("bad text part: %+v", unit.Parts[0])
	}
	p := unit.Parts[1]
	if p.Kind != bridge.PartInlineData || p.MIMEType != "audio/pcm;rate=24000" || !bytes.Equal(p.Data, []byte{1, 2, 3}) {
		t.Fatalf("bad inline part: %+v", p)
	}
}

func TestParseServerMessage_TurnComplete(t *testing.T) {
	unit, ok := parseServerMessage([]byte(`{"serverContent":{"turnComplete":true}}`))
	if !ok || !unit.TurnComplete {
		t.Fatalf("turn complete not parsed: %+v ok=%v", unit, ok)
	}
}

func TestParseServerMessage_Interrupted(t *testing.T) {
	unit, ok := parseServerMessage([]byte(`{"serverContent":{"interrupted":true}}`))
	if !ok || !unit.Interrupted {
		t.Fatalf("interruption not parsed: %+v ok=%v", unit, ok)
	}
}

func TestParseServerMessage_ToolCall(t *testing.T) {
	raw := []byte(`{"toolCall":{"functionCalls":[{"id":"c1","name":"lookup","args":{"q":"volcano"}}]}}`)
	unit, ok := parseServerMessage(raw)
	if !ok || len(unit.ToolCalls) != 1 {
		t.Fatalf("tool call not parsed: %+v", unit)
	}
	tc := unit.ToolCalls[0]
	if tc.ID != "c1" || tc.Name != "lookup" || tc.Args["q"] != "volcano" {
		t.Fatalf("bad tool call: %+v", tc)
	}
}

func TestParseServerMessage_Unroutable(t *testing.T) {
	for _, raw := range []string{`{"setupComplete":{}}`, `{}`, `not-json`, `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":"%%%"}}]}}}`} {
		if unit, ok := parseServerMessage([]byte(raw)); ok {
			t.Fatalf("frame %q should not route, got %+v", raw, unit)
		}
	}
}

func TestNormalizeModel(t *testing.T) {
	if got := normalizeModel("gemini-2.0-flash-exp"); got != "models/gemini-2.0-flash-exp" {
		t.Fatalf("got %q", got)
	}
	if got := normalizeModel("models/x"); got != "models/x" {
		t.Fatalf("got %q", got)
	}
}

// A remote session that keeps streaming after the consumer stops draining
// must still shut down cleanly: Close has to release a read loop parked on a
// full replies buffer so it can exit and close the channel.
func TestLiveSession_CloseReleasesUndrainedReadLoop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`)); err != nil {
			return
		}
		frame := []byte(`{"serverContent":{"modelTurn":{"parts":[{"text":"x"}]}}}`)
		for i := 0; i < 80; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		// Hold the connection open until the client tears it down.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	s, err := DialLive(context.Background(), LiveConfig{APIKey: "key", Model: "m", Endpoint: endpoint})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	// Give the read loop time to fill the buffer and park on the next send.
	time.Sleep(100 * time.Millisecond)
	_ = s.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Receive():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("read loop did not exit after Close")
		}
	}
}

func TestTranscriber_NoKey(t *testing.T) {
	tr := NewTranscriber("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := tr.Transcribe(ctx, []byte{1}); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestTranscriber_EmptyAudio(t *testing.T) {
	tr := NewTranscriber("key", "")
	if _, err := tr.Transcribe(context.Background(), nil); err == nil {
		t.Fatalf("expected error with empty audio")
	}
}

func TestTranscriber_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req generateContentRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
			t.Errorf("unexpected request shape: %+v", req)
		}
		if req.Contents[0].Parts[1].InlineData.MIMEType != "audio/wav" {
			t.Errorf("mime = %q", req.Contents[0].Parts[1].InlineData.MIMEType)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  the sky is blue \n"}]}}]}`))
	}))
	defer srv.Close()

	tr := NewTranscriber("key", "")
	tr.BaseURL = srv.URL
	got, err := tr.Transcribe(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got != "the sky is blue" {
		t.Fatalf("got %q", got)
	}
}

func TestTranscriber_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("not-json")) }},
		{"empty_candidates", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"candidates":[]}`)) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			tr := NewTranscriber("key", "")
			tr.BaseURL = srv.URL
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := tr.Transcribe(ctx, []byte{1}); err == nil {
				t.Fatalf("expected error; got nil")
			}
		})
	}
}
