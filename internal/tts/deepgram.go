package tts

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/rappleit/protege/internal/audio"
)

const deepgramSampleRate = 48000

// DeepgramClient voices previews through the Aura speak WebSocket. Unlike the
// voice-design flow, voices here are fixed models, so persona style maps to a
// model choice rather than a designed voice.
type DeepgramClient struct {
	apiKey   string
	model    string
	encoding string
}

// NewDeepgramClient builds a client; the model defaults to a neutral voice.
func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{apiKey: apiKey, model: model, encoding: "linear16"}
}

// PreviewVoice synthesizes the sample text and returns it as a WAV container.
// The voice description is ignored; the configured model speaks all personas.
func (d *DeepgramClient) PreviewVoice(ctx context.Context, personaID, voiceDescription, sampleText string) ([]byte, string, error) {
	if d.apiKey == "" {
		return nil, "", fmt.Errorf("deepgram: API key missing")
	}
	if sampleText == "" {
		return nil, "", fmt.Errorf("deepgram: sample text is empty")
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   d.encoding,
		SampleRate: deepgramSampleRate,
	}

	var mu sync.Mutex
	var pcm []byte
	var lastRecvUnix int64
	var seenAudio int32

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		mu.Lock()
		pcm = append(pcm, data...)
		mu.Unlock()
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, "", fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return nil, "", fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(sampleText); err != nil {
		return nil, "", fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		return nil, "", fmt.Errorf("deepgram: flush: %w", err)
	}

	// Collect until the stream goes idle or the overall deadline passes.
	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(12 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > idleWindow {
					mu.Lock()
					defer mu.Unlock()
					if len(pcm) == 0 {
						return nil, "", fmt.Errorf("deepgram: no audio produced")
					}
					return audio.EncodeWAV(pcm, deepgramSampleRate), "audio/wav", nil
				}
			}
			if time.Now().After(deadline) {
				return nil, "", fmt.Errorf("deepgram: synthesis timed out")
			}
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
