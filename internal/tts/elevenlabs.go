package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// ElevenLabsClient designs a voice per persona from its style description,
// keeps the owned voice ID in a registry, and synthesizes previews with it.
type ElevenLabsClient struct {
	HTTPClient *http.Client
	APIKey     string
	// BaseURL overrides the production endpoint in tests.
	BaseURL  string
	registry *VoiceRegistry
}

// NewElevenLabsClient builds a client sharing the given registry.
func NewElevenLabsClient(apiKey string, registry *VoiceRegistry) *ElevenLabsClient {
	if registry == nil {
		registry = NewVoiceRegistry()
	}
	return &ElevenLabsClient{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		APIKey:     apiKey,
		registry:   registry,
	}
}

type voicePreviewRequest struct {
	VoiceDescription string `json:"voice_description"`
	Text             string `json:"text"`
}

type voicePreview struct {
	GeneratedVoiceID string `json:"generated_voice_id"`
	AudioBase64      string `json:"audio_base_64"`
}

type voicePreviewResponse struct {
	Previews []voicePreview `json:"previews"`
}

type createVoiceRequest struct {
	VoiceName        string `json:"voice_name"`
	VoiceDescription string `json:"voice_description"`
	GeneratedVoiceID string `json:"generated_voice_id"`
}

type createVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// PreviewVoice returns an MP3 clip of the persona speaking the sample text.
// The first call for a persona designs and claims a voice; later calls reuse
// the owned voice ID.
func (c *ElevenLabsClient) PreviewVoice(ctx context.Context, personaID, voiceDescription, sampleText string) ([]byte, string, error) {
	if c.APIKey == "" {
		return nil, "", fmt.Errorf("elevenlabs api key missing")
	}

	voiceID, ok := c.registry.Lookup(personaID)
	if !ok {
		id, err := c.designVoice(ctx, personaID, voiceDescription, sampleText)
		if err != nil {
			return nil, "", err
		}
		c.registry.Put(personaID, id)
		voiceID = id
		log.Printf("elevenlabs: designed voice %s for persona %s", voiceID, personaID)
	}

	audio, err := c.synthesize(ctx, voiceID, sampleText)
	if err != nil {
		return nil, "", err
	}
	return audio, "audio/mpeg", nil
}

// designVoice runs the text-to-voice flow: generate previews from the style
// description, then claim the first preview as an owned voice.
func (c *ElevenLabsClient) designVoice(ctx context.Context, personaID, voiceDescription, sampleText string) (string, error) {
	var previews voicePreviewResponse
	err := c.postJSON(ctx, "/v1/text-to-voice/create-previews", voicePreviewRequest{
		VoiceDescription: voiceDescription,
		Text:             sampleText,
	}, &previews)
	if err != nil {
		return "", fmt.Errorf("create voice previews: %w", err)
	}
	if len(previews.Previews) == 0 {
		return "", fmt.Errorf("elevenlabs returned no voice previews")
	}

	var created createVoiceResponse
	err = c.postJSON(ctx, "/v1/text-to-voice/create-voice-from-preview", createVoiceRequest{
		VoiceName:        "protege-" + personaID,
		VoiceDescription: voiceDescription,
		GeneratedVoiceID: previews.Previews[0].GeneratedVoiceID,
	}, &created)
	if err != nil {
		return "", fmt.Errorf("create voice from preview: %w", err)
	}
	if created.VoiceID == "" {
		return "", fmt.Errorf("elevenlabs returned empty voice id")
	}
	return created.VoiceID, nil
}

func (c *ElevenLabsClient) synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	u := url.URL{Path: "/v1/text-to-speech/" + voiceID}
	q := u.Query()
	q.Set("output_format", "mp3_44100_128")
	u.RawQuery = q.Encode()

	body, _ := json.Marshal(speechRequest{Text: text, ModelID: "eleven_flash_v2_5"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs speech request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs speech error: status=%d body=%s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

func (c *ElevenLabsClient) postJSON(ctx context.Context, path string, body, out any) error {
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elevenlabs error: status=%d body=%s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *ElevenLabsClient) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://api.elevenlabs.io"
}
