package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTranscriptionModel favors the cheap, fast tier; transcription runs on
// every completed turn.
const DefaultTranscriptionModel = "gemini-2.0-flash-lite"

const transcriptPrompt = "Generate a transcript of the speech. " +
	"Please do not include any other text in the response. " +
	"If you cannot hear the speech, please only say '<Not recognizable>'."

// Transcriber turns sealed WAV audio into text through the generateContent
// REST endpoint. It satisfies bridge.Transcriber.
type Transcriber struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	// BaseURL overrides the production endpoint in tests.
	BaseURL string
}

// NewTranscriber builds a transcriber with sane timeouts.
func NewTranscriber(apiKey, model string) *Transcriber {
	if model == "" {
		model = DefaultTranscriptionModel
	}
	return &Transcriber{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		Model:      model,
	}
}

type generateContentRequest struct {
	Contents []content `json:"contents"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

// Transcribe submits the WAV container with the transcript prompt and returns
// the model's text verbatim (trimmed).
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if t.APIKey == "" {
		return "", fmt.Errorf("gemini api key missing")
	}
	if len(wav) == 0 {
		return "", fmt.Errorf("empty audio payload")
	}

	base := t.BaseURL
	if base == "" {
		base = "https://generativelanguage.googleapis.com"
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", base, t.Model, t.APIKey)

	reqBody, _ := json.Marshal(generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: transcriptPrompt},
				{InlineData: &inlineData{
					MIMEType: "audio/wav",
					Data:     base64.StdEncoding.EncodeToString(wav),
				}},
			},
		}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gemini transcription error: status=%d body=%s", resp.StatusCode, string(b))
	}

	var gr generateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", err
	}
	if len(gr.Candidates) == 0 {
		return "", fmt.Errorf("gemini transcription: empty candidates")
	}

	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}
