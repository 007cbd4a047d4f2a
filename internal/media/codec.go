package media

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Kind identifies the payload carried by a Chunk.
type Kind int

const (
	KindText Kind = iota
	KindAudio
	KindImage
)

// Chunk is one decoded unit of inbound media. Audio and image payloads are
// raw bytes (base64 already stripped); text payloads live in Text.
type Chunk struct {
	Kind     Kind
	MIMEType string
	Text     string
	Data     []byte
	// Subtype tags the origin of an image chunk: "webcam", "whiteboard" or "unknown".
	Subtype string
}

// SessionData carries a whiteboard snapshot and/or prior message log pushed by
// the client alongside the realtime stream.
type SessionData struct {
	Whiteboard string            `json:"whiteboard"`
	Messages   []json.RawMessage `json:"messages"`
}

// Frame is the result of decoding one inbound client message. At most one of
// Setup/SessionData is set; Chunks may hold zero or more media chunks.
type Frame struct {
	Setup       json.RawMessage
	Chunks      []Chunk
	SessionData *SessionData
}

type envelope struct {
	Setup         json.RawMessage `json:"setup"`
	RealtimeInput *realtimeInput  `json:"realtime_input"`
	Text          *string         `json:"text"`
	SessionData   *SessionData    `json:"sessionData"`
}

type realtimeInput struct {
	MediaChunks []wireChunk `json:"media_chunks"`
}

type wireChunk struct {
	MIMEType string         `json:"mime_type"`
	Data     string         `json:"data"`
	Metadata *chunkMetadata `json:"metadata"`
}

type chunkMetadata struct {
	Type string `json:"type"`
}

// DecodeBinary treats a raw binary client frame as a single PCM audio chunk.
func DecodeBinary(payload []byte) Frame {
	return Frame{Chunks: []Chunk{{Kind: KindAudio, MIMEType: "audio/pcm", Data: payload}}}
}

// DecodeText decodes a text client frame. Structured envelopes are parsed into
// their chunks; anything that fails to parse as JSON degrades to a single
// plain-text chunk carrying the frame verbatim. This path never fails: plain
// text is a valid input, not an error.
func DecodeText(payload []byte) Frame {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Frame{Chunks: []Chunk{{Kind: KindText, Text: string(payload)}}}
	}

	switch {
	case len(env.Setup) > 0:
		return Frame{Setup: env.Setup}
	case env.RealtimeInput != nil:
		return Frame{Chunks: decodeMediaChunks(env.RealtimeInput.MediaChunks)}
	case env.Text != nil:
		return Frame{Chunks: []Chunk{{Kind: KindText, Text: *env.Text}}}
	case env.SessionData != nil:
		return Frame{SessionData: env.SessionData}
	}
	// Valid JSON with no recognized field: nothing to route.
	return Frame{}
}

func decodeMediaChunks(in []wireChunk) []Chunk {
	chunks := make([]Chunk, 0, len(in))
	for _, wc := range in {
		switch {
		case wc.MIMEType == "audio/pcm":
			raw, err := base64.StdEncoding.DecodeString(wc.Data)
			if err != nil {
				// Malformed audio chunk: drop it, the stream continues.
				continue
			}
			chunks = append(chunks, Chunk{Kind: KindAudio, MIMEType: wc.MIMEType, Data: raw})
		case strings.HasPrefix(wc.MIMEType, "image/"):
			raw, err := base64.StdEncoding.DecodeString(StripDataURL(wc.Data))
			if err != nil {
				continue
			}
			subtype := "unknown"
			if wc.Metadata != nil && wc.Metadata.Type != "" {
				subtype = wc.Metadata.Type
			}
			chunks = append(chunks, Chunk{Kind: KindImage, MIMEType: wc.MIMEType, Data: raw, Subtype: subtype})
		}
	}
	return chunks
}

// DecodeWhiteboard decodes a whiteboard snapshot, accepting either a bare
// base64 string or a full data URL.
func DecodeWhiteboard(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(StripDataURL(s))
}

// StripDataURL removes a data-URL prefix ("data:image/png;base64,") when
// present, returning the bare base64 payload.
func StripDataURL(s string) string {
	if i := strings.Index(s, ","); i >= 0 && strings.Contains(s[:i], "base64") {
		return s[i+1:]
	}
	return s
}

// Outbound wire frames (bridge -> client).

type TextFrame struct {
	Text string `json:"text"`
}

type AudioFrame struct {
	Audio string `json:"audio"`
}

type ImageFrame struct {
	Image    string `json:"image"`
	MIMEType string `json:"mime_type"`
}

type ErrorFrame struct {
	Error string `json:"error"`
}

type StatusFrame struct {
	Status  string `json:"status"`
	Success bool   `json:"success"`
}

// EncodeAudio wraps raw PCM bytes into a client-playable base64 frame.
func EncodeAudio(raw []byte) AudioFrame {
	return AudioFrame{Audio: base64.StdEncoding.EncodeToString(raw)}
}

// EncodeImage wraps raw image bytes into a client-renderable base64 frame.
func EncodeImage(raw []byte, mimeType string) ImageFrame {
	return ImageFrame{Image: base64.StdEncoding.EncodeToString(raw), MIMEType: mimeType}
}
