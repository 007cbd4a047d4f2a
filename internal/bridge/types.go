package bridge

import "context"

// PartKind tags the variant of a reply part. Parts are decided once, at the
// boundary where the remote reply is parsed.
type PartKind int

const (
	PartText PartKind = iota
	PartInlineData
)

// Part is one piece of model content: either text or inline binary data.
type Part struct {
	Kind     PartKind
	Text     string
	MIMEType string
	Data     []byte
}

// ToolCall is a function invocation requested by the remote model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse answers one ToolCall.
type ToolResponse struct {
	ID     string
	Name   string
	Result map[string]any
}

// ReplyUnit is one message received from the remote model session: content
// parts, tool calls, or a turn-complete marker (possibly combined).
type ReplyUnit struct {
	Parts        []Part
	ToolCalls    []ToolCall
	TurnComplete bool
	Interrupted  bool
}

// MediaInput is one media chunk bound for the remote session.
type MediaInput struct {
	MIMEType string
	Data     []byte
	// Subtype annotates image origin (webcam/whiteboard); informational only.
	Subtype string
}

// ModelSession is an open duplex connection to the remote generative model.
// Receive's channel closes when the remote side ends; Err then reports the
// terminal error, if any.
type ModelSession interface {
	SendMedia(ctx context.Context, in MediaInput) error
	SendText(ctx context.Context, text string) error
	SendToolResponses(ctx context.Context, responses []ToolResponse) error
	Receive() <-chan ReplyUnit
	Err() error
	Close() error
}

// Transcriber produces best-effort text for a sealed WAV container.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// TurnMessage is one line of a completed turn's record.
type TurnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnRecord is the structured transcript of one completed turn.
type TurnRecord struct {
	Messages []TurnMessage `json:"messages"`
}

// MemorySink persists completed turn records for later reporting.
type MemorySink interface {
	Record(ctx context.Context, rec TurnRecord, subjectID string) (string, error)
}

// ToolHandler executes model-requested function calls. Registering one is
// optional; without it tool calls are logged and skipped.
type ToolHandler interface {
	Handle(ctx context.Context, calls []ToolCall) []ToolResponse
}

// Archiver stores sealed turn audio out of band. Optional; failures are
// logged, never fatal.
type Archiver interface {
	Store(ctx context.Context, key string, wav []byte) error
}

// ClientConn is the browser-side duplex connection. *websocket.Conn satisfies
// it directly; the bridge serializes its own writes.
type ClientConn interface {
	ReadMessage() (messageType int, payload []byte, err error)
	WriteJSON(v any) error
	Close() error
}
