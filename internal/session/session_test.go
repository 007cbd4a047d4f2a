package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rappleit/protege/internal/bridge"
	"github.com/rappleit/protege/internal/memory"
	"github.com/rappleit/protege/internal/persona"
)

type stubModel struct {
	mu      sync.Mutex
	closed  bool
	replies chan bridge.ReplyUnit
}

func newStubModel() *stubModel {
	return &stubModel{replies: make(chan bridge.ReplyUnit)}
}

func (m *stubModel) SendMedia(context.Context, bridge.MediaInput) error          { return nil }
func (m *stubModel) SendText(context.Context, string) error                      { return nil }
func (m *stubModel) SendToolResponses(context.Context, []bridge.ToolResponse) error { return nil }
func (m *stubModel) Receive() <-chan bridge.ReplyUnit                            { return m.replies }
func (m *stubModel) Err() error                                                  { return nil }

func (m *stubModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *stubModel) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func newTestRegistry(connector Connector) *Registry {
	return NewRegistry(connector, persona.NewStore(), memory.NewStore())
}

func TestRegistry_StartAndGet(t *testing.T) {
	model := newStubModel()
	var gotInstruction string
	reg := newTestRegistry(ConnectorFunc(func(ctx context.Context, instr string) (bridge.ModelSession, error) {
		gotInstruction = instr
		return model, nil
	}))

	s, err := reg.Start(context.Background(), "gravity", "erik")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.ID == "" || s.State != StateActive || s.PersonaID != "erik" || s.Topic != "gravity" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if !strings.Contains(gotInstruction, "Erik") || !strings.Contains(gotInstruction, "gravity") {
		t.Fatalf("system instruction not composed: %q", gotInstruction)
	}

	got, ok := reg.Get(s.ID)
	if !ok || got.ID != s.ID {
		t.Fatalf("get failed")
	}
	if m, err := reg.Model(s.ID); err != nil || m != bridge.ModelSession(model) {
		t.Fatalf("model handle: %v", err)
	}
}

func TestRegistry_StartDefaultsPersona(t *testing.T) {
	reg := newTestRegistry(ConnectorFunc(func(ctx context.Context, instr string) (bridge.ModelSession, error) {
		return newStubModel(), nil
	}))
	s, err := reg.Start(context.Background(), "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.PersonaID != persona.DefaultID {
		t.Fatalf("persona = %s, want default", s.PersonaID)
	}
}

func TestRegistry_StartUnknownPersona(t *testing.T) {
	reg := newTestRegistry(ConnectorFunc(func(ctx context.Context, instr string) (bridge.ModelSession, error) {
		t.Fatalf("connector must not be called for an unknown persona")
		return nil, nil
	}))
	if _, err := reg.Start(context.Background(), "x", "zeus"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRegistry_StartConnectFailure(t *testing.T) {
	reg := newTestRegistry(ConnectorFunc(func(ctx context.Context, instr string) (bridge.ModelSession, error) {
		return nil, fmt.Errorf("dial refused")
	}))
	if _, err := reg.Start(context.Background(), "x", "kai"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRegistry_End(t *testing.T) {
	model := newStubModel()
	reg := newTestRegistry(ConnectorFunc(func(ctx context.Context, instr string) (bridge.ModelSession, error) {
		return model, nil
	}))
	s, _ := reg.Start(context.Background(), "x", "kai")

	if err := reg.End(context.Background(), s.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if !model.isClosed() {
		t.Fatalf("model handle not closed")
	}
	if _, ok := reg.Get(s.ID); ok {
		t.Fatalf("ended session still registered")
	}
	if _, err := reg.Model(s.ID); err == nil {
		t.Fatalf("ended session must not hand out a model")
	}

	// Ending again is a no-op, not an error.
	if err := reg.End(context.Background(), s.ID); err != nil {
		t.Fatalf("double end: %v", err)
	}
	if err := reg.End(context.Background(), "missing"); err == nil {
		t.Fatalf("unknown session must error")
	}
}

func TestRegistry_Report(t *testing.T) {
	mem := memory.NewStore()
	model := newStubModel()
	reg := NewRegistry(ConnectorFunc(func(ctx context.Context, instr string) (bridge.ModelSession, error) {
		return model, nil
	}), persona.NewStore(), mem)

	s, _ := reg.Start(context.Background(), "volcanoes", "sophia")
	_, _ = mem.Record(context.Background(), bridge.TurnRecord{Messages: []bridge.TurnMessage{
		{Role: "user", Content: "magma rises"},
	}}, s.ID)

	report, err := reg.Report(s.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(report, "volcanoes") || !strings.Contains(report, "magma rises") {
		t.Fatalf("incomplete report:\n%s", report)
	}
	if _, err := reg.Report("missing"); err == nil {
		t.Fatalf("unknown session must error")
	}
}

func TestRegistry_ReportAfterEnd(t *testing.T) {
	mem := memory.NewStore()
	reg := NewRegistry(ConnectorFunc(func(ctx context.Context, instr string) (bridge.ModelSession, error) {
		return newStubModel(), nil
	}), persona.NewStore(), mem)

	s, _ := reg.Start(context.Background(), "tides", "kai")
	_, _ = mem.Record(context.Background(), bridge.TurnRecord{Messages: []bridge.TurnMessage{
		{Role: "user", Content: "the moon pulls the ocean"},
	}}, s.ID)

	if err := reg.End(context.Background(), s.ID); err != nil {
		t.Fatalf("end: %v", err)
	}

	report, err := reg.Report(s.ID)
	if err != nil {
		t.Fatalf("report after end: %v", err)
	}
	if !strings.Contains(report, "tides") || !strings.Contains(report, "the moon pulls the ocean") {
		t.Fatalf("incomplete report:\n%s", report)
	}
}
