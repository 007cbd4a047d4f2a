package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/rappleit/protege/internal/bridge"
)

func TestStore_RecordAndRecords(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	rec := bridge.TurnRecord{Messages: []bridge.TurnMessage{
		{Role: "user", Content: "the sky is blue"},
		{Role: "assistant", Content: "why is it blue?"},
	}}
	id, err := s.Record(ctx, rec, "subject-1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a record id")
	}

	got := s.Records("subject-1")
	if len(got) != 1 || len(got[0].Messages) != 2 {
		t.Fatalf("unexpected records: %+v", got)
	}
	if got[0].ID != id {
		t.Fatalf("id mismatch: %s vs %s", got[0].ID, id)
	}
	if len(s.Records("other")) != 0 {
		t.Fatalf("records leaked across subjects")
	}
}

func TestStore_RecordRejectsEmpty(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if _, err := s.Record(ctx, bridge.TurnRecord{}, "subject-1"); err == nil {
		t.Fatalf("empty record must be rejected")
	}
	if _, err := s.Record(ctx, bridge.TurnRecord{Messages: []bridge.TurnMessage{{Role: "user", Content: "x"}}}, ""); err == nil {
		t.Fatalf("empty subject must be rejected")
	}
}

func TestStore_Topics(t *testing.T) {
	s := NewStore()
	if _, ok := s.Topic("subject-1"); ok {
		t.Fatalf("unknown subject must report no topic")
	}
	s.SetTopic("subject-1", "gravity")
	topic, ok := s.Topic("subject-1")
	if !ok || topic != "gravity" {
		t.Fatalf("topic = %q ok=%v", topic, ok)
	}
}

func TestStore_Report(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, _ = s.Record(ctx, bridge.TurnRecord{Messages: []bridge.TurnMessage{
		{Role: "user", Content: "lesson one"},
	}}, "subject-1")
	_, _ = s.Record(ctx, bridge.TurnRecord{Messages: []bridge.TurnMessage{
		{Role: "user", Content: "lesson two"},
		{Role: "system", Content: "User shared: whiteboard content"},
	}}, "subject-1")

	report := s.Report("subject-1", "gravity")
	for _, want := range []string{"gravity", "2 turns", "Turn 1:", "Turn 2:", "lesson one", "lesson two", "User shared: whiteboard content"} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}

	empty := s.Report("nobody", "")
	if !strings.Contains(empty, "0 turns") {
		t.Fatalf("empty report should note zero turns:\n%s", empty)
	}
}
