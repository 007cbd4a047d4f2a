// Package memory persists completed turn records per subject and renders them
// into lesson reports.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rappleit/protege/internal/bridge"
)

// StoredRecord is one persisted turn with its metadata.
type StoredRecord struct {
	ID        string               `json:"id"`
	SubjectID string               `json:"subject_id"`
	Messages  []bridge.TurnMessage `json:"messages"`
	CreatedAt time.Time            `json:"created_at"`
}

// Store keeps turn records in memory, keyed by subject. It satisfies
// bridge.MemorySink. Records and topics outlive the session registry entry,
// so lesson reports stay available after a session ends.
type Store struct {
	mu      sync.RWMutex
	records map[string][]StoredRecord
	topics  map[string]string
	now     func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string][]StoredRecord),
		topics:  make(map[string]string),
		now:     time.Now,
	}
}

// SetTopic remembers the lesson topic for a subject.
func (s *Store) SetTopic(subjectID, topic string) {
	s.mu.Lock()
	s.topics[subjectID] = topic
	s.mu.Unlock()
}

// Topic returns the stored topic and whether the subject is known.
func (s *Store) Topic(subjectID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topic, ok := s.topics[subjectID]
	return topic, ok
}

// Record appends one turn record for the subject and returns its ID.
func (s *Store) Record(ctx context.Context, rec bridge.TurnRecord, subjectID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if subjectID == "" {
		return "", fmt.Errorf("subject id is empty")
	}
	if len(rec.Messages) == 0 {
		return "", fmt.Errorf("turn record has no messages")
	}

	stored := StoredRecord{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Messages:  append([]bridge.TurnMessage(nil), rec.Messages...),
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.records[subjectID] = append(s.records[subjectID], stored)
	s.mu.Unlock()
	return stored.ID, nil
}

// Records returns the subject's turn history in insertion order.
func (s *Store) Records(subjectID string) []StoredRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StoredRecord(nil), s.records[subjectID]...)
}

// Report renders the subject's history as a plain-text lesson transcript.
func (s *Store) Report(subjectID, topic string) string {
	recs := s.Records(subjectID)

	var sb strings.Builder
	sb.WriteString("Lesson report")
	if topic != "" {
		fmt.Fprintf(&sb, " on topic %q", topic)
	}
	fmt.Fprintf(&sb, " (%d turns)\n", len(recs))
	for i, rec := range recs {
		fmt.Fprintf(&sb, "\nTurn %d:\n", i+1)
		for _, m := range rec.Messages {
			fmt.Fprintf(&sb, "  %s: %s\n", m.Role, m.Content)
		}
	}
	return sb.String()
}
