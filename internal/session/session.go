// Package session tracks the lifecycle of tutoring sessions and owns their
// remote model handles.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rappleit/protege/internal/bridge"
	"github.com/rappleit/protege/internal/memory"
	"github.com/rappleit/protege/internal/persona"
)

// State is the lifecycle phase of one session.
type State string

const (
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// Session is one tutoring exchange between a user and a persona.
type Session struct {
	ID        string    `json:"session_id"`
	Topic     string    `json:"topic"`
	PersonaID string    `json:"persona_type"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`

	model bridge.ModelSession
}

// Connector opens a remote model session configured with the composed system
// instruction. Implemented by the gemini live dialer in production and by
// fakes in tests.
type Connector interface {
	Connect(ctx context.Context, systemInstruction string) (bridge.ModelSession, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, systemInstruction string) (bridge.ModelSession, error)

func (f ConnectorFunc) Connect(ctx context.Context, systemInstruction string) (bridge.ModelSession, error) {
	return f(ctx, systemInstruction)
}

// Registry owns all live sessions.
type Registry struct {
	connector Connector
	personas  *persona.Store
	memory    *memory.Store

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry wires the registry's collaborators.
func NewRegistry(connector Connector, personas *persona.Store, mem *memory.Store) *Registry {
	return &Registry{
		connector: connector,
		personas:  personas,
		memory:    mem,
		sessions:  make(map[string]*Session),
	}
}

// Start resolves the persona, opens the remote model session and registers
// the new session as active. An empty persona ID falls back to the default.
func (r *Registry) Start(ctx context.Context, topic, personaID string) (*Session, error) {
	if personaID == "" {
		personaID = persona.DefaultID
	}
	p, err := r.personas.Get(personaID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.New().String(),
		Topic:     topic,
		PersonaID: p.ID,
		State:     StateConnecting,
		CreatedAt: time.Now(),
	}
	log.Printf("[%s] starting session (topic=%q persona=%s)", s.ID, topic, p.ID)

	model, err := r.connector.Connect(ctx, persona.SystemInstruction(p, topic))
	if err != nil {
		return nil, fmt.Errorf("connect model session: %w", err)
	}
	s.model = model
	s.State = StateActive

	// The topic lives with the turn records so reports survive session end.
	r.memory.SetTopic(s.ID, topic)

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	log.Printf("[%s] session active", s.ID)
	return s, nil
}

// Get looks up a session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Model hands out the session's remote handle for bridging. Only active
// sessions have one.
func (r *Registry) Model(id string) (bridge.ModelSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if s.State != StateActive || s.model == nil {
		return nil, fmt.Errorf("session %s is not active", id)
	}
	return s.model, nil
}

// End closes the session's remote handle and removes the registry entry. The
// turn records and topic stay in the memory store, so the lesson report
// remains available. Ending an already-ended session is not an error.
func (r *Registry) End(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		if _, ended := r.memory.Topic(id); ended {
			log.Printf("[%s] session was already ended", id)
			return nil
		}
		return fmt.Errorf("session %s not found", id)
	}
	s.State = StateClosing
	model := s.model
	r.mu.Unlock()

	if model != nil {
		if err := model.Close(); err != nil {
			log.Printf("[%s] model close failed: %v", id, err)
		}
	}

	r.mu.Lock()
	s.State = StateClosed
	s.model = nil
	delete(r.sessions, id)
	r.mu.Unlock()
	log.Printf("[%s] session ended", id)
	return nil
}

// Report renders the lesson report for a session from its recorded turns.
// Works for both live and ended sessions.
func (r *Registry) Report(id string) (string, error) {
	if s, ok := r.Get(id); ok {
		return r.memory.Report(s.ID, s.Topic), nil
	}
	if topic, ok := r.memory.Topic(id); ok {
		return r.memory.Report(id, topic), nil
	}
	return "", fmt.Errorf("session %s not found", id)
}
