// Package tts renders persona voice previews. The live conversation's audio
// comes from the realtime model; this layer only voices personas on demand so
// a user can hear them before starting a lesson.
package tts

import (
	"context"
	"sync"
)

// Synthesizer produces a short audio clip in a persona's voice.
type Synthesizer interface {
	PreviewVoice(ctx context.Context, personaID, voiceDescription, sampleText string) (audio []byte, mimeType string, err error)
}

// VoiceRegistry maps persona IDs to provider-owned voice IDs so a designed
// voice is created once and reused.
type VoiceRegistry struct {
	mu     sync.Mutex
	voices map[string]string
}

// NewVoiceRegistry returns an empty registry.
func NewVoiceRegistry() *VoiceRegistry {
	return &VoiceRegistry{voices: make(map[string]string)}
}

// Lookup returns the stored voice ID for a persona.
func (r *VoiceRegistry) Lookup(personaID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.voices[personaID]
	return id, ok
}

// Put stores a voice ID for a persona, replacing any previous one.
func (r *VoiceRegistry) Put(personaID, voiceID string) {
	r.mu.Lock()
	r.voices[personaID] = voiceID
	r.mu.Unlock()
}
