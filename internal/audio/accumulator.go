package audio

import "sync"

// Protocol sample rates for the two stream directions. These are constants of
// the remote model's realtime interface, never inferred from data.
const (
	UserSampleRate      = 16000
	AssistantSampleRate = 24000
)

// Accumulator buffers raw PCM for one direction of a session until the turn
// completes. Append and Seal/Reset may race between the two pump loops, so all
// access goes through the mutex.
type Accumulator struct {
	mu         sync.Mutex
	sampleRate int
	buf        []byte
	hasData    bool
}

// NewAccumulator returns an empty accumulator fixed at the given sample rate.
func NewAccumulator(sampleRate int) *Accumulator {
	return &Accumulator{sampleRate: sampleRate}
}

// Append grows the buffer with one PCM chunk.
func (a *Accumulator) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	a.mu.Lock()
	a.buf = append(a.buf, p...)
	a.hasData = true
	a.mu.Unlock()
}

// Len reports the buffered byte count.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// HasData reports whether any audio has been appended since the last reset.
func (a *Accumulator) HasData() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasData
}

// SampleRate returns the fixed sample rate configured at construction.
func (a *Accumulator) SampleRate() int { return a.sampleRate }

// Seal snapshots the buffered PCM into a WAV container. It returns nil when
// nothing has been buffered, the common "nothing to transcribe" case, not an
// error. The buffer is left intact; Reset clears it.
func (a *Accumulator) Seal() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasData || len(a.buf) == 0 {
		return nil
	}
	return EncodeWAV(a.buf, a.sampleRate)
}

// Reset clears the buffer and flag. Safe to call on an already-empty
// accumulator.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.buf = nil
	a.hasData = false
	a.mu.Unlock()
}
