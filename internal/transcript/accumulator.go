// Package transcript collects transcription segments in emission order.
package transcript

import (
	"strings"
	"sync"
)

// Accumulator is an append-only, ordered list of transcript segments.
// Filtering of empty text is the caller's job; every appended value is kept.
type Accumulator struct {
	mu       sync.Mutex
	segments []string
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

func (a *Accumulator) Append(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.segments = append(a.segments, text)
}

// Join returns all segments joined by a single space, or "" when empty.
func (a *Accumulator) Join() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.segments, " ")
}

// Segments returns a copy of the accumulated segments.
func (a *Accumulator) Segments() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.segments))
	copy(out, a.segments)
	return out
}

func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}
