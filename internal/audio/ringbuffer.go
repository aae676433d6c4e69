package audio

import (
	"errors"
	"fmt"
	"sync"
)

// RingBuffer accumulates capture blocks into fixed-size chunks.
//
// Every flush emits exactly Capacity samples and carries the trailing Overlap
// samples to the head of the buffer, so consecutive chunks share Overlap
// samples. Drain emits whatever is left as one final short chunk.
type RingBuffer struct {
	mu sync.Mutex

	buf      []int16
	index    int
	overlap  int
	channels int
	emit     func(Chunk)

	seq      int
	appended int64
	drained  bool
}

// NewRingBuffer sizes a buffer in frames; sample counts scale by channels.
func NewRingBuffer(capacityFrames, overlapFrames, channels int, emit func(Chunk)) (*RingBuffer, error) {
	switch {
	case channels <= 0:
		return nil, fmt.Errorf("channels must be > 0, got %d", channels)
	case capacityFrames <= 0:
		return nil, fmt.Errorf("capacity must be > 0 frames, got %d", capacityFrames)
	case overlapFrames < 0:
		return nil, fmt.Errorf("overlap must be >= 0 frames, got %d", overlapFrames)
	case overlapFrames >= capacityFrames:
		return nil, fmt.Errorf("overlap (%d frames) must be smaller than capacity (%d frames)", overlapFrames, capacityFrames)
	case emit == nil:
		return nil, errors.New("ring buffer requires an emit callback")
	}

	return &RingBuffer{
		buf:      make([]int16, capacityFrames*channels),
		overlap:  overlapFrames * channels,
		channels: channels,
		emit:     emit,
	}, nil
}

// Append copies a block into the buffer, flushing as many times as needed.
//
// A malformed block is rejected without touching buffer state. Appends after
// Drain are ignored.
func (r *RingBuffer) Append(block Block) error {
	if err := block.validate(r.channels); err != nil {
		return err
	}
	if block.Frames == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drained {
		return nil
	}

	samples := block.Samples
	r.appended += int64(len(samples))
	for len(samples) > 0 {
		n := copy(r.buf[r.index:], samples)
		r.index += n
		samples = samples[n:]
		if len(samples) > 0 {
			r.flushLocked()
		}
	}
	return nil
}

// Drain emits the partially filled buffer as a final chunk. Only the first
// call has any effect; it reports whether a chunk was emitted.
func (r *RingBuffer) Drain() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drained {
		return false
	}
	r.drained = true

	if r.index == 0 {
		return false
	}

	snapshot := make([]int16, r.index)
	copy(snapshot, r.buf[:r.index])
	r.index = 0
	r.emitLocked(snapshot, true)
	return true
}

// flushLocked emits the full buffer and keeps the overlap tail at the head.
func (r *RingBuffer) flushLocked() {
	snapshot := make([]int16, len(r.buf))
	copy(snapshot, r.buf)
	r.emitLocked(snapshot, false)

	copy(r.buf[:r.overlap], r.buf[len(r.buf)-r.overlap:])
	r.index = r.overlap
}

func (r *RingBuffer) emitLocked(samples []int16, final bool) {
	chunk := Chunk{Seq: r.seq, Samples: samples, Channels: r.channels, Final: final}
	r.seq++
	r.emit(chunk)
}

// Index returns the write cursor in samples.
func (r *RingBuffer) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// Capacity returns the chunk size in samples.
func (r *RingBuffer) Capacity() int {
	return len(r.buf)
}

// Overlap returns the carried-over tail length in samples.
func (r *RingBuffer) Overlap() int {
	return r.overlap
}

// Emitted returns how many chunks have been emitted, including a drained one.
func (r *RingBuffer) Emitted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Appended returns the total number of samples accepted.
func (r *RingBuffer) Appended() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appended
}

// Drained reports whether Drain has been called.
func (r *RingBuffer) Drained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drained
}
