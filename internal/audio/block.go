package audio

import (
	"errors"
	"fmt"
)

// ErrBlockShape reports a block whose sample count or channel layout does not match.
var ErrBlockShape = errors.New("audio block shape mismatch")

// Block is one interleaved s16 sample delivery from a capture source.
type Block struct {
	Samples  []int16
	Frames   int
	Channels int
}

// Len returns the number of interleaved samples the block declares.
func (b Block) Len() int {
	return b.Frames * b.Channels
}

func (b Block) validate(channels int) error {
	if b.Frames < 0 {
		return fmt.Errorf("%w: negative frame count %d", ErrBlockShape, b.Frames)
	}
	if b.Frames == 0 {
		return nil
	}
	if b.Channels != channels {
		return fmt.Errorf("%w: got %d channels, want %d", ErrBlockShape, b.Channels, channels)
	}
	if len(b.Samples) != b.Len() {
		return fmt.Errorf("%w: %d samples for %d frames x %d channels", ErrBlockShape, len(b.Samples), b.Frames, b.Channels)
	}
	return nil
}

// Chunk is an immutable snapshot of buffered samples handed to the dispatcher.
type Chunk struct {
	Seq      int
	Samples  []int16
	Channels int
	// Final marks the short chunk emitted by Drain.
	Final bool
}

// Frames returns the number of frames held by the chunk.
func (c Chunk) Frames() int {
	if c.Channels <= 0 {
		return len(c.Samples)
	}
	return len(c.Samples) / c.Channels
}
