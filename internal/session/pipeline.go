package session

import (
	"context"
	"errors"

	"github.com/otumarastudio/youtube-summarizer/internal/dispatch"
)

var (
	// ErrPipelineUnavailable indicates runtime pipeline wiring is missing.
	ErrPipelineUnavailable = errors.New("audio capture and transcription pipeline not configured")
	// ErrEmptyTranscript indicates the run ended without any recognized speech.
	ErrEmptyTranscript = errors.New("nothing to analyze: no speech recognized")
)

// DrainResult is the pipeline output consumed by the session controller.
type DrainResult struct {
	Transcript    string
	Segments      []dispatch.Segment
	Stats         dispatch.Stats
	Chunks        int
	AudioDevice   string
	BytesCaptured int64
}

// Pipeline abstracts the capture and transcription work of one run.
type Pipeline interface {
	Start(context.Context) error
	// Failures reports capture errors that end the run early.
	Failures() <-chan error
	// Drain stops capture and waits for queued transcription until ctx ends.
	// A drain timeout still returns the partial result alongside the error.
	Drain(context.Context) (DrainResult, error)
}

// placeholderPipeline fails Start so a controller without wiring ends cleanly.
type placeholderPipeline struct{}

func (placeholderPipeline) Start(context.Context) error {
	return ErrPipelineUnavailable
}

func (placeholderPipeline) Failures() <-chan error {
	return nil
}

func (placeholderPipeline) Drain(context.Context) (DrainResult, error) {
	return DrainResult{}, ErrPipelineUnavailable
}
