// Package pipeline wires one run's capture source, ring buffer, dispatcher,
// and transcript accumulator together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/otumarastudio/youtube-summarizer/internal/audio"
	"github.com/otumarastudio/youtube-summarizer/internal/config"
	"github.com/otumarastudio/youtube-summarizer/internal/dispatch"
	"github.com/otumarastudio/youtube-summarizer/internal/logging"
	"github.com/otumarastudio/youtube-summarizer/internal/session"
	"github.com/otumarastudio/youtube-summarizer/internal/stt"
	"github.com/otumarastudio/youtube-summarizer/internal/transcript"
	"github.com/otumarastudio/youtube-summarizer/internal/vad"
	"github.com/otumarastudio/youtube-summarizer/internal/wav"
)

// SourceFactory builds an unstarted capture source.
type SourceFactory func(audio.StreamConfig, audio.Sink) (audio.Source, error)

// DeviceSelector resolves configured input preferences to a device.
type DeviceSelector func(ctx context.Context, backend audio.Backend, input string, fallback string) (audio.Selection, error)

// Options carries the collaborators of one run. Zero-valued hooks fall back
// to the live audio backends.
type Options struct {
	Config      config.Config
	Transcriber stt.Transcriber
	// OnSegment sees every delivered segment in capture order, after it has
	// been appended to the transcript. It runs under the dispatcher lock.
	OnSegment dispatch.SegmentSink
	// OnStarted runs once capture is live.
	OnStarted func(audio.Selection)
	// Observer, when set, sees every chunk outcome.
	Observer     dispatch.Observer
	Logger       *slog.Logger
	NewSource    SourceFactory
	SelectDevice DeviceSelector
}

// Pipeline owns one end-to-end capture -> chunk -> transcription instance.
// It is built per run and must not be reused.
type Pipeline struct {
	cfg    config.Config
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	drained bool
	result  session.DrainResult

	selection  audio.Selection
	source     audio.Source
	ring       *audio.RingBuffer
	dispatcher *dispatch.Dispatcher
	transcript *transcript.Accumulator
	// drainCtx bounds the final chunk's wait for queue space. Set by Drain.
	drainCtx context.Context

	segMu    sync.Mutex
	segments []dispatch.Segment

	rawMu  sync.Mutex
	rawPCM []int16
}

// New constructs a pipeline from runtime config.
func New(opts Options) (*Pipeline, error) {
	if opts.Transcriber == nil {
		return nil, errors.New("pipeline requires a transcriber")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.NewSource == nil {
		opts.NewSource = audio.NewSource
	}
	if opts.SelectDevice == nil {
		opts.SelectDevice = audio.SelectDevice
	}
	return &Pipeline{cfg: opts.Config, opts: opts, logger: opts.Logger}, nil
}

// Start resolves the device, builds the run's buffers, and starts capture.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pipeline already started")
	}

	backend, err := audio.ParseBackend(p.cfg.Audio.Backend)
	if err != nil {
		return err
	}
	selection, err := p.opts.SelectDevice(ctx, backend, p.cfg.Audio.Input, p.cfg.Audio.Fallback)
	if err != nil {
		return &audio.CaptureError{Op: "select device", Err: err}
	}
	p.selection = selection
	if selection.Warning != "" {
		p.logger.Warn(selection.Warning)
	}

	prompt, err := config.TranscriptionPrompt(p.cfg)
	if err != nil {
		return fmt.Errorf("build transcription prompt: %w", err)
	}

	opts := dispatch.Options{
		SampleRate: p.cfg.Audio.SampleRate,
		Channels:   p.cfg.Audio.Channels,
		Language:   p.cfg.Transcription.Language,
		Prompt:     prompt,
		Workers:    p.cfg.Transcription.Workers,
		QueueSize:  p.cfg.Transcription.QueueSize,
		Timeout:    p.cfg.Transcription.Timeout(),
		Observer:   p.opts.Observer,
	}
	if p.cfg.VAD.Enable {
		gate, err := vad.New(vad.Config{
			SampleRate:  p.cfg.Audio.SampleRate,
			Mode:        p.cfg.VAD.Mode,
			MinSpeechMS: p.cfg.VAD.MinSpeechMS,
		})
		if err != nil {
			return err
		}
		opts.Gate = gate
	}

	p.transcript = transcript.NewAccumulator()
	dispatcher, err := dispatch.New(opts, p.opts.Transcriber, p.onSegment, p.logger)
	if err != nil {
		return err
	}

	ring, err := audio.NewRingBuffer(
		p.cfg.Audio.BufferFrames(),
		p.cfg.Audio.OverlapFrames(),
		p.cfg.Audio.Channels,
		p.emit,
	)
	if err != nil {
		return err
	}

	source, err := p.opts.NewSource(audio.StreamConfig{
		Backend:    backend,
		Device:     selection.Device,
		SampleRate: p.cfg.Audio.SampleRate,
		Channels:   p.cfg.Audio.Channels,
		BlockSize:  p.cfg.Audio.BlockSize,
		Logger:     p.logger,
	}, p.onBlock)
	if err != nil {
		return err
	}

	if err := dispatcher.Start(ctx); err != nil {
		return err
	}
	p.dispatcher = dispatcher
	p.ring = ring
	p.source = source

	if err := source.Start(ctx); err != nil {
		_ = dispatcher.Close(ctx)
		return err
	}

	p.logger.Info("capture started",
		"device", selection.Device.Describe(),
		"backend", string(backend),
		"sample_rate", p.cfg.Audio.SampleRate,
		"channels", p.cfg.Audio.Channels,
		"chunk_frames", p.cfg.Audio.BufferFrames(),
		"overlap_frames", p.cfg.Audio.OverlapFrames(),
	)
	p.started = true
	if p.opts.OnStarted != nil {
		p.opts.OnStarted(selection)
	}
	return nil
}

// Failures forwards device-level capture errors.
func (p *Pipeline) Failures() <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.source == nil {
		return nil
	}
	return p.source.Failures()
}

// Drain runs the stop sequence: detach capture, emit the final partial
// chunk, then wait for transcription until ctx ends. Later calls return the
// first result.
func (p *Pipeline) Drain(ctx context.Context) (session.DrainResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return session.DrainResult{}, session.ErrPipelineUnavailable
	}
	if p.drained {
		return p.result, nil
	}
	p.drained = true

	if err := p.source.Stop(); err != nil {
		p.logger.Warn("stop capture failed", "error", err.Error())
	}
	p.drainCtx = ctx
	p.ring.Drain()
	closeErr := p.dispatcher.Close(ctx)

	p.writeDebugAudio()

	p.result = session.DrainResult{
		Transcript:    p.transcript.Join(),
		Segments:      p.segmentSnapshot(),
		Stats:         p.dispatcher.Stats(),
		Chunks:        p.ring.Emitted(),
		AudioDevice:   p.selection.Device.Describe(),
		BytesCaptured: p.source.BytesCaptured(),
	}
	p.logger.Info("drain complete",
		"chunks", p.result.Chunks,
		"transcribed", p.result.Stats.Transcribed,
		"failed", p.result.Stats.Failed,
		"skipped", p.result.Stats.Skipped,
		"dropped", p.result.Stats.Dropped,
	)
	return p.result, closeErr
}

// onBlock is the capture sink. It never blocks: the ring buffer hands
// chunks to a non-blocking Submit.
func (p *Pipeline) onBlock(block audio.Block) {
	if err := p.ring.Append(block); err != nil {
		p.logger.Warn("discarding malformed capture block", "error", err.Error())
		return
	}
	if p.cfg.Debug.EnableAudioDump {
		p.rawMu.Lock()
		p.rawPCM = append(p.rawPCM, block.Samples...)
		p.rawMu.Unlock()
	}
}

// emit hands ring buffer chunks to the dispatcher. Live flushes run on the
// capture callback and must not block. The final chunk only comes from Drain,
// after capture has stopped, so it waits for queue space until the drain
// deadline.
func (p *Pipeline) emit(chunk audio.Chunk) {
	if chunk.Final && p.drainCtx != nil {
		p.dispatcher.SubmitWait(p.drainCtx, chunk)
		return
	}
	p.dispatcher.Submit(chunk)
}

// onSegment runs under the dispatcher's completion lock, in Seq order.
func (p *Pipeline) onSegment(segment dispatch.Segment) {
	p.transcript.Append(segment.Text)
	p.segMu.Lock()
	p.segments = append(p.segments, segment)
	p.segMu.Unlock()
	if p.opts.OnSegment != nil {
		p.opts.OnSegment(segment)
	}
}

func (p *Pipeline) segmentSnapshot() []dispatch.Segment {
	p.segMu.Lock()
	defer p.segMu.Unlock()
	out := make([]dispatch.Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// writeDebugAudio writes the whole captured session to WAV when debug.audio_dump is enabled.
func (p *Pipeline) writeDebugAudio() {
	p.rawMu.Lock()
	samples := p.rawPCM
	p.rawPCM = nil
	p.rawMu.Unlock()

	if !p.cfg.Debug.EnableAudioDump || len(samples) == 0 {
		return
	}

	file, err := createDebugFile("audio", "wav")
	if err != nil {
		p.logger.Warn(fmt.Sprintf("unable to create debug audio dump: %v", err))
		return
	}
	defer file.Close()

	if err := wav.Encode(file, samples, p.cfg.Audio.SampleRate, p.cfg.Audio.Channels); err != nil {
		p.logger.Warn(fmt.Sprintf("unable to write debug audio dump: %v", err))
		return
	}
	p.logger.Info("debug audio written", "path", file.Name())
}

// createDebugFile creates timestamped debug artifacts under the state dir.
func createDebugFile(prefix string, extension string) (*os.File, error) {
	stateDir, err := logging.StateDir()
	if err != nil {
		return nil, err
	}
	debugDir := filepath.Join(stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0o700); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405.000")
	path := filepath.Join(debugDir, fmt.Sprintf("%s-%s.%s", prefix, timestamp, extension))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug file %q: %w", path, err)
	}
	return file, nil
}
