package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Backend names a capture driver implementation.
type Backend string

const (
	BackendPulse     Backend = "pulse"
	BackendPortAudio Backend = "portaudio"
)

// Sink receives capture blocks on the driver's delivery path. It must not block.
type Sink func(Block)

// Source is one running capture stream.
type Source interface {
	// Start begins delivering blocks to the sink.
	Start(ctx context.Context) error
	// Stop detaches the stream. It returns only after in-flight sink calls return.
	Stop() error
	// Failures reports device-level errors observed while running.
	Failures() <-chan error
	Device() Device
	BytesCaptured() int64
}

// StreamConfig describes the PCM format requested from a capture backend.
type StreamConfig struct {
	Backend    Backend
	Device     Device
	SampleRate int
	Channels   int
	BlockSize  int
	// Logger receives driver status reports. Nil discards them.
	Logger *slog.Logger
}

// CaptureError wraps device-level failures that end the current stream.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("audio capture %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// ParseBackend normalizes a configured backend name.
func ParseBackend(raw string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(raw))) {
	case "", BackendPulse:
		return BackendPulse, nil
	case BackendPortAudio:
		return BackendPortAudio, nil
	default:
		return "", fmt.Errorf("unknown audio backend %q (want pulse or portaudio)", raw)
	}
}

// NewSource constructs an unstarted capture source for the configured backend.
func NewSource(cfg StreamConfig, sink Sink) (Source, error) {
	if sink == nil {
		return nil, fmt.Errorf("capture source requires a sink")
	}
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid stream format: rate=%d channels=%d block=%d", cfg.SampleRate, cfg.Channels, cfg.BlockSize)
	}

	switch cfg.Backend {
	case BackendPulse, "":
		return newPulseCapture(cfg, sink), nil
	case BackendPortAudio:
		return newPortAudioCapture(cfg, sink), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}

// ListDevices returns input devices visible to the backend.
func ListDevices(ctx context.Context, backend Backend) ([]Device, error) {
	switch backend {
	case BackendPortAudio:
		return listPortAudioDevices(ctx)
	default:
		return listPulseDevices(ctx)
	}
}

// SelectDevice resolves input/fallback preferences against live devices.
func SelectDevice(ctx context.Context, backend Backend, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx, backend)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, input, fallback)
}
