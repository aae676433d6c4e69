package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	portAudioWatchInterval = 250 * time.Millisecond
	// A stream that delivers nothing for this long, or ten blocks if longer,
	// has lost its device.
	minStallTimeout = 2 * time.Second
)

// listPortAudioDevices returns PortAudio devices that expose input channels.
func listPortAudioDevices(_ context.Context) ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list portaudio devices: %w", err)
	}

	var defaultName string
	if def, derr := portaudio.DefaultInputDevice(); derr == nil && def != nil {
		defaultName = def.Name
	}

	out := make([]Device, 0, len(devices))
	for _, dev := range devices {
		if dev == nil || dev.MaxInputChannels <= 0 {
			continue
		}
		description := fmt.Sprintf("%d ch @ %.0f Hz", dev.MaxInputChannels, dev.DefaultSampleRate)
		if dev.HostApi != nil {
			description = fmt.Sprintf("%s, %s", dev.HostApi.Name, description)
		}
		out = append(out, Device{
			ID:          dev.Name,
			Description: description,
			State:       "available",
			Available:   true,
			Default:     dev.Name == defaultName,
		})
	}
	return out, nil
}

// portAudioCapture delivers callback buffers from a PortAudio input stream.
type portAudioCapture struct {
	cfg    StreamConfig
	sink   Sink
	logger *slog.Logger

	stream   *portaudio.Stream
	failures chan error
	stopCh   chan struct{}

	mu          sync.Mutex
	initialized bool
	stopped     bool

	inflight sync.WaitGroup
	bytes    atomic.Int64

	// Written on the callback thread, reported by watch.
	lastCallback atomic.Int64
	overflows    atomic.Int64
	underflows   atomic.Int64
}

func newPortAudioCapture(cfg StreamConfig, sink Sink) *portAudioCapture {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &portAudioCapture{
		cfg:      cfg,
		sink:     sink,
		logger:   logger,
		failures: make(chan error, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start opens the configured device (or the default input) and starts the stream.
func (c *portAudioCapture) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return &CaptureError{Op: "open", Err: fmt.Errorf("capture already stopped")}
	}
	if err := portaudio.Initialize(); err != nil {
		return &CaptureError{Op: "initialize", Err: err}
	}
	c.initialized = true

	stream, err := c.open()
	if err != nil {
		c.terminateLocked()
		return &CaptureError{Op: "open", Err: err}
	}
	c.lastCallback.Store(time.Now().UnixNano())
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		c.terminateLocked()
		return &CaptureError{Op: "start", Err: err}
	}
	c.stream = stream
	go c.watch()
	return nil
}

func (c *portAudioCapture) open() (*portaudio.Stream, error) {
	rate := float64(c.cfg.SampleRate)
	name := c.cfg.Device.ID
	if name == "" || name == "default" {
		return portaudio.OpenDefaultStream(c.cfg.Channels, 0, rate, c.cfg.BlockSize, c.onSamples)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list portaudio devices: %w", err)
	}
	for _, dev := range devices {
		if dev == nil || dev.Name != name || dev.MaxInputChannels <= 0 {
			continue
		}
		params := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   dev,
				Channels: c.cfg.Channels,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      rate,
			FramesPerBuffer: c.cfg.BlockSize,
		}
		return portaudio.OpenStream(params, c.onSamples)
	}
	return nil, fmt.Errorf("portaudio input device %q not found", name)
}

// onSamples runs on the PortAudio callback thread. The input buffer is reused
// by PortAudio after return, so it is copied before reaching the sink. Status
// flags are only counted here; watch logs them off the audio thread.
func (c *portAudioCapture) onSamples(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	c.lastCallback.Store(time.Now().UnixNano())
	if flags&portaudio.InputOverflow != 0 {
		c.overflows.Add(1)
	}
	if flags&portaudio.InputUnderflow != 0 {
		c.underflows.Add(1)
	}

	if len(in) == 0 {
		return
	}
	samples := make([]int16, len(in))
	copy(samples, in)
	c.bytes.Add(int64(2 * len(in)))

	c.sink(Block{Samples: samples, Frames: len(samples) / c.cfg.Channels, Channels: c.cfg.Channels})
}

// watch logs driver status flags and surfaces a stream that stopped
// delivering audio, which is how PortAudio reports a lost device.
func (c *portAudioCapture) watch() {
	ticker := time.NewTicker(portAudioWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			c.reportStatus()
			err := c.checkStall(now)
			if err == nil {
				continue
			}
			select {
			case <-c.stopCh:
				return
			case c.failures <- err:
			default:
			}
			return
		}
	}
}

func (c *portAudioCapture) reportStatus() {
	if n := c.overflows.Swap(0); n > 0 {
		c.logger.Warn("portaudio input overflow; captured audio was lost", "callbacks", n, "device", c.cfg.Device.ID)
	}
	if n := c.underflows.Swap(0); n > 0 {
		c.logger.Warn("portaudio input underflow", "callbacks", n, "device", c.cfg.Device.ID)
	}
}

func (c *portAudioCapture) checkStall(now time.Time) error {
	idle := now.Sub(time.Unix(0, c.lastCallback.Load()))
	if idle <= c.stallTimeout() {
		return nil
	}
	return &CaptureError{Op: "read", Err: fmt.Errorf("no audio delivered for %s", idle.Round(time.Millisecond))}
}

func (c *portAudioCapture) stallTimeout() time.Duration {
	if c.cfg.SampleRate <= 0 {
		return minStallTimeout
	}
	block := time.Duration(c.cfg.BlockSize) * time.Second / time.Duration(c.cfg.SampleRate)
	return max(minStallTimeout, 10*block)
}

func (c *portAudioCapture) Failures() <-chan error {
	return c.failures
}

func (c *portAudioCapture) Device() Device {
	return c.cfg.Device
}

func (c *portAudioCapture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Stop stops and closes the stream, then releases PortAudio. Idempotent.
func (c *portAudioCapture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	var stopErr error
	if stream != nil {
		if err := stream.Stop(); err != nil {
			stopErr = &CaptureError{Op: "stop", Err: err}
		}
		if err := stream.Close(); err != nil && stopErr == nil {
			stopErr = &CaptureError{Op: "close", Err: err}
		}
	}
	c.inflight.Wait()

	c.mu.Lock()
	c.terminateLocked()
	c.mu.Unlock()
	return stopErr
}

func (c *portAudioCapture) terminateLocked() {
	if !c.initialized {
		return
	}
	_ = portaudio.Terminate()
	c.initialized = false
}
