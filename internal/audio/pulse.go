package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const pulseWatchInterval = 250 * time.Millisecond

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("stocklisten"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// listPulseDevices returns available Pulse input sources with default/availability metadata.
func listPulseDevices(_ context.Context) ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// pulseCapture streams s16le PCM from one Pulse source into a Sink.
type pulseCapture struct {
	cfg  StreamConfig
	sink Sink

	client *pulse.Client
	stream *pulse.RecordStream

	failures chan error
	stopCh   chan struct{}

	mu      sync.Mutex
	pending []byte
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

func newPulseCapture(cfg StreamConfig, sink Sink) *pulseCapture {
	return &pulseCapture{
		cfg:      cfg,
		sink:     sink,
		failures: make(chan error, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start opens the record stream and begins delivering blocks.
func (c *pulseCapture) Start(_ context.Context) error {
	if c.cfg.Channels > 2 {
		return &CaptureError{Op: "open", Err: fmt.Errorf("pulse backend supports 1 or 2 channels, got %d", c.cfg.Channels)}
	}

	client, err := newPulseClient()
	if err != nil {
		return &CaptureError{Op: "connect", Err: err}
	}

	source, err := client.DefaultSource()
	if c.cfg.Device.ID != "" {
		source, err = client.SourceByID(c.cfg.Device.ID)
	}
	if err != nil {
		client.Close()
		return &CaptureError{Op: "open", Err: fmt.Errorf("resolve source %q: %w", c.cfg.Device.ID, err)}
	}
	c.client = client

	layout := pulse.RecordMono
	if c.cfg.Channels == 2 {
		layout = pulse.RecordStereo
	}

	writer := pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		layout,
		pulse.RecordSampleRate(c.cfg.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(c.cfg.BlockSize*c.cfg.Channels*2)),
		pulse.RecordMediaName("stocklisten live transcription"),
	)
	if err != nil {
		_ = c.Stop()
		return &CaptureError{Op: "open", Err: fmt.Errorf("create pulse record stream: %w", err)}
	}

	c.stream = stream
	stream.Start()
	go c.watch()
	return nil
}

// watch surfaces a stream that closed without Stop being requested.
func (c *pulseCapture) watch() {
	ticker := time.NewTicker(pulseWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}

		if !c.stream.Closed() {
			continue
		}
		select {
		case <-c.stopCh:
			return
		default:
		}

		cause := c.stream.Error()
		if cause == nil {
			cause = errors.New("record stream closed unexpectedly")
		}
		select {
		case c.failures <- &CaptureError{Op: "stream", Err: cause}:
		default:
		}
		return
	}
}

func (c *pulseCapture) Failures() <-chan error {
	return c.failures
}

func (c *pulseCapture) Device() Device {
	return c.cfg.Device
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *pulseCapture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Stop halts the stream and waits for in-flight writer calls. Idempotent.
func (c *pulseCapture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	return nil
}

// onPCM decodes whole frames from raw Pulse bytes and forwards them to the sink.
func (c *pulseCapture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as c.stopped to avoid Add/Wait races.
	c.inflight.Add(1)

	frameBytes := 2 * c.cfg.Channels
	c.pending = append(c.pending, buffer...)
	whole := len(c.pending) / frameBytes * frameBytes
	samples := decodeInt16LE(c.pending[:whole])
	c.pending = append(c.pending[:0], c.pending[whole:]...)
	c.mu.Unlock()
	defer c.inflight.Done()

	c.bytes.Add(int64(len(buffer)))

	if len(samples) > 0 {
		c.sink(Block{Samples: samples, Frames: len(samples) / c.cfg.Channels, Channels: c.cfg.Channels})
	}
	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

// sourceStateString maps Pulse source state constants to human-readable values.
func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps Pulse source port availability to a simple boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
