package audio

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/stretchr/testify/require"
)

func TestPortAudioOnSamplesCopiesAndCountsStatusFlags(t *testing.T) {
	var blocks []Block
	capture := newPortAudioCapture(StreamConfig{Channels: 2}, func(b Block) { blocks = append(blocks, b) })

	in := []int16{1, 2, 3, 4}
	capture.onSamples(in, portaudio.StreamCallbackTimeInfo{}, portaudio.InputOverflow)
	capture.onSamples(in, portaudio.StreamCallbackTimeInfo{}, portaudio.InputOverflow|portaudio.InputUnderflow)
	in[0] = 99

	require.Len(t, blocks, 2)
	require.Equal(t, []int16{1, 2, 3, 4}, blocks[0].Samples)
	require.Equal(t, 2, blocks[0].Frames)
	require.Equal(t, int64(16), capture.BytesCaptured())
	require.Equal(t, int64(2), capture.overflows.Load())
	require.Equal(t, int64(1), capture.underflows.Load())
}

func TestPortAudioReportStatusLogsAndResets(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	capture := newPortAudioCapture(StreamConfig{Channels: 1, Logger: logger, Device: Device{ID: "usb-mic"}}, func(Block) {})

	capture.onSamples([]int16{1}, portaudio.StreamCallbackTimeInfo{}, portaudio.InputOverflow)
	capture.reportStatus()
	require.Contains(t, logs.String(), "portaudio input overflow")
	require.Contains(t, logs.String(), `"callbacks":1`)
	require.Contains(t, logs.String(), "usb-mic")

	logs.Reset()
	capture.reportStatus()
	require.Empty(t, logs.String())
}

func TestPortAudioCheckStallReportsCaptureError(t *testing.T) {
	capture := newPortAudioCapture(StreamConfig{Channels: 1, SampleRate: 16000, BlockSize: 1024}, func(Block) {})
	now := time.Now()
	capture.lastCallback.Store(now.UnixNano())

	require.NoError(t, capture.checkStall(now.Add(time.Second)))

	err := capture.checkStall(now.Add(3 * time.Second))
	var captureErr *CaptureError
	require.True(t, errors.As(err, &captureErr))
	require.Equal(t, "read", captureErr.Op)
	require.ErrorContains(t, err, "no audio delivered for 3s")
}

func TestPortAudioStallTimeoutScalesWithBlockSize(t *testing.T) {
	small := newPortAudioCapture(StreamConfig{SampleRate: 16000, BlockSize: 1024}, func(Block) {})
	require.Equal(t, minStallTimeout, small.stallTimeout())

	large := newPortAudioCapture(StreamConfig{SampleRate: 16000, BlockSize: 16000}, func(Block) {})
	require.Equal(t, 10*time.Second, large.stallTimeout())
}

func TestPortAudioOnSamplesIgnoredAfterStop(t *testing.T) {
	called := false
	capture := newPortAudioCapture(StreamConfig{Channels: 1}, func(Block) { called = true })
	require.NoError(t, capture.Stop())
	require.NoError(t, capture.Stop())

	capture.onSamples([]int16{1, 2}, portaudio.StreamCallbackTimeInfo{}, portaudio.InputOverflow)
	require.False(t, called)
	require.Zero(t, capture.overflows.Load())
}
