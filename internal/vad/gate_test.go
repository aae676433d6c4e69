package vad

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "rate", cfg: Config{SampleRate: 44100, Mode: 2}, wantErr: "sample rate"},
		{name: "mode high", cfg: Config{SampleRate: 16000, Mode: 4}, wantErr: "mode"},
		{name: "mode low", cfg: Config{SampleRate: 16000, Mode: -1}, wantErr: "mode"},
		{name: "min speech", cfg: Config{SampleRate: 16000, Mode: 1, MinSpeechMS: -5}, wantErr: "min speech"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidRate(t *testing.T) {
	require.True(t, ValidRate(16000))
	require.True(t, ValidRate(48000))
	require.False(t, ValidRate(44100))
}

func TestSpeechSilenceIsNotSpeech(t *testing.T) {
	gate, err := New(Config{SampleRate: 16000, Mode: 3, MinSpeechMS: 90})
	require.NoError(t, err)

	speech, err := gate.Speech(make([]int16, 16000), 1)
	require.NoError(t, err)
	require.False(t, speech)
}

func TestSpeechShortInputIsPadded(t *testing.T) {
	gate, err := New(Config{SampleRate: 8000, Mode: 0})
	require.NoError(t, err)

	speech, err := gate.Speech(make([]int16, 10), 1)
	require.NoError(t, err)
	require.False(t, speech)
}

func TestDownmixAveragesChannels(t *testing.T) {
	require.Equal(t, []int16{2, -3}, downmix([]int16{1, 3, -2, -4}, 2))
	in := []int16{5, 6}
	require.Equal(t, in, downmix(in, 1))
}
