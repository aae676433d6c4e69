// Package vad skips chunks that contain no speech before they reach transcription.
package vad

import (
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// FrameDuration is the analysis frame length in milliseconds.
const FrameDuration = 30

var validRates = []int{8000, 16000, 32000, 48000}

// Config selects detector aggressiveness and the speech threshold.
type Config struct {
	SampleRate  int
	Mode        int // 0 (least aggressive) .. 3
	MinSpeechMS int
}

// Gate wraps a WebRTC detector. Safe for concurrent use.
type Gate struct {
	mu         sync.Mutex
	vad        *webrtcvad.VAD
	sampleRate int
	frameSize  int
	minFrames  int
}

// New builds a gate for mono PCM at one of 8/16/32/48 kHz.
func New(cfg Config) (*Gate, error) {
	if !ValidRate(cfg.SampleRate) {
		return nil, fmt.Errorf("vad: invalid sample rate %d, must be one of %v", cfg.SampleRate, validRates)
	}
	if cfg.Mode < 0 || cfg.Mode > 3 {
		return nil, fmt.Errorf("vad: mode must be between 0 and 3, got %d", cfg.Mode)
	}
	if cfg.MinSpeechMS < 0 {
		return nil, fmt.Errorf("vad: min speech must be >= 0, got %d", cfg.MinSpeechMS)
	}

	detector, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("vad: create detector: %w", err)
	}
	if err := detector.SetMode(cfg.Mode); err != nil {
		return nil, fmt.Errorf("vad: set mode: %w", err)
	}

	minFrames := cfg.MinSpeechMS / FrameDuration
	if minFrames < 1 {
		minFrames = 1
	}
	return &Gate{
		vad:        detector,
		sampleRate: cfg.SampleRate,
		frameSize:  cfg.SampleRate * FrameDuration / 1000,
		minFrames:  minFrames,
	}, nil
}

// ValidRate reports whether the detector accepts the sample rate.
func ValidRate(rate int) bool {
	for _, r := range validRates {
		if r == rate {
			return true
		}
	}
	return false
}

// Speech reports whether the interleaved samples hold at least the configured
// amount of voiced audio. Multi-channel input is averaged down to mono.
func (g *Gate) Speech(samples []int16, channels int) (bool, error) {
	mono := downmix(samples, channels)
	if len(mono) < g.frameSize {
		padded := make([]int16, g.frameSize)
		copy(padded, mono)
		mono = padded
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	active := 0
	frame := make([]byte, 2*g.frameSize)
	for i := 0; i+g.frameSize <= len(mono); i += g.frameSize {
		for j, s := range mono[i : i+g.frameSize] {
			frame[2*j] = byte(s)
			frame[2*j+1] = byte(s >> 8)
		}
		voiced, err := g.vad.Process(g.sampleRate, frame)
		if err != nil {
			return false, fmt.Errorf("vad: process frame: %w", err)
		}
		if voiced {
			active++
			if active >= g.minFrames {
				return true, nil
			}
		}
	}
	return false, nil
}

func downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}
