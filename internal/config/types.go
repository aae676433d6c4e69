// Package config resolves, parses, validates, and defaults stocklisten configuration.
package config

import (
	"math"
	"time"
)

// Config is the fully materialized runtime configuration used by stocklisten.
type Config struct {
	LogLevel      string
	Audio         AudioConfig
	Transcription TranscriptionConfig
	Extraction    ExtractionConfig
	OpenAI        OpenAIConfig
	Vocab         VocabConfig
	VAD           VADConfig
	Archive       ArchiveConfig
	Metrics       MetricsConfig
	Debug         DebugConfig
}

// AudioConfig controls capture backend, device selection, and windowing.
type AudioConfig struct {
	Backend        string
	Input          string
	Fallback       string
	SampleRate     int
	Channels       int
	BlockSize      int
	BufferSeconds  float64
	OverlapSeconds float64
}

// BufferFrames is the chunk length in frames.
func (a AudioConfig) BufferFrames() int {
	return int(math.Round(a.BufferSeconds * float64(a.SampleRate)))
}

// OverlapFrames is the carried-over tail length in frames.
func (a AudioConfig) OverlapFrames() int {
	return int(math.Round(a.OverlapSeconds * float64(a.SampleRate)))
}

// TranscriptionConfig controls the speech-to-text calls and worker pool.
type TranscriptionConfig struct {
	Model          string
	Language       string
	Workers        int
	QueueSize      int
	TimeoutMS      int
	DrainTimeoutMS int
}

func (t TranscriptionConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutMS) * time.Millisecond
}

func (t TranscriptionConfig) DrainTimeout() time.Duration {
	return time.Duration(t.DrainTimeoutMS) * time.Millisecond
}

// ExtractionConfig controls end-of-run instrument extraction.
type ExtractionConfig struct {
	Enable    bool
	Model     string
	TimeoutMS int
}

func (e ExtractionConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}

// OpenAIConfig locates API credentials and an optional endpoint override.
type OpenAIConfig struct {
	APIKeyEnv string
	BaseURL   string
}

// VocabConfig controls which phrase sets feed the transcription prompt.
type VocabConfig struct {
	GlobalSets []string
	Sets       map[string]VocabSet
	MaxPhrases int
}

// VocabSet is one named phrase group. Higher boost phrases are listed first.
type VocabSet struct {
	Name    string
	Boost   float64
	Phrases []string
}

// VADConfig controls the optional voice-activity gate.
type VADConfig struct {
	Enable      bool
	Mode        int
	MinSpeechMS int
}

// ArchiveConfig controls run persistence. An empty Path selects the state dir default.
type ArchiveConfig struct {
	Enable bool
	Path   string
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// PromptPhrase is one vocabulary entry in prompt order.
type PromptPhrase struct {
	Phrase string
	Boost  float64
}
