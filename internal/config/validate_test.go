package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	warnings, err := Validate(Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestBuildPromptPhrasesOrderedByBoostAndHighestBoostWins(t *testing.T) {
	cfg := Default()
	cfg.Vocab.GlobalSets = []string{"kospi", "semis"}
	cfg.Vocab.Sets["kospi"] = VocabSet{Name: "kospi", Boost: 10, Phrases: []string{"현대차", "삼성전자"}}
	cfg.Vocab.Sets["semis"] = VocabSet{Name: "semis", Boost: 20, Phrases: []string{"삼성전자", "SK하이닉스"}}

	phrases, warnings, err := BuildPromptPhrases(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Equal(t, []PromptPhrase{
		{Phrase: "SK하이닉스", Boost: 20},
		{Phrase: "삼성전자", Boost: 20},
		{Phrase: "현대차", Boost: 10},
	}, phrases)

	prompt, err := TranscriptionPrompt(cfg)
	require.NoError(t, err)
	require.Equal(t, "SK하이닉스, 삼성전자, 현대차", prompt)
}

func TestTranscriptionPromptEmptyWithoutSets(t *testing.T) {
	prompt, err := TranscriptionPrompt(Default())
	require.NoError(t, err)
	require.Empty(t, prompt)
}

func TestValidateMissingVocabSetReference(t *testing.T) {
	cfg := Default()
	cfg.Vocab.GlobalSets = []string{"missing"}

	_, err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown set")
}

func TestValidateMaxPhraseLimit(t *testing.T) {
	cfg := Default()
	cfg.Vocab.MaxPhrases = 1
	cfg.Vocab.GlobalSets = []string{"team"}
	cfg.Vocab.Sets["team"] = VocabSet{Name: "team", Boost: 10, Phrases: []string{"one", "two"}}

	_, err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeded")
}

func TestValidateRejectsInvalidCoreFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, wantErr: "log_level"},
		{name: "backend", mutate: func(c *Config) { c.Audio.Backend = "alsa" }, wantErr: "audio.backend"},
		{name: "sample rate", mutate: func(c *Config) { c.Audio.SampleRate = 0 }, wantErr: "audio.sample_rate"},
		{name: "channels", mutate: func(c *Config) { c.Audio.Channels = 0 }, wantErr: "audio.channels"},
		{name: "pulse surround", mutate: func(c *Config) { c.Audio.Channels = 6 }, wantErr: "pulse backend"},
		{name: "block size", mutate: func(c *Config) { c.Audio.BlockSize = -1 }, wantErr: "audio.block_size"},
		{name: "buffer seconds", mutate: func(c *Config) { c.Audio.BufferSeconds = 0 }, wantErr: "audio.buffer_seconds"},
		{name: "negative overlap", mutate: func(c *Config) { c.Audio.OverlapSeconds = -1 }, wantErr: "audio.overlap_seconds"},
		{name: "overlap equals buffer", mutate: func(c *Config) { c.Audio.OverlapSeconds = 5 }, wantErr: "smaller than"},
		{name: "empty model", mutate: func(c *Config) { c.Transcription.Model = " " }, wantErr: "transcription.model"},
		{name: "workers", mutate: func(c *Config) { c.Transcription.Workers = 0 }, wantErr: "transcription.workers"},
		{name: "queue size", mutate: func(c *Config) { c.Transcription.QueueSize = 0 }, wantErr: "transcription.queue_size"},
		{name: "timeout", mutate: func(c *Config) { c.Transcription.TimeoutMS = 0 }, wantErr: "transcription.timeout_ms"},
		{name: "drain timeout", mutate: func(c *Config) { c.Transcription.DrainTimeoutMS = -5 }, wantErr: "drain_timeout_ms"},
		{name: "extraction model", mutate: func(c *Config) { c.Extraction.Model = "" }, wantErr: "extraction.model"},
		{name: "api key env", mutate: func(c *Config) { c.OpenAI.APIKeyEnv = "" }, wantErr: "openai.api_key_env"},
		{name: "base url scheme", mutate: func(c *Config) { c.OpenAI.BaseURL = "api.openai.com" }, wantErr: "openai.base_url"},
		{name: "vad mode", mutate: func(c *Config) { c.VAD.Mode = 7 }, wantErr: "vad.mode"},
		{name: "vad rate", mutate: func(c *Config) {
			c.VAD.Enable = true
			c.Audio.SampleRate = 44100
		}, wantErr: "vad.enable"},
		{name: "metrics listen", mutate: func(c *Config) { c.Metrics.Listen = "9464" }, wantErr: "metrics.listen"},
		{name: "invalid max phrases", mutate: func(c *Config) { c.Vocab.MaxPhrases = 0 }, wantErr: "vocab.max_phrases"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)

			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestValidateDisabledExtractionSkipsModelCheck(t *testing.T) {
	cfg := Default()
	cfg.Extraction.Enable = false
	cfg.Extraction.Model = ""
	_, err := Validate(cfg)
	require.NoError(t, err)
}

func TestValidateWarnsWhenBlockExceedsBuffer(t *testing.T) {
	cfg := Default()
	cfg.Audio.BufferSeconds = 0.05
	cfg.Audio.OverlapSeconds = 0
	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "flush more than once")
}

func TestAudioFrameMath(t *testing.T) {
	audio := AudioConfig{SampleRate: 44100, BufferSeconds: 5, OverlapSeconds: 1}
	require.Equal(t, 220500, audio.BufferFrames())
	require.Equal(t, 44100, audio.OverlapFrames())

	audio = AudioConfig{SampleRate: 16000, BufferSeconds: 2.5, OverlapSeconds: 0.25}
	require.Equal(t, 40000, audio.BufferFrames())
	require.Equal(t, 4000, audio.OverlapFrames())
}
