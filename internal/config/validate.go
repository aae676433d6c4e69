package config

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// ConfigurationError reports a configuration value that prevents startup.
type ConfigurationError struct {
	Key     string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s %s", e.Key, e.Message)
}

func invalid(key string, format string, args ...any) error {
	return &ConfigurationError{Key: key, Message: fmt.Sprintf(format, args...)}
}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, invalid("log_level", "must be one of: debug, info, warn, error")
	}

	switch cfg.Audio.Backend {
	case "pulse", "portaudio":
	default:
		return nil, invalid("audio.backend", "must be one of: pulse, portaudio")
	}
	if cfg.Audio.SampleRate <= 0 {
		return nil, invalid("audio.sample_rate", "must be > 0")
	}
	if cfg.Audio.Channels <= 0 {
		return nil, invalid("audio.channels", "must be > 0")
	}
	if cfg.Audio.BlockSize <= 0 {
		return nil, invalid("audio.block_size", "must be > 0")
	}
	if cfg.Audio.BufferSeconds <= 0 || cfg.Audio.BufferFrames() <= 0 {
		return nil, invalid("audio.buffer_seconds", "must be > 0")
	}
	if cfg.Audio.OverlapSeconds < 0 {
		return nil, invalid("audio.overlap_seconds", "must be >= 0")
	}
	if cfg.Audio.OverlapFrames() >= cfg.Audio.BufferFrames() {
		return nil, invalid("audio.overlap_seconds", "must be smaller than audio.buffer_seconds")
	}
	if cfg.Audio.Backend == "pulse" && cfg.Audio.Channels > 2 {
		return nil, invalid("audio.channels", "must be 1 or 2 with the pulse backend")
	}
	if cfg.Audio.BlockSize > cfg.Audio.BufferFrames() {
		warnings = append(warnings, Warning{Message: fmt.Sprintf(
			"audio.block_size %d exceeds the %d-frame buffer; each block will flush more than once",
			cfg.Audio.BlockSize, cfg.Audio.BufferFrames(),
		)})
	}

	if strings.TrimSpace(cfg.Transcription.Model) == "" {
		return nil, invalid("transcription.model", "must not be empty")
	}
	if cfg.Transcription.Workers <= 0 {
		return nil, invalid("transcription.workers", "must be > 0")
	}
	if cfg.Transcription.QueueSize <= 0 {
		return nil, invalid("transcription.queue_size", "must be > 0")
	}
	if cfg.Transcription.TimeoutMS <= 0 {
		return nil, invalid("transcription.timeout_ms", "must be > 0")
	}
	if cfg.Transcription.DrainTimeoutMS <= 0 {
		return nil, invalid("transcription.drain_timeout_ms", "must be > 0")
	}

	if cfg.Extraction.Enable {
		if strings.TrimSpace(cfg.Extraction.Model) == "" {
			return nil, invalid("extraction.model", "must not be empty when extraction.enable=true")
		}
		if cfg.Extraction.TimeoutMS <= 0 {
			return nil, invalid("extraction.timeout_ms", "must be > 0")
		}
	}

	if strings.TrimSpace(cfg.OpenAI.APIKeyEnv) == "" {
		return nil, invalid("openai.api_key_env", "must not be empty")
	}
	if base := cfg.OpenAI.BaseURL; base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, invalid("openai.base_url", "must start with http:// or https://")
	}

	if cfg.VAD.Mode < 0 || cfg.VAD.Mode > 3 {
		return nil, invalid("vad.mode", "must be between 0 and 3")
	}
	if cfg.VAD.MinSpeechMS < 0 {
		return nil, invalid("vad.min_speech_ms", "must be >= 0")
	}
	if cfg.VAD.Enable {
		switch cfg.Audio.SampleRate {
		case 8000, 16000, 32000, 48000:
		default:
			return nil, invalid("audio.sample_rate", "must be 8000, 16000, 32000, or 48000 when vad.enable=true")
		}
	}

	if addr := cfg.Metrics.Listen; addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, invalid("metrics.listen", "must be host:port (%v)", err)
		}
	}

	if cfg.Vocab.MaxPhrases <= 0 {
		return nil, invalid("vocab.max_phrases", "must be > 0")
	}

	_, vocabWarnings, err := BuildPromptPhrases(cfg)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, vocabWarnings...)

	return warnings, nil
}

// BuildPromptPhrases merges enabled vocab sets into a deterministic phrase list,
// highest boost first.
func BuildPromptPhrases(cfg Config) ([]PromptPhrase, []Warning, error) {
	enabledSets := cfg.Vocab.GlobalSets
	if len(enabledSets) == 0 {
		return nil, nil, nil
	}

	type candidate struct {
		boost float64
		from  string
	}

	warnings := make([]Warning, 0)
	selected := make(map[string]candidate)

	for _, name := range enabledSets {
		set, ok := cfg.Vocab.Sets[name]
		if !ok {
			return nil, nil, invalid("vocab.global", "references unknown set %q", name)
		}
		for _, phrase := range set.Phrases {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			if existing, exists := selected[phrase]; exists {
				if set.Boost > existing.boost {
					warnings = append(warnings, Warning{Message: fmt.Sprintf("phrase %q present in %q and %q; using higher boost %.2f", phrase, existing.from, name, set.Boost)})
					selected[phrase] = candidate{boost: set.Boost, from: name}
				}
				continue
			}
			selected[phrase] = candidate{boost: set.Boost, from: name}
		}
	}

	if len(selected) > cfg.Vocab.MaxPhrases {
		return nil, nil, invalid("vocab.max_phrases", "exceeded: %d phrases selected, limit %d", len(selected), cfg.Vocab.MaxPhrases)
	}

	phrases := make([]PromptPhrase, 0, len(selected))
	for phrase, c := range selected {
		phrases = append(phrases, PromptPhrase{Phrase: phrase, Boost: c.boost})
	}

	sort.Slice(phrases, func(i, j int) bool {
		if phrases[i].Boost == phrases[j].Boost {
			return phrases[i].Phrase < phrases[j].Phrase
		}
		return phrases[i].Boost > phrases[j].Boost
	})

	return phrases, warnings, nil
}

// TranscriptionPrompt renders the enabled vocabulary as a comma-separated
// prompt hint. It is empty when no sets are enabled.
func TranscriptionPrompt(cfg Config) (string, error) {
	phrases, _, err := BuildPromptPhrases(cfg)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(phrases))
	for _, p := range phrases {
		parts = append(parts, p.Phrase)
	}
	return strings.Join(parts, ", "), nil
}
