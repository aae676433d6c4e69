package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tailscale/hujson"
)

type jsoncConfig struct {
	LogLevel      *string             `json:"log_level"`
	Audio         *jsoncAudio         `json:"audio"`
	Transcription *jsoncTranscription `json:"transcription"`
	Extraction    *jsoncExtraction    `json:"extraction"`
	OpenAI        *jsoncOpenAI        `json:"openai"`
	Vocab         *jsoncVocab         `json:"vocab"`
	VAD           *jsoncVAD           `json:"vad"`
	Archive       *jsoncArchive       `json:"archive"`
	Metrics       *jsoncMetrics       `json:"metrics"`
	Debug         *jsoncDebug         `json:"debug"`
}

type jsoncAudio struct {
	Backend        *string  `json:"backend"`
	Input          *string  `json:"input"`
	Fallback       *string  `json:"fallback"`
	SampleRate     *int     `json:"sample_rate"`
	Channels       *int     `json:"channels"`
	BlockSize      *int     `json:"block_size"`
	BufferSeconds  *float64 `json:"buffer_seconds"`
	OverlapSeconds *float64 `json:"overlap_seconds"`
}

type jsoncTranscription struct {
	Model          *string `json:"model"`
	Language       *string `json:"language"`
	Workers        *int    `json:"workers"`
	QueueSize      *int    `json:"queue_size"`
	TimeoutMS      *int    `json:"timeout_ms"`
	DrainTimeoutMS *int    `json:"drain_timeout_ms"`
}

type jsoncExtraction struct {
	Enable    *bool   `json:"enable"`
	Model     *string `json:"model"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type jsoncOpenAI struct {
	APIKeyEnv *string `json:"api_key_env"`
	BaseURL   *string `json:"base_url"`
}

type jsoncVocab struct {
	Global     *jsoncStringList         `json:"global"`
	MaxPhrases *int                     `json:"max_phrases"`
	Sets       map[string]jsoncVocabSet `json:"sets"`
}

type jsoncVocabSet struct {
	Boost   *float64 `json:"boost"`
	Phrases []string `json:"phrases"`
}

type jsoncVAD struct {
	Enable      *bool `json:"enable"`
	Mode        *int  `json:"mode"`
	MinSpeechMS *int  `json:"min_speech_ms"`
}

type jsoncArchive struct {
	Enable *bool   `json:"enable"`
	Path   *string `json:"path"`
}

type jsoncMetrics struct {
	Listen *string `json:"listen"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := standardizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*payload.LogLevel))
	}

	if a := payload.Audio; a != nil {
		if a.Backend != nil {
			cfg.Audio.Backend = strings.ToLower(strings.TrimSpace(*a.Backend))
		}
		if a.Input != nil {
			cfg.Audio.Input = *a.Input
		}
		if a.Fallback != nil {
			cfg.Audio.Fallback = *a.Fallback
		}
		if a.SampleRate != nil {
			cfg.Audio.SampleRate = *a.SampleRate
		}
		if a.Channels != nil {
			cfg.Audio.Channels = *a.Channels
		}
		if a.BlockSize != nil {
			cfg.Audio.BlockSize = *a.BlockSize
		}
		if a.BufferSeconds != nil {
			cfg.Audio.BufferSeconds = *a.BufferSeconds
		}
		if a.OverlapSeconds != nil {
			cfg.Audio.OverlapSeconds = *a.OverlapSeconds
		}
	}

	if t := payload.Transcription; t != nil {
		if t.Model != nil {
			cfg.Transcription.Model = strings.TrimSpace(*t.Model)
		}
		if t.Language != nil {
			cfg.Transcription.Language = strings.TrimSpace(*t.Language)
		}
		if t.Workers != nil {
			cfg.Transcription.Workers = *t.Workers
		}
		if t.QueueSize != nil {
			cfg.Transcription.QueueSize = *t.QueueSize
		}
		if t.TimeoutMS != nil {
			cfg.Transcription.TimeoutMS = *t.TimeoutMS
		}
		if t.DrainTimeoutMS != nil {
			cfg.Transcription.DrainTimeoutMS = *t.DrainTimeoutMS
		}
	}

	if e := payload.Extraction; e != nil {
		if e.Enable != nil {
			cfg.Extraction.Enable = *e.Enable
		}
		if e.Model != nil {
			cfg.Extraction.Model = strings.TrimSpace(*e.Model)
		}
		if e.TimeoutMS != nil {
			cfg.Extraction.TimeoutMS = *e.TimeoutMS
		}
	}

	if o := payload.OpenAI; o != nil {
		if o.APIKeyEnv != nil {
			cfg.OpenAI.APIKeyEnv = strings.TrimSpace(*o.APIKeyEnv)
		}
		if o.BaseURL != nil {
			cfg.OpenAI.BaseURL = strings.TrimSpace(*o.BaseURL)
		}
	}

	if payload.Vocab != nil {
		if payload.Vocab.Global != nil {
			cfg.Vocab.GlobalSets = cfg.Vocab.GlobalSets[:0]
			for _, name := range *payload.Vocab.Global {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				cfg.Vocab.GlobalSets = append(cfg.Vocab.GlobalSets, name)
			}
		}
		if payload.Vocab.MaxPhrases != nil {
			cfg.Vocab.MaxPhrases = *payload.Vocab.MaxPhrases
		}
		if payload.Vocab.Sets != nil {
			if cfg.Vocab.Sets == nil {
				cfg.Vocab.Sets = make(map[string]VocabSet)
			}
			for name, set := range payload.Vocab.Sets {
				trimmedName := strings.TrimSpace(name)
				if trimmedName == "" {
					return nil, fmt.Errorf("vocab.sets contains an empty set name")
				}

				phrases := make([]string, 0, len(set.Phrases))
				phrases = append(phrases, set.Phrases...)

				entry := VocabSet{Name: trimmedName, Phrases: phrases}
				if set.Boost != nil {
					entry.Boost = *set.Boost
				}
				cfg.Vocab.Sets[trimmedName] = entry
			}
		}
	}

	if v := payload.VAD; v != nil {
		if v.Enable != nil {
			cfg.VAD.Enable = *v.Enable
		}
		if v.Mode != nil {
			cfg.VAD.Mode = *v.Mode
		}
		if v.MinSpeechMS != nil {
			cfg.VAD.MinSpeechMS = *v.MinSpeechMS
		}
	}

	if payload.Archive != nil {
		if payload.Archive.Enable != nil {
			cfg.Archive.Enable = *payload.Archive.Enable
		}
		if payload.Archive.Path != nil {
			cfg.Archive.Path = strings.TrimSpace(*payload.Archive.Path)
		}
	}

	if payload.Metrics != nil && payload.Metrics.Listen != nil {
		cfg.Metrics.Listen = strings.TrimSpace(*payload.Metrics.Listen)
	}

	if payload.Debug != nil && payload.Debug.AudioDump != nil {
		cfg.Debug.EnableAudioDump = *payload.Debug.AudioDump
	}

	return warnings, nil
}

// standardizeJSONC strips comments and trailing commas. hujson blanks them
// in place, so decoder offsets still point at the original lines.
func standardizeJSONC(content string) (string, error) {
	out, err := hujson.Standardize([]byte(content))
	if err != nil {
		return "", fmt.Errorf("invalid JSONC: %w", err)
	}
	return string(out), nil
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
