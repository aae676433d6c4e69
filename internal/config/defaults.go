package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Backend:        "pulse",
			Input:          "default",
			Fallback:       "default",
			SampleRate:     16000,
			Channels:       1,
			BlockSize:      1024,
			BufferSeconds:  5,
			OverlapSeconds: 1,
		},
		Transcription: TranscriptionConfig{
			Model:          "whisper-1",
			Language:       "ko",
			Workers:        1,
			QueueSize:      32,
			TimeoutMS:      30000,
			DrainTimeoutMS: 60000,
		},
		Extraction: ExtractionConfig{
			Enable:    true,
			Model:     "gpt-4o",
			TimeoutMS: 60000,
		},
		OpenAI: OpenAIConfig{
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Vocab: VocabConfig{
			GlobalSets: nil,
			Sets:       map[string]VocabSet{},
			MaxPhrases: 64,
		},
		VAD: VADConfig{
			Enable:      false,
			Mode:        2,
			MinSpeechMS: 300,
		},
		Archive: ArchiveConfig{Enable: true},
		Debug:   DebugConfig{},
	}
}
